package content

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/golang/geo/r3"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	i3sPosition     = "position"
	i3sNormal       = "normal"
	i3sUV0          = "uv0"
	i3sColor        = "color"
	i3sUVRegion     = "uvRegion"
	i3sFeatureID    = "featureId"
	i3sFaceRange    = "faceRange"
	i3sFeatureIndex = "feature-index"

	AttributeUVRegion = "UV_REGION"
	// Batch table property holding the I3S feature ids
	PropertyFeatureID = "featureId"

	// Prefix of the attachment keys of I3S attribute buffers, followed by the attribute key (f_0, f_1...)
	AttachmentI3SAttribute = "attribute:"
)

var i3sVersion17 = decimal.RequireFromString("1.7")

// Order of the 1.7 geometry buffer attributes
var i3sCanonicalOrder = []string{i3sPosition, i3sNormal, i3sUV0, i3sColor, i3sUVRegion, i3sFeatureID, i3sFaceRange}

// I3SField is one typed field of a geometry or attribute buffer
type I3SField struct {
	Name       string
	ValueType  string
	Components int
}

// Returns the WebGL component type of an I3S value type. 64 bit integers are widened to Double.
func i3sComponentType(valueType string) (ComponentType, int, bool) {
	switch valueType {
	case "Int8":
		return Byte, 1, true
	case "UInt8":
		return UnsignedByte, 1, true
	case "Int16":
		return Short, 2, true
	case "UInt16":
		return UnsignedShort, 2, true
	case "Int32":
		return Int, 4, true
	case "UInt32", "Oid32":
		return UnsignedInt, 4, true
	case "Float32":
		return Float, 4, true
	case "Float64":
		return Double, 8, true
	case "Int64", "UInt64", "Oid64":
		return Double, 8, true
	}
	return 0, 0, false
}

func (f I3SField) byteSize() int {
	_, size, _ := i3sComponentType(f.ValueType)
	return size * f.Components
}

// I3SCompressedGeometry describes the compressed geometry buffer of a 1.7 layer
type I3SCompressedGeometry struct {
	Encoding   string
	Attributes []string
}

// I3SAttributeStorage describes one attribute buffer of the layer
type I3SAttributeStorage struct {
	Key        string
	Name       string
	ValueType  string
	Components int
}

// I3SLayout is the geometry layout of a scene layer, shared by all its nodes.
// Origin and UseCompressed are per node, see ForNode.
type I3SLayout struct {
	Version           string
	HeaderSize        int
	HeaderFields      []I3SField
	VertexAttributes  []I3SField
	FeatureAttributes []I3SField
	Compressed        *I3SCompressedGeometry
	Attributes        []I3SAttributeStorage
	Srid              int
	// Node center, positions are offsets from it
	Origin        geometry.Cartographic
	UseCompressed bool
}

// Returns the layout of a node centered at origin. compressed selects the compressed geometry buffer.
func (l *I3SLayout) ForNode(origin geometry.Cartographic, compressed bool) *I3SLayout {
	node := *l
	node.Origin = origin
	node.UseCompressed = compressed && l.Compressed != nil
	return &node
}

func (l *I3SLayout) Geographic() bool {
	return l.Srid == 0 || converters.IsGeographic(l.Srid)
}

// Codec name of the compressed geometry buffer
func (l *I3SLayout) CodecName() string {
	if l.Compressed == nil {
		return ""
	}
	if strings.EqualFold(l.Compressed.Encoding, "draco") {
		return DracoCodecName
	}
	return l.Compressed.Encoding
}

func defaultI3SLayout() *I3SLayout {
	return &I3SLayout{
		Version:    "1.7",
		HeaderSize: 8,
		HeaderFields: []I3SField{
			{Name: "vertexCount", ValueType: "UInt32", Components: 1},
			{Name: "featureCount", ValueType: "UInt32", Components: 1},
		},
		VertexAttributes: []I3SField{
			{Name: i3sPosition, ValueType: "Float32", Components: 3},
			{Name: i3sNormal, ValueType: "Float32", Components: 3},
			{Name: i3sUV0, ValueType: "Float32", Components: 2},
			{Name: i3sColor, ValueType: "UInt8", Components: 4},
		},
		FeatureAttributes: []I3SField{
			{Name: i3sFeatureID, ValueType: "UInt64", Components: 1},
			{Name: i3sFaceRange, ValueType: "UInt32", Components: 2},
		},
		Srid: converters.SridWGS84Geographic,
	}
}

type i3sValueDescriptor struct {
	ValueType        string `json:"valueType"`
	Type             string `json:"type"`
	ValuesPerElement int    `json:"valuesPerElement"`
	Component        int    `json:"component"`
}

func (d i3sValueDescriptor) field(name string) I3SField {
	valueType := d.ValueType
	if valueType == "" {
		valueType = d.Type
	}
	components := d.ValuesPerElement
	if components == 0 {
		components = d.Component
	}
	if components == 0 {
		components = 1
	}
	return I3SField{Name: name, ValueType: valueType, Components: components}
}

type i3sManifest struct {
	Version string `json:"version"`
	Store   struct {
		Version               string `json:"version"`
		DefaultGeometrySchema *struct {
			Header []struct {
				Property string `json:"property"`
				Type     string `json:"type"`
			} `json:"header"`
			Ordering              []string                      `json:"ordering"`
			VertexAttributes      map[string]i3sValueDescriptor `json:"vertexAttributes"`
			FeatureAttributeOrder []string                      `json:"featureAttributeOrder"`
			FeatureAttributes     map[string]i3sValueDescriptor `json:"featureAttributes"`
		} `json:"defaultGeometrySchema"`
	} `json:"store"`
	SpatialReference struct {
		Wkid       int `json:"wkid"`
		LatestWkid int `json:"latestWkid"`
	} `json:"spatialReference"`
	GeometryDefinitions []struct {
		GeometryBuffers []map[string]json.RawMessage `json:"geometryBuffers"`
	} `json:"geometryDefinitions"`
	AttributeStorageInfo []struct {
		Key             string             `json:"key"`
		Name            string             `json:"name"`
		AttributeValues i3sValueDescriptor `json:"attributeValues"`
	} `json:"attributeStorageInfo"`
}

// Parses the geometry layout of a 3dSceneLayer document, version 1.6 or 1.7
func ParseI3SLayout(manifest []byte) (*I3SLayout, error) {
	var doc i3sManifest
	if err := unmarshalJSONHeader(manifest, &doc); err != nil {
		return nil, wrapDecodeError(FormatI3S, CorruptBuffer, err, "invalid scene layer document")
	}
	layout := defaultI3SLayout()
	if doc.SpatialReference.LatestWkid != 0 {
		layout.Srid = doc.SpatialReference.LatestWkid
	} else if doc.SpatialReference.Wkid != 0 {
		layout.Srid = doc.SpatialReference.Wkid
	}

	version := doc.Store.Version
	if version == "" {
		version = doc.Version
	}
	// 1.6 layers may carry both schemas, the store version decides
	legacy := len(doc.GeometryDefinitions) == 0
	if v, err := decimal.NewFromString(version); err == nil && v.LessThan(i3sVersion17) {
		legacy = true
	}
	schema := doc.Store.DefaultGeometrySchema

	var err error
	if !legacy || schema == nil {
		if len(doc.GeometryDefinitions) > 0 {
			err = layout.parseGeometryDefinition(doc.GeometryDefinitions[0].GeometryBuffers)
		}
	} else {
		layout.Version = "1.6"
		layout.Compressed = nil
		if len(schema.Header) > 0 {
			layout.HeaderFields = nil
			layout.HeaderSize = 0
			for _, h := range schema.Header {
				field := I3SField{Name: h.Property, ValueType: h.Type, Components: 1}
				layout.HeaderFields = append(layout.HeaderFields, field)
				layout.HeaderSize += field.byteSize()
			}
		}
		if len(schema.Ordering) > 0 {
			layout.VertexAttributes = nil
			for _, name := range schema.Ordering {
				layout.VertexAttributes = append(layout.VertexAttributes, schema.VertexAttributes[name].field(name))
			}
		}
		if len(schema.FeatureAttributeOrder) > 0 {
			layout.FeatureAttributes = nil
			for _, name := range schema.FeatureAttributeOrder {
				if name == "id" {
					layout.FeatureAttributes = append(layout.FeatureAttributes, schema.FeatureAttributes[name].field(i3sFeatureID))
					continue
				}
				layout.FeatureAttributes = append(layout.FeatureAttributes, schema.FeatureAttributes[name].field(name))
			}
		}
	}
	if err != nil {
		return nil, err
	}

	for _, info := range doc.AttributeStorageInfo {
		field := info.AttributeValues.field(info.Name)
		layout.Attributes = append(layout.Attributes, I3SAttributeStorage{
			Key:        info.Key,
			Name:       info.Name,
			ValueType:  field.ValueType,
			Components: field.Components,
		})
	}
	if err := layout.validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

func (l *I3SLayout) parseGeometryDefinition(buffers []map[string]json.RawMessage) error {
	for _, buffer := range buffers {
		if raw, ok := buffer["compressedAttributes"]; ok {
			var compressed struct {
				Encoding   string   `json:"encoding"`
				Attributes []string `json:"attributes"`
			}
			if err := json.Unmarshal(raw, &compressed); err != nil {
				return wrapDecodeError(FormatI3S, CorruptBuffer, err, "invalid compressedAttributes")
			}
			l.Compressed = &I3SCompressedGeometry{Encoding: compressed.Encoding, Attributes: compressed.Attributes}
			continue
		}
		if raw, ok := buffer["offset"]; ok {
			if err := json.Unmarshal(raw, &l.HeaderSize); err != nil {
				return wrapDecodeError(FormatI3S, CorruptBuffer, err, "invalid geometry buffer offset")
			}
		}
		l.VertexAttributes = nil
		l.FeatureAttributes = nil
		for _, name := range i3sCanonicalOrder {
			raw, ok := buffer[name]
			if !ok {
				continue
			}
			var d struct {
				i3sValueDescriptor
				Binding string `json:"binding"`
			}
			if err := json.Unmarshal(raw, &d); err != nil {
				return wrapDecodeError(FormatI3S, CorruptBuffer, err, "invalid geometry attribute %s", name)
			}
			if d.Binding == "per-feature" || name == i3sFeatureID || name == i3sFaceRange {
				l.FeatureAttributes = append(l.FeatureAttributes, d.field(name))
			} else {
				l.VertexAttributes = append(l.VertexAttributes, d.field(name))
			}
		}
	}
	return nil
}

func (l *I3SLayout) validate() error {
	fields := append(append(append([]I3SField{}, l.HeaderFields...), l.VertexAttributes...), l.FeatureAttributes...)
	for _, f := range fields {
		if _, _, ok := i3sComponentType(f.ValueType); !ok {
			return newDecodeError(FormatI3S, UnsupportedFormat, "field %s has unsupported value type %q", f.Name, f.ValueType)
		}
	}
	return nil
}

// Reads one I3S value, widening 64 bit integers
func readI3SValues(data []byte, offset int, field I3SField, count int) (*TypedArray, error) {
	componentType, size, _ := i3sComponentType(field.ValueType)
	if size == 8 && componentType == Double && field.ValueType != "Float64" {
		n := count * field.Components
		if offset < 0 || offset+n*8 > len(data) {
			return nil, newDecodeError(FormatI3S, CorruptBuffer, "%s [%d:%d] exceeds buffer of %d bytes", field.Name, offset, offset+n*8, len(data))
		}
		arr := NewTypedArray(Double, field.Components, count)
		for i := 0; i < n; i++ {
			raw := binary.LittleEndian.Uint64(data[offset+i*8:])
			var v float64
			if field.ValueType == "Int64" {
				v = float64(int64(raw))
			} else {
				v = float64(raw)
			}
			binary.LittleEndian.PutUint64(arr.Data[i*8:], math.Float64bits(v))
		}
		return arr, nil
	}
	arr, err := ReadTypedArray(data, offset, 0, componentType, field.Components, count)
	if err != nil {
		return nil, wrapDecodeError(FormatI3S, CorruptBuffer, err, "%s", field.Name)
	}
	return arr, nil
}

func decodeI3s(data []byte, opts *DecodeOptions) (*TileContent, error) {
	layout := opts.I3S
	if layout == nil {
		layout = defaultI3SLayout()
	}
	mesh := NewMesh(ModeTriangles)
	featureCount := 0
	var featureIDs *TypedArray
	var err error

	if layout.UseCompressed {
		featureCount, err = decodeI3sCompressed(data, layout, opts, mesh)
	} else {
		featureCount, featureIDs, err = decodeI3sPlain(data, layout, mesh)
	}
	if err != nil {
		return nil, err
	}
	if err := layout.toFixedFrame(mesh); err != nil {
		return nil, err
	}

	batchTable := NewBatchTable(featureCount)
	if featureIDs != nil {
		batchTable.Properties[PropertyFeatureID] = &BatchProperty{Name: PropertyFeatureID, Binary: featureIDs}
	}
	if err := readI3SAttributeBuffers(layout, opts.Attachments, batchTable); err != nil {
		return nil, err
	}

	return &TileContent{
		Format:       FormatI3S,
		Meshes:       []*Mesh{mesh},
		BatchTable:   batchTable,
		FeatureCount: featureCount,
		RTCCenter:    layout.Origin.ToECEF(),
	}, nil
}

func decodeI3sPlain(data []byte, layout *I3SLayout, mesh *Mesh) (int, *TypedArray, error) {
	if len(data) < layout.HeaderSize {
		return 0, nil, newDecodeError(FormatI3S, MalformedHeader, "geometry buffer of %d bytes is shorter than the %d bytes header", len(data), layout.HeaderSize)
	}
	vertexCount, featureCount := -1, 0
	offset := 0
	for _, field := range layout.HeaderFields {
		arr, err := readI3SValues(data, offset, field, 1)
		if err != nil {
			return 0, nil, err
		}
		switch field.Name {
		case "vertexCount":
			vertexCount = int(arr.Float64(0))
		case "featureCount":
			featureCount = int(arr.Float64(0))
		}
		offset += field.byteSize()
	}
	if vertexCount < 0 {
		return 0, nil, newDecodeError(FormatI3S, MalformedHeader, "geometry header has no vertexCount")
	}
	offset = layout.HeaderSize

	for _, field := range layout.VertexAttributes {
		arr, err := readI3SValues(data, offset, field, vertexCount)
		if err != nil {
			return 0, nil, err
		}
		offset += arr.ByteLength()
		switch field.Name {
		case i3sPosition:
			mesh.Attributes[AttributePosition] = arr.ToFloat32()
		case i3sNormal:
			mesh.Attributes[AttributeNormal] = arr.ToFloat32()
		case i3sUV0:
			mesh.Attributes[AttributeTexCoord] = arr.ToFloat32()
		case i3sColor:
			arr.Normalized = true
			mesh.Attributes[AttributeColor] = arr.ToFloat32()
		case i3sUVRegion:
			mesh.Attributes[AttributeUVRegion] = arr
		}
	}

	var featureIDs, faceRanges *TypedArray
	for _, field := range layout.FeatureAttributes {
		arr, err := readI3SValues(data, offset, field, featureCount)
		if err != nil {
			return 0, nil, err
		}
		offset += field.byteSize() * featureCount
		switch field.Name {
		case i3sFeatureID:
			featureIDs = arr
		case i3sFaceRange:
			faceRanges = arr
		}
	}
	if _, ok := mesh.Attributes[AttributePosition]; !ok {
		return 0, nil, newDecodeError(FormatI3S, MissingAttribute, "geometry buffer has no position")
	}
	if faceRanges != nil {
		ids, err := batchIDsFromFaceRanges(faceRanges, vertexCount)
		if err != nil {
			return 0, nil, err
		}
		mesh.Attributes[AttributeBatchID] = ids
	}
	return featureCount, featureIDs, nil
}

// Expands the [first, last] triangle ranges of every feature into per vertex feature indices
func batchIDsFromFaceRanges(faceRanges *TypedArray, vertexCount int) (*TypedArray, error) {
	values := make([]float32, vertexCount)
	for f := 0; f < faceRanges.Count; f++ {
		first, last := int(faceRanges.At(f, 0)), int(faceRanges.At(f, 1))
		if first > last || last*3+2 >= vertexCount {
			return nil, newDecodeError(FormatI3S, CorruptBuffer, "face range [%d, %d] of feature %d exceeds %d vertices", first, last, f, vertexCount)
		}
		for v := first * 3; v <= last*3+2; v++ {
			values[v] = float32(f)
		}
	}
	return NewFloat32Array(values, 1), nil
}

func decodeI3sCompressed(data []byte, layout *I3SLayout, opts *DecodeOptions, mesh *Mesh) (int, error) {
	if !opts.EnableCompressedGeometry {
		return 0, newDecodeError(FormatI3S, UnsupportedCodec, "compressed geometry is disabled")
	}
	geometryCodec, err := opts.codecs().Lookup(layout.CodecName())
	if err != nil {
		return 0, wrapDecodeError(FormatI3S, UnsupportedCodec, err, "compressed geometry")
	}
	decoded, err := geometryCodec.Decode(data)
	if err != nil {
		return 0, wrapDecodeError(FormatI3S, CorruptBuffer, err, "%s payload", layout.CodecName())
	}
	featureCount := 0
	for _, attr := range decoded.Attributes {
		values := make([]float32, len(attr.Values))
		for i, v := range attr.Values {
			values[i] = float32(v)
		}
		switch attr.Name {
		case i3sPosition:
			mesh.Attributes[AttributePosition] = NewFloat32Array(values, attr.Components)
		case i3sNormal:
			mesh.Attributes[AttributeNormal] = NewFloat32Array(values, attr.Components)
		case i3sUV0:
			mesh.Attributes[AttributeTexCoord] = NewFloat32Array(values, attr.Components)
		case i3sColor:
			for i, v := range attr.Values {
				values[i] = float32(v / 255)
			}
			mesh.Attributes[AttributeColor] = NewFloat32Array(values, attr.Components)
		case i3sUVRegion:
			u16 := make([]uint16, len(attr.Values))
			for i, v := range attr.Values {
				u16[i] = uint16(v)
			}
			mesh.Attributes[AttributeUVRegion] = NewUint16Array(u16, attr.Components)
		case i3sFeatureIndex:
			for _, v := range attr.Values {
				if int(v)+1 > featureCount {
					featureCount = int(v) + 1
				}
			}
			mesh.Attributes[AttributeBatchID] = NewFloat32Array(values, 1)
		}
	}
	if _, ok := mesh.Attributes[AttributePosition]; !ok {
		return 0, newDecodeError(FormatI3S, MissingAttribute, "compressed geometry has no position")
	}
	// compressed buffers of 1.7 layers are indexed, expand to the non indexed layout of the plain buffer
	if len(decoded.Indices) > 0 {
		for name, attr := range mesh.Attributes {
			mesh.Attributes[name] = expandIndexed(attr, decoded.Indices)
		}
	}
	return featureCount, nil
}

func expandIndexed(attr *TypedArray, indices []uint32) *TypedArray {
	elementSize := attr.ComponentType.Size() * attr.Components
	out := NewTypedArray(attr.ComponentType, attr.Components, len(indices))
	out.Normalized = attr.Normalized
	for i, index := range indices {
		copy(out.Data[i*elementSize:(i+1)*elementSize], attr.Data[int(index)*elementSize:(int(index)+1)*elementSize])
	}
	return out
}

// Converts positions, offsets from the node center, to ECEF offsets from the node center.
// Geographic layers store longitude and latitude offsets in degrees, projected layers local meters.
func (l *I3SLayout) toFixedFrame(mesh *Mesh) error {
	positions := mesh.Attributes[AttributePosition]
	if positions.Components != 3 {
		return newDecodeError(FormatI3S, CorruptBuffer, "position has %d components", positions.Components)
	}
	center := l.Origin.ToECEF()
	enu := geometry.EastNorthUpToFixedFrame(center)
	values := make([]float32, positions.Len())
	for i := 0; i < positions.Count; i++ {
		offset := r3.Vector{X: positions.At(i, 0), Y: positions.At(i, 1), Z: positions.At(i, 2)}
		var p r3.Vector
		if l.Geographic() {
			p = geometry.Cartographic{
				Longitude: l.Origin.Longitude + geometry.DegToRad(offset.X),
				Latitude:  l.Origin.Latitude + geometry.DegToRad(offset.Y),
				Height:    l.Origin.Height + offset.Z,
			}.ToECEF().Sub(center)
		} else {
			p = enu.MultiplyDirection(offset)
		}
		values[i*3], values[i*3+1], values[i*3+2] = float32(p.X), float32(p.Y), float32(p.Z)
	}
	mesh.Attributes[AttributePosition] = NewFloat32Array(values, 3)
	return nil
}

// Reads the attribute buffers attached to the request into batch table properties
func readI3SAttributeBuffers(layout *I3SLayout, attachments map[string][]byte, bt *BatchTable) error {
	for _, info := range layout.Attributes {
		data, ok := attachments[AttachmentI3SAttribute+info.Key]
		if !ok {
			continue
		}
		property, err := readI3SAttributeBuffer(info, data)
		if err != nil {
			return err
		}
		bt.Properties[info.Name] = property
	}
	return nil
}

// Attribute buffer: UInt32 count, for strings UInt32 total byte count and UInt32 byte counts,
// then the values aligned to their element size
func readI3SAttributeBuffer(info I3SAttributeStorage, data []byte) (*BatchProperty, error) {
	if len(data) < 4 {
		return nil, newDecodeError(FormatI3S, MalformedHeader, "attribute %s buffer of %d bytes", info.Key, len(data))
	}
	count := int(binary.LittleEndian.Uint32(data))
	property := &BatchProperty{Name: info.Name}

	if info.ValueType == "String" {
		if len(data) < 8+count*4 {
			return nil, newDecodeError(FormatI3S, CorruptBuffer, "attribute %s has %d strings in %d bytes", info.Key, count, len(data))
		}
		offset := 8 + count*4
		property.Inline = make([]interface{}, count)
		for i := 0; i < count; i++ {
			n := int(binary.LittleEndian.Uint32(data[8+i*4:]))
			if offset+n > len(data) {
				return nil, newDecodeError(FormatI3S, CorruptBuffer, "attribute %s string %d exceeds the buffer", info.Key, i)
			}
			property.Inline[i] = strings.TrimRight(string(data[offset:offset+n]), "\x00")
			offset += n
		}
		return property, nil
	}

	field := I3SField{Name: info.Name, ValueType: info.ValueType, Components: info.Components}
	_, size, ok := i3sComponentType(info.ValueType)
	if !ok {
		return nil, newDecodeError(FormatI3S, UnsupportedFormat, "attribute %s has unsupported value type %q", info.Key, info.ValueType)
	}
	offset := 4
	offset += (size - offset%size) % size
	arr, err := readI3SValues(data, offset, field, count)
	if err != nil {
		return nil, err
	}
	property.Binary = arr
	return property, nil
}
