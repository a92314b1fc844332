package content

import (
	"github.com/ecopia-map/cesium_streamer/internal/codec"
	json "github.com/goccy/go-json"
)

const (
	pntsHeaderSize = 28

	ExtensionDracoPoints = "3DTILES_draco_point_compression"
)

// Compressed point extension, either draco or a named codec of the registry
type pntsCompressedExtension struct {
	Codec      string `json:"codec"`
	ByteOffset int    `json:"byteOffset"`
	ByteLength int    `json:"byteLength"`
}

type pointCloud struct {
	ft     *FeatureTable
	count  int
	opts   *DecodeOptions
	mesh   *Mesh
	hasIDs bool
}

func decodePnts(data []byte, opts *DecodeOptions) (*TileContent, error) {
	h, err := readTableHeader(FormatPNTS, data, "pnts", pntsHeaderSize)
	if err != nil {
		return nil, err
	}
	ftJSON, ftBin, btJSON, btBin, _, err := h.sections(FormatPNTS, data)
	if err != nil {
		return nil, err
	}
	ft, err := parseFeatureTable(FormatPNTS, ftJSON, ftBin)
	if err != nil {
		return nil, err
	}
	count, ok, err := ft.GlobalInt("POINTS_LENGTH")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newDecodeError(FormatPNTS, MissingAttribute, "feature table has no POINTS_LENGTH")
	}
	rtc, err := readRTCCenter(ft)
	if err != nil {
		return nil, err
	}

	pc := &pointCloud{ft: ft, count: count, opts: opts, mesh: NewMesh(ModePoints)}
	compressed, err := pc.decodeCompressed()
	if err != nil {
		return nil, err
	}
	if !compressed {
		if err := pc.decodePlain(); err != nil {
			return nil, err
		}
	}
	if err := pc.checkCounts(); err != nil {
		return nil, err
	}

	featureCount := 0
	if pc.hasIDs {
		batchLength, ok, err := ft.GlobalInt("BATCH_LENGTH")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newDecodeError(FormatPNTS, MissingAttribute, "BATCH_ID requires BATCH_LENGTH")
		}
		featureCount = batchLength
	} else if len(trimJSONPadding(btJSON)) > 0 {
		// per point properties
		featureCount = count
	}
	batchTable, err := ParseBatchTable(FormatPNTS, btJSON, btBin, featureCount)
	if err != nil {
		return nil, err
	}

	return &TileContent{
		Format:       FormatPNTS,
		Meshes:       []*Mesh{pc.mesh},
		BatchTable:   batchTable,
		FeatureCount: featureCount,
		RTCCenter:    rtc,
	}, nil
}

func (pc *pointCloud) decodePlain() error {
	if err := pc.readPositions(); err != nil {
		return err
	}
	if err := pc.readColors(); err != nil {
		return err
	}
	if err := pc.readNormals(); err != nil {
		return err
	}
	ids, ok, err := pc.ft.Property("BATCH_ID", pc.count, 1, UnsignedShort)
	if err != nil {
		return err
	}
	if ok {
		pc.mesh.Attributes[AttributeBatchID] = ids
		pc.hasIDs = true
	}
	return nil
}

func (pc *pointCloud) readPositions() error {
	positions, ok, err := pc.ft.Property("POSITION", pc.count, 3, Float)
	if err != nil {
		return err
	}
	if ok {
		pc.mesh.Attributes[AttributePosition] = positions.ToFloat32()
		return nil
	}
	quantized, ok, err := pc.ft.Property("POSITION_QUANTIZED", pc.count, 3, UnsignedShort)
	if err != nil {
		return err
	}
	if !ok {
		return newDecodeError(FormatPNTS, MissingAttribute, "feature table has neither POSITION nor POSITION_QUANTIZED")
	}
	offset, okOffset, err := pc.ft.GlobalFloats("QUANTIZED_VOLUME_OFFSET", 3)
	if err != nil {
		return err
	}
	scale, okScale, err := pc.ft.GlobalFloats("QUANTIZED_VOLUME_SCALE", 3)
	if err != nil {
		return err
	}
	if !okOffset || !okScale {
		return newDecodeError(FormatPNTS, MissingAttribute, "POSITION_QUANTIZED requires QUANTIZED_VOLUME_OFFSET and QUANTIZED_VOLUME_SCALE")
	}
	values := make([]float32, quantized.Len())
	for i := range values {
		c := i % 3
		values[i] = float32(offset[c] + quantized.Float64(i)/65535*scale[c])
	}
	pc.mesh.Attributes[AttributePosition] = NewFloat32Array(values, 3)
	return nil
}

// Colors are unpacked to normalized float RGBA
func (pc *pointCloud) readColors() error {
	values := make([]float32, pc.count*4)
	if rgba, ok, err := pc.ft.Property("RGBA", pc.count, 4, UnsignedByte); err != nil {
		return err
	} else if ok {
		for i := range values {
			values[i] = float32(rgba.Float64(i) / 255)
		}
		pc.mesh.Attributes[AttributeColor] = NewFloat32Array(values, 4)
		return nil
	}
	if rgb, ok, err := pc.ft.Property("RGB", pc.count, 3, UnsignedByte); err != nil {
		return err
	} else if ok {
		for i := 0; i < pc.count; i++ {
			for c := 0; c < 3; c++ {
				values[i*4+c] = float32(rgb.At(i, c) / 255)
			}
			values[i*4+3] = 1
		}
		pc.mesh.Attributes[AttributeColor] = NewFloat32Array(values, 4)
		return nil
	}
	if rgb565, ok, err := pc.ft.Property("RGB565", pc.count, 1, UnsignedShort); err != nil {
		return err
	} else if ok {
		for i := 0; i < pc.count; i++ {
			v := uint16(rgb565.Float64(i))
			values[i*4] = float32((v>>11)&0x1f) / 31
			values[i*4+1] = float32((v>>5)&0x3f) / 63
			values[i*4+2] = float32(v&0x1f) / 31
			values[i*4+3] = 1
		}
		pc.mesh.Attributes[AttributeColor] = NewFloat32Array(values, 4)
		return nil
	}
	constant, ok, err := pc.constantColor()
	if err != nil || !ok {
		return err
	}
	for i := 0; i < pc.count; i++ {
		copy(values[i*4:], constant[:])
	}
	pc.mesh.Attributes[AttributeColor] = NewFloat32Array(values, 4)
	return nil
}

func (pc *pointCloud) constantColor() ([4]float32, bool, error) {
	var out [4]float32
	raw, ok := pc.ft.JSON["CONSTANT_RGBA"]
	if !ok {
		return out, false, nil
	}
	var values []float64
	if err := json.Unmarshal(raw, &values); err != nil || len(values) != 4 {
		return out, true, newDecodeError(FormatPNTS, CorruptBuffer, "CONSTANT_RGBA must be an array of 4 bytes")
	}
	for i, v := range values {
		out[i] = float32(v / 255)
	}
	return out, true, nil
}

func (pc *pointCloud) readNormals() error {
	normals, ok, err := pc.ft.Property("NORMAL", pc.count, 3, Float)
	if err != nil {
		return err
	}
	if ok {
		pc.mesh.Attributes[AttributeNormal] = normals.ToFloat32()
		return nil
	}
	oct, ok, err := pc.ft.Property("NORMAL_OCT16P", pc.count, 2, UnsignedByte)
	if err != nil || !ok {
		return err
	}
	values := make([]float32, pc.count*3)
	for i := 0; i < pc.count; i++ {
		n := octDecode(oct.At(i, 0), oct.At(i, 1), 255)
		values[i*3], values[i*3+1], values[i*3+2] = float32(n.X), float32(n.Y), float32(n.Z)
	}
	pc.mesh.Attributes[AttributeNormal] = NewFloat32Array(values, 3)
	return nil
}

// Decodes the point attributes through a geometry codec when the feature table declares a compression extension.
// Returns false when the plain properties must be used instead.
func (pc *pointCloud) decodeCompressed() (bool, error) {
	var ext pntsCompressedExtension
	raw, ok := pc.ft.Extension(ExtensionCompressedGeometry)
	if ok {
		if err := json.Unmarshal(raw, &ext); err != nil {
			return false, wrapDecodeError(FormatPNTS, CorruptBuffer, err, "invalid %s extension", ExtensionCompressedGeometry)
		}
	} else if raw, ok = pc.ft.Extension(ExtensionDracoPoints); ok {
		if err := json.Unmarshal(raw, &ext); err != nil {
			return false, wrapDecodeError(FormatPNTS, CorruptBuffer, err, "invalid %s extension", ExtensionDracoPoints)
		}
		ext.Codec = DracoCodecName
	} else {
		return false, nil
	}

	plainAvailable := pc.ft.Has("POSITION") || pc.ft.Has("POSITION_QUANTIZED")
	if !pc.opts.EnableCompressedGeometry {
		if plainAvailable {
			return false, nil
		}
		return false, newDecodeError(FormatPNTS, UnsupportedCodec, "compressed geometry is disabled and the point cloud has no plain positions")
	}
	geometryCodec, err := pc.opts.codecs().Lookup(ext.Codec)
	if err != nil {
		if plainAvailable {
			return false, nil
		}
		return false, wrapDecodeError(FormatPNTS, UnsupportedCodec, err, "point cloud requires codec %s", ext.Codec)
	}
	end := ext.ByteOffset + ext.ByteLength
	if ext.ByteOffset < 0 || ext.ByteLength < 0 || end > len(pc.ft.Binary) {
		return false, newDecodeError(FormatPNTS, CorruptBuffer, "compressed range [%d:%d] exceeds the feature table binary of %d bytes", ext.ByteOffset, end, len(pc.ft.Binary))
	}
	mesh, err := geometryCodec.Decode(pc.ft.Binary[ext.ByteOffset:end])
	if err != nil {
		return false, wrapDecodeError(FormatPNTS, CorruptBuffer, err, "%s payload", ext.Codec)
	}
	pc.applyCodecMesh(mesh)
	return true, nil
}

// Maps codec attributes named after feature table properties to the decoded attribute names
func (pc *pointCloud) applyCodecMesh(mesh *codec.Mesh) {
	for _, attr := range mesh.Attributes {
		switch attr.Name {
		case "RGB", "RGBA":
			values := make([]float32, attr.Count()*4)
			for i := 0; i < attr.Count(); i++ {
				values[i*4+3] = 1
				for c := 0; c < attr.Components; c++ {
					values[i*4+c] = float32(attr.Values[i*attr.Components+c] / 255)
				}
			}
			pc.mesh.Attributes[AttributeColor] = NewFloat32Array(values, 4)
		case "BATCH_ID", AttributeBatchID:
			values := make([]float32, len(attr.Values))
			for i, v := range attr.Values {
				values[i] = float32(v)
			}
			pc.mesh.Attributes[AttributeBatchID] = NewFloat32Array(values, 1)
			pc.hasIDs = true
		default:
			values := make([]float32, len(attr.Values))
			for i, v := range attr.Values {
				values[i] = float32(v)
			}
			pc.mesh.Attributes[normalizeSemantic(attr.Name)] = NewFloat32Array(values, attr.Components)
		}
	}
}

func (pc *pointCloud) checkCounts() error {
	for name, attr := range pc.mesh.Attributes {
		if attr.Count != pc.count {
			return newDecodeError(FormatPNTS, CorruptBuffer, "attribute %s has %d values, POINTS_LENGTH is %d", name, attr.Count, pc.count)
		}
	}
	if _, ok := pc.mesh.Attributes[AttributePosition]; !ok {
		return newDecodeError(FormatPNTS, MissingAttribute, "point cloud has no positions")
	}
	return nil
}
