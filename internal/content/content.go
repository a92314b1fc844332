// Package content decodes binary tile payloads into a uniform mesh and batch table representation.
package content

import (
	"time"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/metrics"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

// Attribute names of the decoded meshes
const (
	AttributePosition = "POSITION"
	AttributeNormal   = "NORMAL"
	AttributeTexCoord = "TEXCOORD_0"
	AttributeColor    = "COLOR_0"
	AttributeBatchID  = "_BATCHID"
)

type PrimitiveMode int

const (
	ModePoints    PrimitiveMode = 0
	ModeLines     PrimitiveMode = 1
	ModeTriangles PrimitiveMode = 4
)

type Texture struct {
	MimeType string
	URI      string // set when the image is not embedded
	Data     []byte
}

type Material struct {
	Name            string
	BaseColorFactor [4]float64
	BaseColor       *Texture
}

type Mesh struct {
	Mode       PrimitiveMode
	Attributes map[string]*TypedArray
	Indices    *TypedArray // nil for non indexed geometry
	Material   *Material
	// Node transform of the mesh inside its payload
	Transform geometry.Matrix4
}

func NewMesh(mode PrimitiveMode) *Mesh {
	return &Mesh{Mode: mode, Attributes: make(map[string]*TypedArray), Transform: geometry.IdentityMatrix}
}

func (m *Mesh) VertexCount() int {
	if p, ok := m.Attributes[AttributePosition]; ok {
		return p.Count
	}
	return 0
}

func (m *Mesh) ByteSize() int64 {
	var size int64
	for _, a := range m.Attributes {
		size += int64(a.ByteLength())
	}
	if m.Indices != nil {
		size += int64(m.Indices.ByteLength())
	}
	if m.Material != nil && m.Material.BaseColor != nil {
		size += int64(len(m.Material.BaseColor.Data))
	}
	return size
}

// Location of an inner tile inside a composite payload
type ByteRange struct {
	Offset int
	Length int
}

// Child reference embedded in a S3M block
type ChildReference struct {
	URI        string
	Center     r3.Vector
	Radius     float64
	RangeValue float64
}

// TileContent is the decoded form of a tile payload. It is owned by the cache and read-only once inserted.
type TileContent struct {
	Format       Format
	Meshes       []*Mesh
	BatchTable   *BatchTable
	FeatureCount int
	// Local origin of the positions, zero when absent
	RTCCenter r3.Vector
	// Content local volume, nil when the payload does not declare one
	BoundingVolume geometry.BoundingVolume
	// Per instance transforms of i3dm content, applied to every mesh
	Instances []geometry.Matrix4
	// Url of the external glTF of an i3dm with gltfFormat 0, resolved by the caller
	ExternalGLTF string
	// Inner tiles of a composite, in payload order
	Children    []*TileContent
	InnerRanges []ByteRange
	// Child blocks referenced by a S3M block
	ChildReferences []ChildReference
	// glTF payloads are y-up
	YUp bool
}

// Returns the approximate memory footprint of the content
func (c *TileContent) ByteSize() int64 {
	var size int64
	for _, m := range c.Meshes {
		size += m.ByteSize()
	}
	if c.BatchTable != nil {
		size += c.BatchTable.ByteSize()
	}
	size += int64(len(c.Instances) * 16 * 8)
	for _, child := range c.Children {
		size += child.ByteSize()
	}
	return size
}

// Returns the transforms from the mesh coordinates to the tile coordinates, one per instance.
// The RTC center, the instance transform, the y-up rotation and the mesh node transform are composed in this order.
func (c *TileContent) MeshTransforms(m *Mesh) []geometry.Matrix4 {
	local := m.Transform
	if c.YUp {
		local = geometry.YUpToZUp.Multiply(local)
	}
	rtc := geometry.NewTranslationMatrix(c.RTCCenter)
	if len(c.Instances) == 0 {
		return []geometry.Matrix4{rtc.Multiply(local)}
	}
	out := make([]geometry.Matrix4, len(c.Instances))
	for i, instance := range c.Instances {
		out[i] = rtc.Multiply(instance).Multiply(local)
	}
	return out
}

// Flattens a composite content into its leaf contents
func (c *TileContent) Leaves() []*TileContent {
	if c.Format != FormatCMPT {
		return []*TileContent{c}
	}
	var leaves []*TileContent
	for _, child := range c.Children {
		leaves = append(leaves, child.Leaves()...)
	}
	return leaves
}

type DecodeOptions struct {
	EnableCompressedGeometry        bool
	FillEmptyDataInMissingAttribute bool
	Codecs                          *codec.Registry
	// Extra resources fetched with the payload, keyed by role (external glTF, I3S attribute buffers)
	Attachments map[string][]byte
	// Layout of I3S geometry buffers
	I3S *I3SLayout
}

func NewDecodeOptions() *DecodeOptions {
	return &DecodeOptions{
		EnableCompressedGeometry: true,
		Codecs:                   codec.NewDefaultRegistry(),
	}
}

func (o *DecodeOptions) codecs() *codec.Registry {
	if o.Codecs == nil {
		o.Codecs = codec.NewDefaultRegistry()
	}
	return o.Codecs
}

// Decodes the payload. The magic header decides the format when present, the hint otherwise.
func Decode(data []byte, hint Format, opts *DecodeOptions) (*TileContent, error) {
	if opts == nil {
		opts = NewDecodeOptions()
	}
	format := ResolveFormat(data, hint)

	start := time.Now()
	c, err := decodeFormat(data, format, opts)
	metrics.DecodeDuration.WithLabelValues(format.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DecodeErrors.WithLabelValues(format.String()).Inc()
		glog.V(2).Infof("decode %s failed: %v", format, err)
		return nil, err
	}
	return c, nil
}

func decodeFormat(data []byte, format Format, opts *DecodeOptions) (*TileContent, error) {
	switch format {
	case FormatB3DM:
		return decodeB3dm(data, opts)
	case FormatI3DM:
		return decodeI3dm(data, opts)
	case FormatPNTS:
		return decodePnts(data, opts)
	case FormatCMPT:
		return decodeCmpt(data, opts)
	case FormatGLB:
		return decodeGlbContent(data, opts)
	case FormatI3S:
		return decodeI3s(data, opts)
	case FormatS3M:
		return decodeS3m(data, opts)
	case FormatTileset:
		return nil, newDecodeError(format, UnsupportedFormat, "tileset documents are expanded by the tree, not decoded")
	}
	return nil, newDecodeError(format, UnsupportedFormat, "cannot detect the payload format")
}
