package content

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/golang/geo/r3"
	json "github.com/goccy/go-json"
)

const (
	glbMagic       = "glTF"
	glbHeaderSize  = 12
	glbChunkJSON   = 0x4E4F534A
	glbChunkBinary = 0x004E4942

	ExtensionDraco              = "KHR_draco_mesh_compression"
	ExtensionTechniques         = "KHR_techniques_webgl"
	ExtensionCompressedGeometry = "ECOPIA_compressed_geometry"
	DracoCodecName              = "draco"
)

type gltfDocument struct {
	Asset struct {
		Version string `json:"version"`
	} `json:"asset"`
	Scene       *int             `json:"scene"`
	Scenes      []gltfScene      `json:"scenes"`
	Nodes       []gltfNode       `json:"nodes"`
	Meshes      []gltfMesh       `json:"meshes"`
	Accessors   []gltfAccessor   `json:"accessors"`
	BufferViews []gltfBufferView `json:"bufferViews"`
	Buffers     []gltfBuffer     `json:"buffers"`
	Materials   []gltfMaterial   `json:"materials"`
	Textures    []gltfTexture    `json:"textures"`
	Images      []gltfImage      `json:"images"`
	Extensions  struct {
		Techniques *struct {
			Techniques []gltfTechnique `json:"techniques"`
		} `json:"KHR_techniques_webgl"`
	} `json:"extensions"`
}

type gltfScene struct {
	Nodes []int `json:"nodes"`
}

type gltfNode struct {
	Mesh        *int      `json:"mesh"`
	Children    []int     `json:"children"`
	Matrix      []float64 `json:"matrix"`
	Translation []float64 `json:"translation"`
	Rotation    []float64 `json:"rotation"`
	Scale       []float64 `json:"scale"`
}

type gltfMesh struct {
	Primitives []gltfPrimitive `json:"primitives"`
}

type gltfPrimitive struct {
	Attributes map[string]int             `json:"attributes"`
	Indices    *int                       `json:"indices"`
	Mode       *int                       `json:"mode"`
	Material   *int                       `json:"material"`
	Extensions map[string]json.RawMessage `json:"extensions"`
}

type gltfAccessor struct {
	BufferView    *int   `json:"bufferView"`
	ByteOffset    int    `json:"byteOffset"`
	ComponentType int    `json:"componentType"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	Normalized    bool   `json:"normalized"`
}

type gltfBufferView struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
	ByteStride int `json:"byteStride"`
}

type gltfBuffer struct {
	ByteLength int    `json:"byteLength"`
	URI        string `json:"uri"`
}

type gltfMaterial struct {
	Name string `json:"name"`
	PBR  *struct {
		BaseColorFactor  []float64 `json:"baseColorFactor"`
		BaseColorTexture *struct {
			Index int `json:"index"`
		} `json:"baseColorTexture"`
	} `json:"pbrMetallicRoughness"`
	Extensions struct {
		Techniques *struct {
			Technique int `json:"technique"`
		} `json:"KHR_techniques_webgl"`
	} `json:"extensions"`
}

type gltfTexture struct {
	Source *int `json:"source"`
}

type gltfImage struct {
	URI        string `json:"uri"`
	BufferView *int   `json:"bufferView"`
	MimeType   string `json:"mimeType"`
}

type gltfTechnique struct {
	Attributes map[string]struct {
		Semantic string `json:"semantic"`
	} `json:"attributes"`
}

// Compressed primitive extension: the geometry is stored in a buffer view encoded with a codec
type gltfCompressedPrimitive struct {
	BufferView int                    `json:"bufferView"`
	Codec      string                 `json:"codec"`
	Attributes map[string]interface{} `json:"attributes"`
}

type gltfAsset struct {
	format Format
	doc    gltfDocument
	bin    []byte
	opts   *DecodeOptions
}

// Parses a binary glTF 2.0 payload into meshes
func parseGlb(format Format, data []byte, opts *DecodeOptions) ([]*Mesh, error) {
	if len(data) < glbHeaderSize || string(data[:4]) != glbMagic {
		return nil, newDecodeError(format, MalformedHeader, "missing glTF magic")
	}
	version := binary.LittleEndian.Uint32(data[4:])
	if version != 2 {
		return nil, newDecodeError(format, UnsupportedVersion, "glTF version %d", version)
	}
	length := int(binary.LittleEndian.Uint32(data[8:]))
	if length > len(data) || length < glbHeaderSize {
		return nil, newDecodeError(format, MalformedHeader, "glTF length %d exceeds payload of %d bytes", length, len(data))
	}

	asset := &gltfAsset{format: format, opts: opts}
	var jsonChunk []byte
	offset := glbHeaderSize
	for offset+8 <= length {
		chunkLength := int(binary.LittleEndian.Uint32(data[offset:]))
		chunkType := binary.LittleEndian.Uint32(data[offset+4:])
		start := offset + 8
		if chunkLength < 0 || start+chunkLength > length {
			return nil, newDecodeError(format, CorruptBuffer, "glTF chunk of %d bytes at %d exceeds payload", chunkLength, offset)
		}
		switch chunkType {
		case glbChunkJSON:
			jsonChunk = data[start : start+chunkLength]
		case glbChunkBinary:
			if asset.bin == nil {
				asset.bin = data[start : start+chunkLength]
			}
		}
		offset = start + chunkLength
	}
	if jsonChunk == nil {
		return nil, newDecodeError(format, MalformedHeader, "glTF has no JSON chunk")
	}
	if err := unmarshalJSONHeader(jsonChunk, &asset.doc); err != nil {
		return nil, wrapDecodeError(format, CorruptBuffer, err, "invalid glTF json")
	}
	return asset.meshes()
}

// Returns the bytes of a buffer: the GLB binary chunk or an embedded data uri
func (a *gltfAsset) buffer(index int) ([]byte, error) {
	if index < 0 || index >= len(a.doc.Buffers) {
		if index == 0 && a.bin != nil {
			return a.bin, nil
		}
		return nil, newDecodeError(a.format, CorruptBuffer, "buffer %d does not exist", index)
	}
	b := a.doc.Buffers[index]
	if b.URI == "" {
		if a.bin == nil {
			return nil, newDecodeError(a.format, CorruptBuffer, "buffer %d has no binary chunk", index)
		}
		return a.bin, nil
	}
	if strings.HasPrefix(b.URI, "data:") {
		comma := strings.IndexByte(b.URI, ',')
		if comma < 0 || !strings.Contains(b.URI[:comma], ";base64") {
			return nil, newDecodeError(a.format, UnsupportedFormat, "buffer %d has a non base64 data uri", index)
		}
		decoded, err := base64.StdEncoding.DecodeString(b.URI[comma+1:])
		if err != nil {
			return nil, wrapDecodeError(a.format, CorruptBuffer, err, "buffer %d data uri", index)
		}
		return decoded, nil
	}
	return nil, newDecodeError(a.format, UnsupportedFormat, "buffer %d references external uri %s", index, b.URI)
}

func (a *gltfAsset) bufferView(index int) ([]byte, *gltfBufferView, error) {
	if index < 0 || index >= len(a.doc.BufferViews) {
		return nil, nil, newDecodeError(a.format, CorruptBuffer, "buffer view %d does not exist", index)
	}
	view := &a.doc.BufferViews[index]
	buf, err := a.buffer(view.Buffer)
	if err != nil {
		return nil, nil, err
	}
	end := view.ByteOffset + view.ByteLength
	if view.ByteOffset < 0 || end > len(buf) {
		return nil, nil, newDecodeError(a.format, CorruptBuffer, "buffer view %d [%d:%d] exceeds buffer of %d bytes", index, view.ByteOffset, end, len(buf))
	}
	return buf[view.ByteOffset:end], view, nil
}

func (a *gltfAsset) accessor(index int) (*TypedArray, error) {
	if index < 0 || index >= len(a.doc.Accessors) {
		return nil, newDecodeError(a.format, CorruptBuffer, "accessor %d does not exist", index)
	}
	acc := a.doc.Accessors[index]
	components, ok := ComponentsOf(acc.Type)
	if !ok {
		return nil, newDecodeError(a.format, CorruptBuffer, "accessor %d has unknown type %q", index, acc.Type)
	}
	componentType := ComponentType(acc.ComponentType)
	if componentType.Size() == 0 {
		return nil, newDecodeError(a.format, CorruptBuffer, "accessor %d has unknown component type %d", index, acc.ComponentType)
	}
	if acc.BufferView == nil {
		return nil, newDecodeError(a.format, MissingAttribute, "accessor %d has no buffer view", index)
	}
	view, viewDesc, err := a.bufferView(*acc.BufferView)
	if err != nil {
		return nil, err
	}
	arr, err := ReadTypedArray(view, acc.ByteOffset, viewDesc.ByteStride, componentType, components, acc.Count)
	if err != nil {
		return nil, wrapDecodeError(a.format, CorruptBuffer, err, "accessor %d", index)
	}
	arr.Normalized = acc.Normalized
	return arr, nil
}

// Accessors without a buffer view, or whose buffer view lies outside its buffer, carry no data
func (a *gltfAsset) hasData(accessor int) bool {
	if accessor < 0 || accessor >= len(a.doc.Accessors) || a.doc.Accessors[accessor].BufferView == nil {
		return false
	}
	_, _, err := a.bufferView(*a.doc.Accessors[accessor].BufferView)
	return !IsKind(err, CorruptBuffer)
}

func nodeMatrix(n gltfNode) geometry.Matrix4 {
	if len(n.Matrix) == 16 {
		m, _ := geometry.NewMatrix4FromSlice(n.Matrix)
		return m
	}
	t := r3.Vector{}
	if len(n.Translation) == 3 {
		t = r3.Vector{X: n.Translation[0], Y: n.Translation[1], Z: n.Translation[2]}
	}
	q := geometry.IdentityQuaternion
	if len(n.Rotation) == 4 {
		q = geometry.Quaternion{X: n.Rotation[0], Y: n.Rotation[1], Z: n.Rotation[2], W: n.Rotation[3]}
	}
	s := r3.Vector{X: 1, Y: 1, Z: 1}
	if len(n.Scale) == 3 {
		s = r3.Vector{X: n.Scale[0], Y: n.Scale[1], Z: n.Scale[2]}
	}
	return geometry.NewMatrix4FromTRS(t, q, s)
}

// Walks the scene graph and decodes every mesh instance with its node transform.
// Payloads without nodes expose every mesh with the identity transform.
func (a *gltfAsset) meshes() ([]*Mesh, error) {
	var out []*Mesh
	if len(a.doc.Nodes) == 0 {
		for i := range a.doc.Meshes {
			meshes, err := a.decodeMesh(i, geometry.IdentityMatrix)
			if err != nil {
				return nil, err
			}
			out = append(out, meshes...)
		}
		return out, nil
	}

	var roots []int
	if len(a.doc.Scenes) > 0 {
		scene := 0
		if a.doc.Scene != nil && *a.doc.Scene < len(a.doc.Scenes) {
			scene = *a.doc.Scene
		}
		roots = a.doc.Scenes[scene].Nodes
	} else {
		roots = a.rootNodes()
	}

	visited := make(map[int]bool)
	var walk func(index int, parent geometry.Matrix4) error
	walk = func(index int, parent geometry.Matrix4) error {
		if index < 0 || index >= len(a.doc.Nodes) {
			return newDecodeError(a.format, CorruptBuffer, "node %d does not exist", index)
		}
		if visited[index] {
			return newDecodeError(a.format, CorruptBuffer, "node %d is referenced twice", index)
		}
		visited[index] = true
		node := a.doc.Nodes[index]
		world := parent.Multiply(nodeMatrix(node))
		if node.Mesh != nil {
			meshes, err := a.decodeMesh(*node.Mesh, world)
			if err != nil {
				return err
			}
			out = append(out, meshes...)
		}
		for _, child := range node.Children {
			if err := walk(child, world); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root, geometry.IdentityMatrix); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Nodes that are nobody's child
func (a *gltfAsset) rootNodes() []int {
	isChild := make(map[int]bool)
	for _, n := range a.doc.Nodes {
		for _, c := range n.Children {
			isChild[c] = true
		}
	}
	var roots []int
	for i := range a.doc.Nodes {
		if !isChild[i] {
			roots = append(roots, i)
		}
	}
	return roots
}

func (a *gltfAsset) decodeMesh(index int, transform geometry.Matrix4) ([]*Mesh, error) {
	if index < 0 || index >= len(a.doc.Meshes) {
		return nil, newDecodeError(a.format, CorruptBuffer, "mesh %d does not exist", index)
	}
	var out []*Mesh
	for _, primitive := range a.doc.Meshes[index].Primitives {
		m, err := a.decodePrimitive(primitive)
		if err != nil {
			return nil, err
		}
		m.Transform = transform
		out = append(out, m)
	}
	return out, nil
}

// Normalizes the batch id semantics used across 3D Tiles revisions
func normalizeSemantic(semantic string) string {
	switch semantic {
	case "_BATCHID", "BATCHID", "_FEATURE_ID_0", "batchId":
		return AttributeBatchID
	}
	return semantic
}

func (a *gltfAsset) decodePrimitive(p gltfPrimitive) (*Mesh, error) {
	mode := ModeTriangles
	if p.Mode != nil {
		mode = PrimitiveMode(*p.Mode)
	}
	m := NewMesh(mode)

	compressed, err := a.decodeCompressedPrimitive(p, m)
	if err != nil {
		return nil, err
	}
	if !compressed {
		semantics := make([]string, 0, len(p.Attributes))
		for semantic := range p.Attributes {
			semantics = append(semantics, semantic)
		}
		sort.Strings(semantics)
		var missing []string
		for _, semantic := range semantics {
			index := p.Attributes[semantic]
			if !a.hasData(index) {
				missing = append(missing, semantic)
				continue
			}
			arr, err := a.accessor(index)
			if err != nil {
				return nil, err
			}
			m.Attributes[normalizeSemantic(semantic)] = arr
		}
		for _, semantic := range missing {
			if err := a.fillMissing(m, normalizeSemantic(semantic), "accessor of attribute "+semantic+" has no data"); err != nil {
				return nil, err
			}
		}
		if p.Indices != nil {
			indices, err := a.accessor(*p.Indices)
			if err != nil {
				return nil, err
			}
			m.Indices = indices
		}
	}

	if p.Material != nil {
		material, err := a.material(*p.Material)
		if err != nil {
			return nil, err
		}
		m.Material = material
		if err := a.checkTechniqueAttributes(*p.Material, m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Decodes the primitive through a geometry codec when it carries a compression extension.
// Returns false when the plain accessors must be used instead.
func (a *gltfAsset) decodeCompressedPrimitive(p gltfPrimitive, m *Mesh) (bool, error) {
	var ext gltfCompressedPrimitive
	raw, ok := p.Extensions[ExtensionCompressedGeometry]
	if ok {
		if err := json.Unmarshal(raw, &ext); err != nil {
			return false, wrapDecodeError(a.format, CorruptBuffer, err, "invalid %s extension", ExtensionCompressedGeometry)
		}
	} else if raw, ok = p.Extensions[ExtensionDraco]; ok {
		if err := json.Unmarshal(raw, &ext); err != nil {
			return false, wrapDecodeError(a.format, CorruptBuffer, err, "invalid %s extension", ExtensionDraco)
		}
		ext.Codec = DracoCodecName
	} else {
		return false, nil
	}

	plainAvailable := a.primitiveHasPlainData(p)
	if !a.opts.EnableCompressedGeometry && plainAvailable {
		return false, nil
	}
	geometryCodec, err := a.opts.codecs().Lookup(ext.Codec)
	if err != nil {
		if plainAvailable {
			return false, nil
		}
		return false, wrapDecodeError(a.format, UnsupportedCodec, err, "primitive requires codec %s", ext.Codec)
	}
	if !a.opts.EnableCompressedGeometry {
		return false, newDecodeError(a.format, UnsupportedCodec, "compressed geometry is disabled and the primitive has no plain buffers")
	}

	view, _, err := a.bufferView(ext.BufferView)
	if err != nil {
		return false, err
	}
	mesh, err := geometryCodec.Decode(view)
	if err != nil {
		return false, wrapDecodeError(a.format, CorruptBuffer, err, "%s payload", ext.Codec)
	}
	applyCodecMesh(m, mesh)
	return true, nil
}

func (a *gltfAsset) primitiveHasPlainData(p gltfPrimitive) bool {
	position, ok := p.Attributes["POSITION"]
	if !ok || !a.hasData(position) {
		return false
	}
	return p.Indices == nil || a.hasData(*p.Indices)
}

// Copies a codec mesh into the decoded mesh, attributes become float arrays
func applyCodecMesh(m *Mesh, mesh *codec.Mesh) {
	for _, attr := range mesh.Attributes {
		values := make([]float32, len(attr.Values))
		for i, v := range attr.Values {
			values[i] = float32(v)
		}
		m.Attributes[normalizeSemantic(attr.Name)] = NewFloat32Array(values, attr.Components)
	}
	if len(mesh.Indices) > 0 {
		m.Indices = NewUint32Array(mesh.Indices, 1)
	}
}

func (a *gltfAsset) material(index int) (*Material, error) {
	if index < 0 || index >= len(a.doc.Materials) {
		return nil, newDecodeError(a.format, CorruptBuffer, "material %d does not exist", index)
	}
	src := a.doc.Materials[index]
	material := &Material{Name: src.Name, BaseColorFactor: [4]float64{1, 1, 1, 1}}
	if src.PBR == nil {
		return material, nil
	}
	if len(src.PBR.BaseColorFactor) == 4 {
		copy(material.BaseColorFactor[:], src.PBR.BaseColorFactor)
	}
	if src.PBR.BaseColorTexture == nil {
		return material, nil
	}
	texIndex := src.PBR.BaseColorTexture.Index
	if texIndex < 0 || texIndex >= len(a.doc.Textures) || a.doc.Textures[texIndex].Source == nil {
		return material, nil
	}
	imageIndex := *a.doc.Textures[texIndex].Source
	if imageIndex < 0 || imageIndex >= len(a.doc.Images) {
		return nil, newDecodeError(a.format, CorruptBuffer, "image %d does not exist", imageIndex)
	}
	image := a.doc.Images[imageIndex]
	texture := &Texture{MimeType: image.MimeType, URI: image.URI}
	if image.BufferView != nil {
		view, _, err := a.bufferView(*image.BufferView)
		if err != nil {
			return nil, err
		}
		texture.Data = append([]byte(nil), view...)
	}
	material.BaseColor = texture
	return material, nil
}

// Number of components of the well known vertex semantics
func semanticComponents(semantic string) int {
	switch {
	case semantic == AttributePosition, semantic == AttributeNormal:
		return 3
	case strings.HasPrefix(semantic, "TEXCOORD"):
		return 2
	case strings.HasPrefix(semantic, "COLOR"), semantic == "TANGENT",
		strings.HasPrefix(semantic, "JOINTS"), strings.HasPrefix(semantic, "WEIGHTS"):
		return 4
	}
	return 1
}

// Verifies that every attribute declared by the material technique is present on the mesh.
// Missing attributes are zero filled when FillEmptyDataInMissingAttribute is set.
func (a *gltfAsset) checkTechniqueAttributes(materialIndex int, m *Mesh) error {
	techniques := a.doc.Extensions.Techniques
	ref := a.doc.Materials[materialIndex].Extensions.Techniques
	if techniques == nil || ref == nil {
		return nil
	}
	if ref.Technique < 0 || ref.Technique >= len(techniques.Techniques) {
		return newDecodeError(a.format, CorruptBuffer, "technique %d does not exist", ref.Technique)
	}
	declared := techniques.Techniques[ref.Technique].Attributes
	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		semantic := normalizeSemantic(declared[name].Semantic)
		if semantic == "" {
			continue
		}
		if _, ok := m.Attributes[semantic]; ok {
			continue
		}
		msg := fmt.Sprintf("attribute %s (%s) declared by technique %d is missing", name, semantic, ref.Technique)
		if err := a.fillMissing(m, semantic, msg); err != nil {
			return err
		}
	}
	return nil
}

// Zero fills a missing attribute to the vertex count, or fails with MissingAttribute.
// POSITION is never synthesized.
func (a *gltfAsset) fillMissing(m *Mesh, semantic, msg string) error {
	if !a.opts.FillEmptyDataInMissingAttribute || semantic == AttributePosition {
		return &DecodeError{Kind: MissingAttribute, Format: a.format, Msg: msg}
	}
	m.Attributes[semantic] = NewTypedArray(Float, semanticComponents(semantic), m.VertexCount())
	return nil
}

// Decodes a standalone glb tile content
func decodeGlbContent(data []byte, opts *DecodeOptions) (*TileContent, error) {
	meshes, err := parseGlb(FormatGLB, data, opts)
	if err != nil {
		return nil, err
	}
	return &TileContent{Format: FormatGLB, Meshes: meshes, YUp: true}, nil
}
