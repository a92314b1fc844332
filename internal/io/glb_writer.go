package io

import (
	"bytes"
	"sort"

	"github.com/ecopia-map/cesium_streamer/tools"
	json "github.com/goccy/go-json"
)

// glTF component types written by the builder
const (
	GltfUnsignedByte  = 5121
	GltfUnsignedShort = 5123
	GltfUnsignedInt   = 5125
	GltfFloat         = 5126
)

const (
	extensionTechniques         = "KHR_techniques_webgl"
	extensionCompressedGeometry = "ECOPIA_compressed_geometry"
)

// AccessorData is the content of one accessor, Data is tightly packed
type AccessorData struct {
	ComponentType int
	Type          string
	Count         int
	Normalized    bool
	Data          []byte
}

func NewFloat32Accessor(values []float32, elementType string, components int) *AccessorData {
	return &AccessorData{
		ComponentType: GltfFloat,
		Type:          elementType,
		Count:         len(values) / components,
		Data:          tools.ConvertFloat32SliceToByteArray(values),
	}
}

// Compressed form of a primitive stored in a buffer view and decoded by the named codec
type CompressedPrimitive struct {
	Codec string
	Data  []byte
	// KeepPlain also writes the plain accessor data
	KeepPlain bool
}

type GltfPrimitive struct {
	Mode       int
	Attributes map[string]*AccessorData
	Indices    []uint32
	// Semantics declared by a KHR_techniques_webgl technique bound to the primitive material
	Technique       []string
	Compressed      *CompressedPrimitive
	BaseColor       [4]float64
	EmbeddedImage   []byte
	ImageMimeType   string
	NodeTranslation []float64
}

// GlbBuilder writes a binary glTF 2.0 with one node and one mesh per primitive
type GlbBuilder struct {
	primitives []*GltfPrimitive
	Unaligned  bool
}

func NewGlbBuilder() *GlbBuilder {
	return &GlbBuilder{}
}

func (b *GlbBuilder) AddPrimitive(p *GltfPrimitive) *GlbBuilder {
	b.primitives = append(b.primitives, p)
	return b
}

type glbState struct {
	bin         []byte
	bufferViews []map[string]interface{}
	accessors   []map[string]interface{}
	unaligned   bool
}

func (s *glbState) addBufferView(data []byte) int {
	if !s.unaligned {
		s.bin = append(s.bin, make([]byte, tools.PaddingSize(len(s.bin), 4))...)
	}
	s.bufferViews = append(s.bufferViews, map[string]interface{}{
		"buffer":     0,
		"byteOffset": len(s.bin),
		"byteLength": len(data),
	})
	s.bin = append(s.bin, data...)
	return len(s.bufferViews) - 1
}

func (s *glbState) addAccessor(a *AccessorData, withData bool) int {
	accessor := map[string]interface{}{
		"componentType": a.ComponentType,
		"count":         a.Count,
		"type":          a.Type,
	}
	if a.Normalized {
		accessor["normalized"] = true
	}
	if withData {
		accessor["bufferView"] = s.addBufferView(a.Data)
	}
	s.accessors = append(s.accessors, accessor)
	return len(s.accessors) - 1
}

// Returns the glb bytes
func (b *GlbBuilder) Bytes() ([]byte, error) {
	state := &glbState{unaligned: b.Unaligned}
	var meshes, nodes, materials, techniques, images, textures []map[string]interface{}
	var sceneNodes []int
	extensionsUsed := map[string]bool{}

	for _, p := range b.primitives {
		plain := p.Compressed == nil || p.Compressed.KeepPlain
		attributes := map[string]int{}
		for _, semantic := range sortedKeys(p.Attributes) {
			attributes[semantic] = state.addAccessor(p.Attributes[semantic], plain)
		}
		primitive := map[string]interface{}{
			"attributes": attributes,
			"mode":       p.Mode,
		}
		if len(p.Indices) > 0 {
			indices := &AccessorData{
				ComponentType: GltfUnsignedInt,
				Type:          "SCALAR",
				Count:         len(p.Indices),
				Data:          tools.ConvertUint32SliceToByteArray(p.Indices),
			}
			primitive["indices"] = state.addAccessor(indices, plain)
		}
		if p.Compressed != nil {
			extensionsUsed[extensionCompressedGeometry] = true
			primitive["extensions"] = map[string]interface{}{
				extensionCompressedGeometry: map[string]interface{}{
					"bufferView": state.addBufferView(p.Compressed.Data),
					"codec":      p.Compressed.Codec,
				},
			}
		}

		material := map[string]interface{}{
			"pbrMetallicRoughness": map[string]interface{}{"baseColorFactor": p.BaseColor[:]},
		}
		if len(p.EmbeddedImage) > 0 {
			images = append(images, map[string]interface{}{
				"bufferView": state.addBufferView(p.EmbeddedImage),
				"mimeType":   p.ImageMimeType,
			})
			textures = append(textures, map[string]interface{}{"source": len(images) - 1})
			material["pbrMetallicRoughness"].(map[string]interface{})["baseColorTexture"] = map[string]interface{}{"index": len(textures) - 1}
		}
		if len(p.Technique) > 0 {
			extensionsUsed[extensionTechniques] = true
			declared := map[string]interface{}{}
			for _, semantic := range p.Technique {
				declared["a_"+semantic] = map[string]interface{}{"semantic": semantic}
			}
			techniques = append(techniques, map[string]interface{}{"attributes": declared})
			material["extensions"] = map[string]interface{}{
				extensionTechniques: map[string]interface{}{"technique": len(techniques) - 1},
			}
		}
		materials = append(materials, material)
		primitive["material"] = len(materials) - 1

		meshes = append(meshes, map[string]interface{}{"primitives": []interface{}{primitive}})
		node := map[string]interface{}{"mesh": len(meshes) - 1}
		if len(p.NodeTranslation) == 3 {
			node["translation"] = p.NodeTranslation
		}
		nodes = append(nodes, node)
		sceneNodes = append(sceneNodes, len(nodes)-1)
	}

	doc := map[string]interface{}{
		"asset":       map[string]interface{}{"version": "2.0"},
		"scene":       0,
		"scenes":      []interface{}{map[string]interface{}{"nodes": sceneNodes}},
		"nodes":       nodes,
		"meshes":      meshes,
		"materials":   materials,
		"accessors":   state.accessors,
		"bufferViews": state.bufferViews,
		"buffers":     []interface{}{map[string]interface{}{"byteLength": len(state.bin)}},
	}
	if len(images) > 0 {
		doc["images"] = images
		doc["textures"] = textures
	}
	if len(techniques) > 0 {
		doc["extensions"] = map[string]interface{}{
			extensionTechniques: map[string]interface{}{"techniques": techniques},
		}
	}
	if len(extensionsUsed) > 0 {
		doc["extensionsUsed"] = sortedKeys(extensionsUsed)
	}

	jsonChunk, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	jsonChunk = append(jsonChunk, bytes.Repeat([]byte{' '}, tools.PaddingSize(len(jsonChunk), 4))...)
	binChunk := append(append([]byte(nil), state.bin...), make([]byte, tools.PaddingSize(len(state.bin), 4))...)

	length := 12 + 8 + len(jsonChunk) + 8 + len(binChunk)
	outputByte := make([]byte, 0, length)
	outputByte = append(outputByte, []byte("glTF")...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(2)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(length)...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(jsonChunk))...)
	outputByte = append(outputByte, []byte("JSON")...)
	outputByte = append(outputByte, jsonChunk...)
	outputByte = append(outputByte, tools.ConvertIntToByteArray(len(binChunk))...)
	outputByte = append(outputByte, []byte("BIN\x00")...)
	outputByte = append(outputByte, binChunk...)
	return outputByte, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
