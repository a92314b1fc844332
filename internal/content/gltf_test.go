package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/tools"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wraps a glTF json document and its binary chunk into a glb
func rawGlb(t *testing.T, doc map[string]interface{}, bin []byte) []byte {
	t.Helper()
	jsonChunk, err := json.Marshal(doc)
	require.NoError(t, err)
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}
	for len(bin)%4 != 0 {
		bin = append(bin, 0)
	}
	out := []byte("glTF")
	out = append(out, tools.ConvertIntToByteArray(2)...)
	out = append(out, tools.ConvertIntToByteArray(12+8+len(jsonChunk)+8+len(bin))...)
	out = append(out, tools.ConvertIntToByteArray(len(jsonChunk))...)
	out = append(out, []byte("JSON")...)
	out = append(out, jsonChunk...)
	out = append(out, tools.ConvertIntToByteArray(len(bin))...)
	out = append(out, []byte("BIN\x00")...)
	return append(out, bin...)
}

// Four points whose NORMAL accessor points past the end of the buffer and whose
// TEXCOORD_0 accessor has no buffer view at all
func pointsWithDetachedAccessors(t *testing.T) []byte {
	bin := tools.ConvertFloat32SliceToByteArray(quadPositions)
	doc := map[string]interface{}{
		"asset":  map[string]interface{}{"version": "2.0"},
		"scene":  0,
		"scenes": []interface{}{map[string]interface{}{"nodes": []int{0}}},
		"nodes":  []interface{}{map[string]interface{}{"mesh": 0}},
		"meshes": []interface{}{map[string]interface{}{
			"primitives": []interface{}{map[string]interface{}{
				"mode":       0,
				"attributes": map[string]int{"POSITION": 0, "NORMAL": 1, "TEXCOORD_0": 2},
			}},
		}},
		"accessors": []interface{}{
			map[string]interface{}{"bufferView": 0, "componentType": 5126, "count": 4, "type": "VEC3"},
			map[string]interface{}{"bufferView": 1, "componentType": 5126, "count": 4, "type": "VEC3"},
			map[string]interface{}{"componentType": 5126, "count": 4, "type": "VEC2"},
		},
		"bufferViews": []interface{}{
			map[string]interface{}{"buffer": 0, "byteOffset": 0, "byteLength": len(bin)},
			map[string]interface{}{"buffer": 0, "byteOffset": 24, "byteLength": len(bin)},
		},
		"buffers": []interface{}{map[string]interface{}{"byteLength": len(bin)}},
	}
	return rawGlb(t, doc, bin)
}

func TestGlbAccessorWithoutDataIsMissing(t *testing.T) {
	_, err := content.Decode(pointsWithDetachedAccessors(t), content.FormatGLB, content.NewDecodeOptions())
	requireKind(t, err, content.MissingAttribute)
}

func TestGlbAccessorWithoutDataIsZeroFilled(t *testing.T) {
	opts := content.NewDecodeOptions()
	opts.FillEmptyDataInMissingAttribute = true
	c := decode(t, pointsWithDetachedAccessors(t), content.FormatGLB, opts)

	mesh := c.Meshes[0]
	assert.Equal(t, quadPositions, mesh.Attributes[content.AttributePosition].Float32s())

	normals := mesh.Attributes[content.AttributeNormal]
	require.NotNil(t, normals)
	assert.Equal(t, make([]float32, 12), normals.Float32s())

	uv := mesh.Attributes[content.AttributeTexCoord]
	require.NotNil(t, uv)
	assert.Equal(t, 4, uv.Count)
	assert.Equal(t, 2, uv.Components)
}

func TestGlbPositionWithoutDataFails(t *testing.T) {
	doc := map[string]interface{}{
		"asset": map[string]interface{}{"version": "2.0"},
		"meshes": []interface{}{map[string]interface{}{
			"primitives": []interface{}{map[string]interface{}{
				"mode":       0,
				"attributes": map[string]int{"POSITION": 0},
			}},
		}},
		"accessors": []interface{}{
			map[string]interface{}{"componentType": 5126, "count": 4, "type": "VEC3"},
		},
	}
	opts := content.NewDecodeOptions()
	opts.FillEmptyDataInMissingAttribute = true
	_, err := content.Decode(rawGlb(t, doc, nil), content.FormatGLB, opts)
	requireKind(t, err, content.MissingAttribute)
}
