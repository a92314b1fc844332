package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sceneLayer17 = `{
  "id": 0,
  "version": "1.7",
  "layerType": "3DObject",
  "spatialReference": {"wkid": 4326, "latestWkid": 4326},
  "store": {"version": "1.7"},
  "geometryDefinitions": [{
    "geometryBuffers": [
      {
        "offset": 8,
        "position": {"type": "Float32", "component": 3},
        "normal": {"type": "Float32", "component": 3},
        "uv0": {"type": "Float32", "component": 2},
        "color": {"type": "UInt8", "component": 4},
        "featureId": {"type": "UInt64", "component": 1, "binding": "per-feature"},
        "faceRange": {"type": "UInt32", "component": 2, "binding": "per-feature"}
      },
      {
        "compressedAttributes": {
          "encoding": "qdeflate",
          "attributes": ["position", "normal", "uv0", "color", "feature-index"]
        }
      }
    ]
  }],
  "attributeStorageInfo": [
    {"key": "f_0", "name": "height", "attributeValues": {"valueType": "Float64", "valuesPerElement": 1}},
    {"key": "f_1", "name": "label", "attributeValues": {"valueType": "String", "valuesPerElement": 1}}
  ]
}`

const sceneLayer16 = `{
  "id": 0,
  "version": "1.6",
  "store": {
    "version": "1.6",
    "defaultGeometrySchema": {
      "geometryType": "triangles",
      "header": [
        {"property": "vertexCount", "type": "UInt32"},
        {"property": "featureCount", "type": "UInt32"}
      ],
      "ordering": ["position", "normal", "uv0", "color"],
      "vertexAttributes": {
        "position": {"valueType": "Float32", "valuesPerElement": 3},
        "normal": {"valueType": "Float32", "valuesPerElement": 3},
        "uv0": {"valueType": "Float32", "valuesPerElement": 2},
        "color": {"valueType": "UInt8", "valuesPerElement": 4}
      },
      "featureAttributeOrder": ["id", "faceRange"],
      "featureAttributes": {
        "id": {"valueType": "UInt64", "valuesPerElement": 1},
        "faceRange": {"valueType": "UInt32", "valuesPerElement": 2}
      }
    }
  }
}`

// Two triangles, one feature each. Positions are degree and meter offsets from the node center.
func twoFeatureGeometry() io.I3SGeometry {
	return io.I3SGeometry{
		Positions: []float32{
			0, 0, 0, 0.0001, 0, 0, 0.0001, 0.0001, 0,
			0, 0, 5, 0.0001, 0.0001, 5, 0, 0.0001, 5,
		},
		Normals:    []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
		UV0:        []float32{0, 0, 1, 0, 1, 1, 0, 0, 1, 1, 0, 1},
		Colors:     []uint8{255, 0, 0, 255, 255, 0, 0, 255, 255, 0, 0, 255, 0, 255, 0, 255, 0, 255, 0, 255, 0, 255, 0, 255},
		FeatureIDs: []uint64{4001, 4002},
		FaceRanges: []uint32{0, 0, 1, 1},
	}
}

var nodeCenter = geometry.NewCartographicFromDegrees(116.3, 39.9, 50)

func TestParseI3SLayoutVersions(t *testing.T) {
	layout17, err := content.ParseI3SLayout([]byte(sceneLayer17))
	require.NoError(t, err)
	assert.Equal(t, "1.7", layout17.Version)
	assert.Equal(t, 8, layout17.HeaderSize)
	require.NotNil(t, layout17.Compressed)
	assert.Equal(t, codec.QDeflateName, layout17.CodecName())
	assert.Len(t, layout17.VertexAttributes, 4)
	assert.Len(t, layout17.FeatureAttributes, 2)
	assert.Len(t, layout17.Attributes, 2)

	layout16, err := content.ParseI3SLayout([]byte(sceneLayer16))
	require.NoError(t, err)
	assert.Equal(t, "1.6", layout16.Version)
	assert.Nil(t, layout16.Compressed)
	assert.Equal(t, 8, layout16.HeaderSize)
	assert.Equal(t, layout17.VertexAttributes, layout16.VertexAttributes)
	assert.Equal(t, layout17.FeatureAttributes, layout16.FeatureAttributes)
}

func TestI3SVersionsDecodeToTheSameContent(t *testing.T) {
	g := twoFeatureGeometry()
	var decoded []*content.TileContent
	for _, manifest := range []string{sceneLayer16, sceneLayer17} {
		layout, err := content.ParseI3SLayout([]byte(manifest))
		require.NoError(t, err)
		data, err := io.WriteI3SGeometry(layout, g)
		require.NoError(t, err)

		opts := content.NewDecodeOptions()
		opts.I3S = layout.ForNode(nodeCenter, false)
		decoded = append(decoded, decode(t, data, content.FormatI3S, opts))
	}

	v16, v17 := decoded[0], decoded[1]
	assert.Equal(t, 2, v16.FeatureCount)
	for name, attr := range v16.Meshes[0].Attributes {
		assert.Equal(t, attr.Float32s(), v17.Meshes[0].Attributes[name].Float32s(), name)
	}
	assert.Equal(t, []uint32{0, 0, 0, 1, 1, 1}, v16.Meshes[0].Attributes[content.AttributeBatchID].Uint32s())
	assert.Equal(t, []float64{4001, 4002}, v16.BatchTable.Property(content.PropertyFeatureID).Binary.Float64s())
	assert.Equal(t, nodeCenter.ToECEF(), v16.RTCCenter)
}

func TestI3SCompressedMatchesPlain(t *testing.T) {
	layout, err := content.ParseI3SLayout([]byte(sceneLayer17))
	require.NoError(t, err)
	g := twoFeatureGeometry()

	plainData, err := io.WriteI3SGeometry(layout, g)
	require.NoError(t, err)
	compressedData, err := io.WriteI3SCompressedGeometry(codec.NewQDeflateCodec(), g)
	require.NoError(t, err)

	plainOpts := content.NewDecodeOptions()
	plainOpts.I3S = layout.ForNode(nodeCenter, false)
	plain := decode(t, plainData, content.FormatI3S, plainOpts)

	compressedOpts := content.NewDecodeOptions()
	compressedOpts.I3S = layout.ForNode(nodeCenter, true)
	compressed := decode(t, compressedData, content.FormatI3S, compressedOpts)

	assert.Equal(t, plain.FeatureCount, compressed.FeatureCount)
	p, c := plain.Meshes[0], compressed.Meshes[0]
	assert.Equal(t, p.VertexCount(), c.VertexCount())
	for _, name := range []string{content.AttributePosition, content.AttributeNormal, content.AttributeTexCoord, content.AttributeColor, content.AttributeBatchID} {
		require.Contains(t, c.Attributes, name)
		assert.Equal(t, p.Attributes[name].Float32s(), c.Attributes[name].Float32s(), name)
	}
}

func TestI3SCompressedDisabled(t *testing.T) {
	layout, err := content.ParseI3SLayout([]byte(sceneLayer17))
	require.NoError(t, err)
	assert.False(t, layout.ForNode(nodeCenter, false).UseCompressed)

	compressedData, err := io.WriteI3SCompressedGeometry(codec.NewQDeflateCodec(), twoFeatureGeometry())
	require.NoError(t, err)
	opts := content.NewDecodeOptions()
	opts.EnableCompressedGeometry = false
	opts.I3S = layout.ForNode(nodeCenter, true)
	_, err = content.Decode(compressedData, content.FormatI3S, opts)
	requireKind(t, err, content.UnsupportedCodec)
}

func TestI3SAttributeBuffers(t *testing.T) {
	layout, err := content.ParseI3SLayout([]byte(sceneLayer17))
	require.NoError(t, err)
	data, err := io.WriteI3SGeometry(layout, twoFeatureGeometry())
	require.NoError(t, err)

	opts := content.NewDecodeOptions()
	opts.I3S = layout.ForNode(nodeCenter, false)
	opts.Attachments = map[string][]byte{
		content.AttachmentI3SAttribute + "f_0": io.WriteI3SAttributeBuffer("Float64", []float64{12.5, 30}),
		content.AttachmentI3SAttribute + "f_1": io.WriteI3SStringAttributeBuffer([]string{"tower", "hall"}),
	}
	c := decode(t, data, content.FormatI3S, opts)

	assert.Equal(t, []float64{12.5, 30}, c.BatchTable.Property("height").Binary.Float64s())
	assert.Equal(t, []interface{}{"tower", "hall"}, c.BatchTable.Property("label").Inline)
}

func TestI3SFaceRangeOutOfBounds(t *testing.T) {
	g := twoFeatureGeometry()
	g.FaceRanges = []uint32{0, 0, 1, 2}
	layout, err := content.ParseI3SLayout([]byte(sceneLayer17))
	require.NoError(t, err)
	data, err := io.WriteI3SGeometry(layout, g)
	require.NoError(t, err)

	opts := content.NewDecodeOptions()
	opts.I3S = layout.ForNode(nodeCenter, false)
	_, err = content.Decode(data, content.FormatI3S, opts)
	requireKind(t, err, content.CorruptBuffer)
}
