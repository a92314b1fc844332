package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s3mBlock(version float32, compress bool) io.S3MBlock {
	return io.S3MBlock{
		Version: version,
		Children: []io.S3MChild{
			{URL: "Tile_1_0.s3mb", Center: [3]float64{1, 2, 3}, Radius: 50, RangeValue: 120},
		},
		Packages: []io.S3MVertexPackage{{
			Name:           "quad",
			Positions:      []float32{-4, -4, 0, 4, -4, 0, 4, 4, 2, -4, 4, 2},
			CompressVertex: compress,
			Normals:        quadNormals,
			Colors:         []uint8{255, 0, 0, 255, 255, 0, 0, 255, 0, 0, 255, 255, 0, 0, 255, 255},
			BatchIDs:       quadBatchIDs,
			Indices:        quadIndices,
		}},
		BatchTableJSON: []byte(`{"name":["first","second"]}`),
	}
}

func decodeS3MBlock(t *testing.T, block io.S3MBlock) *content.TileContent {
	data, err := io.WriteS3M(block)
	require.NoError(t, err)
	return decode(t, data, content.FormatS3M, nil)
}

func TestS3MDecode(t *testing.T) {
	c := decodeS3MBlock(t, s3mBlock(2, false))

	assert.Equal(t, content.FormatS3M, c.Format)
	assert.Equal(t, 2, c.FeatureCount)
	assert.Equal(t, 2, c.BatchTable.Property("name").Len())
	require.Len(t, c.ChildReferences, 1)
	ref := c.ChildReferences[0]
	assert.Equal(t, "Tile_1_0.s3mb", ref.URI)
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, ref.Center)
	assert.Equal(t, 50.0, ref.Radius)
	assert.Equal(t, 120.0, ref.RangeValue)

	require.Len(t, c.Meshes, 1)
	mesh := c.Meshes[0]
	assert.Equal(t, []float32{-4, -4, 0, 4, -4, 0, 4, 4, 2, -4, 4, 2}, mesh.Attributes[content.AttributePosition].Float32s())
	assert.Equal(t, []uint32{0, 0, 1, 1}, mesh.Attributes[content.AttributeBatchID].Uint32s())
	assert.Equal(t, quadIndices, mesh.Indices.Uint32s())
	assert.Equal(t, []float32{0, 0, 1, 1}, mesh.Attributes[content.AttributeColor].Float32s()[8:12])
}

func TestS3MRevisionsShareOneContract(t *testing.T) {
	v2 := decodeS3MBlock(t, s3mBlock(2, false))
	v3 := decodeS3MBlock(t, s3mBlock(3, false))

	assert.Equal(t, v2.FeatureCount, v3.FeatureCount)
	for name, attr := range v2.Meshes[0].Attributes {
		require.Contains(t, v3.Meshes[0].Attributes, name)
		assert.Equal(t, attr.Float32s(), v3.Meshes[0].Attributes[name].Float32s(), name)
	}
	assert.Equal(t, v2.ChildReferences, v3.ChildReferences)
}

func TestS3MCompressedVertices(t *testing.T) {
	for _, version := range []float32{2, 3} {
		plain := decodeS3MBlock(t, s3mBlock(version, false))
		compressed := decodeS3MBlock(t, s3mBlock(version, true))

		p := plain.Meshes[0].Attributes[content.AttributePosition]
		c := compressed.Meshes[0].Attributes[content.AttributePosition]
		require.Equal(t, p.Count, c.Count)
		// 8 units over 65534 steps
		for i := 0; i < p.Len(); i++ {
			assert.InDelta(t, p.Float64(i), c.Float64(i), 8.0/65534)
		}
		assert.Equal(t,
			plain.Meshes[0].Attributes[content.AttributeBatchID].Float32s(),
			compressed.Meshes[0].Attributes[content.AttributeBatchID].Float32s())
	}
}

func TestS3MUint32Indices(t *testing.T) {
	block := s3mBlock(3, false)
	block.Packages[0].Uint32Indices = true
	c := decodeS3MBlock(t, block)
	assert.Equal(t, content.UnsignedInt, c.Meshes[0].Indices.ComponentType)
	assert.Equal(t, quadIndices, c.Meshes[0].Indices.Uint32s())
}

func TestS3MErrors(t *testing.T) {
	_, err := content.Decode([]byte{1, 2}, content.FormatS3M, nil)
	requireKind(t, err, content.MalformedHeader)

	data, err := io.WriteS3M(s3mBlock(4, false))
	require.NoError(t, err)
	_, err = content.Decode(data, content.FormatS3M, nil)
	requireKind(t, err, content.UnsupportedVersion)

	block := s3mBlock(2, false)
	block.Packages[0].Indices = []uint32{0, 1, 9}
	data, err = io.WriteS3M(block)
	require.NoError(t, err)
	_, err = content.Decode(data, content.FormatS3M, nil)
	requireKind(t, err, content.CorruptBuffer)
}
