package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/stretchr/testify/require"
)

// Two triangles sharing an edge, the first one belongs to feature 0 and the second one to feature 1
var (
	quadPositions = []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0}
	quadNormals   = []float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1}
	quadBatchIDs  = []float32{0, 0, 1, 1}
	quadIndices   = []uint32{0, 1, 2, 0, 2, 3}
)

func quadPrimitive() *io.GltfPrimitive {
	return &io.GltfPrimitive{
		Mode: 4,
		Attributes: map[string]*io.AccessorData{
			"POSITION": io.NewFloat32Accessor(quadPositions, "VEC3", 3),
			"NORMAL":   io.NewFloat32Accessor(quadNormals, "VEC3", 3),
			"_BATCHID": io.NewFloat32Accessor(quadBatchIDs, "SCALAR", 1),
		},
		Indices:   quadIndices,
		BaseColor: [4]float64{1, 0, 0, 1},
	}
}

func buildGlb(t *testing.T, primitives ...*io.GltfPrimitive) []byte {
	t.Helper()
	builder := io.NewGlbBuilder()
	for _, p := range primitives {
		builder.AddPrimitive(p)
	}
	glb, err := builder.Bytes()
	require.NoError(t, err)
	return glb
}

func quadB3dm(t *testing.T) []byte {
	t.Helper()
	ft := io.NewTableBuilder().
		Set("BATCH_LENGTH", 2).
		Set("RTC_CENTER", []float64{100, 200, 300})
	bt := io.NewTableBuilder().Set("name", []string{"first", "second"})
	data, err := io.WriteB3dm(ft, bt, buildGlb(t, quadPrimitive()))
	require.NoError(t, err)
	return data
}

func encodeQDeflate(t *testing.T, mesh *codec.Mesh) []byte {
	t.Helper()
	encoded, err := codec.NewQDeflateCodec().Encode(mesh)
	require.NoError(t, err)
	return encoded
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

func decode(t *testing.T, data []byte, hint content.Format, opts *content.DecodeOptions) *content.TileContent {
	t.Helper()
	c, err := content.Decode(data, hint, opts)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func requireKind(t *testing.T, err error, kind content.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	actual, ok := content.KindOf(err)
	require.True(t, ok, "not a decode error: %v", err)
	require.Equal(t, kind, actual, err.Error())
}
