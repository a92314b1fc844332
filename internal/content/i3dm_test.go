package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoInstancesI3dm(t *testing.T) []byte {
	ft := io.NewTableBuilder().
		Set("INSTANCES_LENGTH", 2).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 0, 10, 0, 0}), "", "", 4).
		AddBinary("SCALE", tools.ConvertFloat32SliceToByteArray([]float32{1, 2}), "", "", 4)
	bt := io.NewTableBuilder().Set("height", []float64{5, 7})
	data, err := io.WriteI3dm(ft, bt, 1, buildGlb(t, quadPrimitive()))
	require.NoError(t, err)
	return data
}

func TestI3dmInstances(t *testing.T) {
	c := decode(t, twoInstancesI3dm(t), content.FormatUnknown, nil)

	assert.Equal(t, content.FormatI3DM, c.Format)
	assert.Equal(t, 2, c.FeatureCount)
	require.Len(t, c.Instances, 2)
	require.Len(t, c.Meshes, 1)

	p := c.Instances[1].MultiplyPoint(r3.Vector{X: 1, Y: 1, Z: 1})
	assert.InDelta(t, 12, p.X, 1e-9)
	assert.InDelta(t, 2, p.Y, 1e-9)
	assert.InDelta(t, 2, p.Z, 1e-9)
	assert.True(t, c.Instances[0].IsIdentity())

	assert.Len(t, c.MeshTransforms(c.Meshes[0]), 2)
}

func TestI3dmOctNormalsMatchFloatNormals(t *testing.T) {
	// up (0, 0, 1) and right (1, 0, 0)
	floatFT := io.NewTableBuilder().
		Set("INSTANCES_LENGTH", 1).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{1, 2, 3}), "", "", 4).
		AddBinary("NORMAL_UP", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 1}), "", "", 4).
		AddBinary("NORMAL_RIGHT", tools.ConvertFloat32SliceToByteArray([]float32{1, 0, 0}), "", "", 4)
	floatData, err := io.WriteI3dm(floatFT, nil, 1, buildGlb(t, quadPrimitive()))
	require.NoError(t, err)

	quantized := tools.ConvertUint16SliceToByteArray([]uint16{6554, 13107, 19661})
	octFT := io.NewTableBuilder().
		Set("INSTANCES_LENGTH", 1).
		Set("QUANTIZED_VOLUME_OFFSET", []float64{0, 0, 0}).
		Set("QUANTIZED_VOLUME_SCALE", []float64{10, 10, 10}).
		AddBinary("POSITION_QUANTIZED", quantized, "", "", 2).
		AddBinary("NORMAL_UP_OCT32P", tools.ConvertUint16SliceToByteArray([]uint16{32768, 32768}), "", "", 2).
		AddBinary("NORMAL_RIGHT_OCT32P", tools.ConvertUint16SliceToByteArray([]uint16{65535, 32768}), "", "", 2)
	octData, err := io.WriteI3dm(octFT, nil, 1, buildGlb(t, quadPrimitive()))
	require.NoError(t, err)

	expected := decode(t, floatData, content.FormatUnknown, nil).Instances[0]
	actual := decode(t, octData, content.FormatUnknown, nil).Instances[0]
	for i := range expected {
		assert.InDelta(t, expected[i], actual[i], 1e-3, "element %d", i)
	}
	// forward is right x up
	assert.InDelta(t, -1, expected.Column(2).Y, 1e-9)
}

func TestI3dmExternalGltf(t *testing.T) {
	ft := io.NewTableBuilder().
		Set("INSTANCES_LENGTH", 1).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 0}), "", "", 4)
	data, err := io.WriteI3dm(ft, nil, 0, []byte("models/tree.glb"))
	require.NoError(t, err)

	c := decode(t, data, content.FormatUnknown, nil)
	assert.Equal(t, "models/tree.glb", c.ExternalGLTF)
	assert.Empty(t, c.Meshes)

	opts := content.NewDecodeOptions()
	opts.Attachments = map[string][]byte{content.AttachmentGLTF: buildGlb(t, quadPrimitive())}
	c = decode(t, data, content.FormatUnknown, opts)
	assert.Empty(t, c.ExternalGLTF)
	require.Len(t, c.Meshes, 1)
	assert.Equal(t, 4, c.Meshes[0].VertexCount())
}

func TestCmptWithB3dmAndI3dm(t *testing.T) {
	b3dm := quadB3dm(t)
	i3dm := twoInstancesI3dm(t)
	c := decode(t, io.WriteCmpt(b3dm, i3dm), content.FormatUnknown, nil)

	assert.Equal(t, content.FormatCMPT, c.Format)
	require.Len(t, c.Children, 2)
	assert.Equal(t, content.FormatB3DM, c.Children[0].Format)
	assert.Equal(t, content.FormatI3DM, c.Children[1].Format)
	assert.Len(t, c.Leaves(), 2)
	assert.Equal(t, []content.ByteRange{
		{Offset: 16, Length: len(b3dm)},
		{Offset: 16 + len(b3dm), Length: len(i3dm)},
	}, c.InnerRanges)
	assert.Equal(t, 4, c.FeatureCount)
	assert.Equal(t, c.Children[0].ByteSize()+c.Children[1].ByteSize(), c.ByteSize())
}

func TestNestedCmptIsFlattened(t *testing.T) {
	inner := io.WriteCmpt(quadB3dm(t))
	c := decode(t, io.WriteCmpt(inner, twoInstancesI3dm(t)), content.FormatUnknown, nil)

	require.Len(t, c.Children, 2)
	assert.Equal(t, 32, c.InnerRanges[0].Offset)
}

func TestCmptInnerTileOutOfBounds(t *testing.T) {
	data := io.WriteCmpt(quadB3dm(t))
	// inner byteLength larger than the composite
	data[16+8] = 0xff
	data[16+9] = 0xff
	_, err := content.Decode(data, content.FormatUnknown, nil)
	requireKind(t, err, content.CorruptBuffer)
}
