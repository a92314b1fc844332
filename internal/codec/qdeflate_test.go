package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMesh() *Mesh {
	return &Mesh{
		VertexCount: 4,
		Indices:     []uint32{0, 1, 2, 2, 1, 3},
		Attributes: []*Attribute{
			{Name: "POSITION", Components: 3, QuantizationBits: 16, Values: []float64{
				0, 0, 0,
				10, 0, 0,
				0, 10, 0,
				10, 10, 5,
			}},
			{Name: "_BATCHID", Components: 1, Values: []float64{0, 0, 1, 1}},
			{Name: "COLOR_0", Components: 4, QuantizationBits: 8, Values: []float64{
				1, 0, 0, 1,
				0, 1, 0, 1,
				0, 0, 1, 1,
				1, 1, 1, 1,
			}},
		},
	}
}

func TestQDeflateCodec_RoundTrip(t *testing.T) {
	c := NewQDeflateCodec()
	encoded, err := c.Encode(sampleMesh())
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, 4, decoded.VertexCount)
	assert.Equal(t, []uint32{0, 1, 2, 2, 1, 3}, decoded.Indices)
	assert.Equal(t, []float64{0, 0, 1, 1}, decoded.Attribute("_BATCHID").Values)

	position := decoded.Attribute("POSITION")
	require.NotNil(t, position)
	for i, v := range sampleMesh().Attributes[0].Values {
		assert.InDelta(t, v, position.Values[i], 1e-3)
	}
	assert.Equal(t, sampleMesh().Attributes[2].Values, decoded.Attribute("COLOR_0").Values)
}

func TestQDeflateCodec_DecodeIsDeterministic(t *testing.T) {
	c := NewQDeflateCodec()
	encoded, err := c.Encode(sampleMesh())
	require.NoError(t, err)

	first, err := c.Decode(encoded)
	require.NoError(t, err)
	second, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestQDeflateCodec_RejectsCorruptInput(t *testing.T) {
	c := NewQDeflateCodec()
	_, err := c.Decode([]byte("nope"))
	assert.ErrorIs(t, err, ErrCorruptStream)

	encoded, err := c.Encode(sampleMesh())
	require.NoError(t, err)
	_, err = c.Decode(encoded[:len(encoded)-6])
	assert.ErrorIs(t, err, ErrCorruptStream)
}

func TestQDeflateCodec_EncodeValidatesCounts(t *testing.T) {
	mesh := sampleMesh()
	mesh.VertexCount = 5
	_, err := NewQDeflateCodec().Encode(mesh)
	assert.Error(t, err)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewDefaultRegistry()
	c, err := r.Lookup(QDeflateName)
	require.NoError(t, err)
	assert.Equal(t, QDeflateName, c.Name())

	_, err = r.Lookup("draco")
	assert.ErrorIs(t, err, ErrUnknownCodec)
	assert.Equal(t, []string{QDeflateName}, r.Names())
}
