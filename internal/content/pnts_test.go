package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pointCloudFixture struct {
	positions    []float32
	rgb          []uint8
	temperatures []float32
	secondary    []float32
	ids          []int
}

func newPointCloudFixture(n int) *pointCloudFixture {
	f := &pointCloudFixture{
		positions:    make([]float32, n*3),
		rgb:          make([]uint8, n*3),
		temperatures: make([]float32, n),
		secondary:    make([]float32, n*3),
		ids:          make([]int, n),
	}
	for i := 0; i < n; i++ {
		f.positions[i*3] = float32(i%100) * 0.25
		f.positions[i*3+1] = float32(i/100) * 0.5
		f.positions[i*3+2] = float32(i%7) * 0.125
		f.rgb[i*3] = uint8(i % 256)
		f.rgb[i*3+1] = uint8(255 - i%256)
		f.rgb[i*3+2] = 128
		f.temperatures[i] = 20 + float32(i)*0.01
		f.secondary[i*3] = 1
		f.secondary[i*3+1] = float32(i % 3)
		f.secondary[i*3+2] = 0.5
		f.ids[i] = i
	}
	return f
}

func (f *pointCloudFixture) batchTable(unaligned bool) *io.TableBuilder {
	bt := io.NewTableBuilder()
	bt.Unaligned = unaligned
	return bt.
		AddBinary("temperature", tools.ConvertFloat32SliceToByteArray(f.temperatures), "FLOAT", "SCALAR", 4).
		AddBinary("secondaryColor", tools.ConvertFloat32SliceToByteArray(f.secondary), "FLOAT", "VEC3", 4).
		Set("id", f.ids)
}

func (f *pointCloudFixture) plain(t *testing.T, unaligned bool) []byte {
	ft := io.NewTableBuilder()
	ft.Unaligned = unaligned
	ft.Set("POINTS_LENGTH", len(f.ids)).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray(f.positions), "", "", 4).
		AddBinary("RGB", f.rgb, "", "", 1)
	data, err := io.WritePnts(ft, f.batchTable(unaligned))
	require.NoError(t, err)
	return data
}

func (f *pointCloudFixture) compressed(t *testing.T, keepPlain bool) []byte {
	colors := make([]float64, len(f.rgb))
	for i, v := range f.rgb {
		colors[i] = float64(v)
	}
	encoded := encodeQDeflate(t, &codec.Mesh{
		VertexCount: len(f.ids),
		Attributes: []*codec.Attribute{
			{Name: "POSITION", Components: 3, Values: toFloat64(f.positions), QuantizationBits: 16},
			{Name: "RGB", Components: 3, Values: colors},
		},
	})
	ft := io.NewTableBuilder().Set("POINTS_LENGTH", len(f.ids))
	if keepPlain {
		ft.AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray(f.positions), "", "", 4).
			AddBinary("RGB", f.rgb, "", "", 1)
	}
	offset := ft.AppendRaw(encoded)
	ft.Set("extensions", map[string]interface{}{
		content.ExtensionCompressedGeometry: map[string]interface{}{
			"codec":      codec.QDeflateName,
			"byteOffset": offset,
			"byteLength": len(encoded),
		},
	})
	data, err := io.WritePnts(ft, f.batchTable(false))
	require.NoError(t, err)
	return data
}

func TestPntsThousandPointsWithTemperature(t *testing.T) {
	f := newPointCloudFixture(1000)
	c := decode(t, f.plain(t, false), content.FormatUnknown, nil)

	assert.Equal(t, content.FormatPNTS, c.Format)
	assert.Equal(t, 1000, c.FeatureCount)
	require.Len(t, c.Meshes, 1)
	assert.Equal(t, 1000, c.Meshes[0].VertexCount())

	temperature := c.BatchTable.Property("temperature")
	require.NotNil(t, temperature)
	assert.Equal(t, 1000, temperature.Len())
	assert.InDelta(t, 20.05, temperature.Value(5).(float64), 1e-5)

	secondary := c.BatchTable.Property("secondaryColor")
	require.NotNil(t, secondary)
	assert.Equal(t, 3000, secondary.Len())
	assert.Equal(t, []float64{1, 2, 0.5}, secondary.Value(5))

	assert.Equal(t, 1000, c.BatchTable.Property("id").Len())

	colors := c.Meshes[0].Attributes[content.AttributeColor]
	require.NotNil(t, colors)
	assert.Equal(t, 4, colors.Components)
	assert.InDelta(t, 10.0/255, colors.At(10, 0), 1e-6)
	assert.Equal(t, 1.0, colors.At(10, 3))
}

func TestPntsWithoutBatchTableIsUnbatched(t *testing.T) {
	ft := io.NewTableBuilder().
		Set("POINTS_LENGTH", 2).
		Set("CONSTANT_RGBA", []int{255, 0, 0, 255}).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 0, 1, 1, 1}), "", "", 4)
	data, err := io.WritePnts(ft, nil)
	require.NoError(t, err)

	c := decode(t, data, content.FormatUnknown, nil)
	assert.Equal(t, 0, c.FeatureCount)
	colors := c.Meshes[0].Attributes[content.AttributeColor]
	assert.Equal(t, []float32{1, 0, 0, 1, 1, 0, 0, 1}, colors.Float32s())
}

func TestPntsBatchIDsUseBatchLength(t *testing.T) {
	ft := io.NewTableBuilder().
		Set("POINTS_LENGTH", 3).
		Set("BATCH_LENGTH", 2).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 0, 1, 0, 0, 2, 0, 0}), "", "", 4).
		AddBinary("BATCH_ID", []byte{0, 1, 1}, "UNSIGNED_BYTE", "", 1)
	bt := io.NewTableBuilder().Set("name", []string{"a", "b"})
	data, err := io.WritePnts(ft, bt)
	require.NoError(t, err)

	c := decode(t, data, content.FormatUnknown, nil)
	assert.Equal(t, 2, c.FeatureCount)
	assert.Equal(t, []uint32{0, 1, 1}, c.Meshes[0].Attributes[content.AttributeBatchID].Uint32s())
}

func TestPntsQuantizedPositionsAndRGB565(t *testing.T) {
	quantized := tools.ConvertUint16SliceToByteArray([]uint16{0, 0, 0, 65535, 65535, 65535})
	ft := io.NewTableBuilder().
		Set("POINTS_LENGTH", 2).
		Set("QUANTIZED_VOLUME_OFFSET", []float64{-10, -10, -10}).
		Set("QUANTIZED_VOLUME_SCALE", []float64{20, 20, 20}).
		AddBinary("POSITION_QUANTIZED", quantized, "", "", 2).
		AddBinary("RGB565", tools.ConvertUint16SliceToByteArray([]uint16{0xf800, 0x07e0}), "", "", 2)
	data, err := io.WritePnts(ft, nil)
	require.NoError(t, err)

	c := decode(t, data, content.FormatUnknown, nil)
	positions := c.Meshes[0].Attributes[content.AttributePosition]
	assert.Equal(t, []float32{-10, -10, -10, 10, 10, 10}, positions.Float32s())
	colors := c.Meshes[0].Attributes[content.AttributeColor]
	assert.Equal(t, []float32{1, 0, 0, 1, 0, 1, 0, 1}, colors.Float32s())
}

func TestPntsUnalignedSections(t *testing.T) {
	f := newPointCloudFixture(33)
	aligned := decode(t, f.plain(t, false), content.FormatUnknown, nil)
	unaligned := decode(t, f.plain(t, true), content.FormatUnknown, nil)

	for name, attr := range aligned.Meshes[0].Attributes {
		require.Contains(t, unaligned.Meshes[0].Attributes, name)
		assert.Equal(t, attr.Float32s(), unaligned.Meshes[0].Attributes[name].Float32s(), name)
	}
	assert.Equal(t, aligned.BatchTable.Property("temperature").Binary.Data, unaligned.BatchTable.Property("temperature").Binary.Data)
}

func TestPntsCompressedMatchesPlain(t *testing.T) {
	f := newPointCloudFixture(500)
	plain := decode(t, f.plain(t, false), content.FormatUnknown, nil)
	compressed := decode(t, f.compressed(t, false), content.FormatUnknown, nil)

	plainPositions := plain.Meshes[0].Attributes[content.AttributePosition]
	compressedPositions := compressed.Meshes[0].Attributes[content.AttributePosition]
	require.Equal(t, plainPositions.Count, compressedPositions.Count)
	// x spans 24.75, y 2.0 and z 0.75 units over 65535 steps
	for i := 0; i < plainPositions.Len(); i++ {
		assert.InDelta(t, plainPositions.Float64(i), compressedPositions.Float64(i), 24.75/65535)
	}
	assert.Equal(t,
		plain.Meshes[0].Attributes[content.AttributeColor].Float32s(),
		compressed.Meshes[0].Attributes[content.AttributeColor].Float32s())
	assert.Equal(t, plain.FeatureCount, compressed.FeatureCount)
}

func TestPntsCompressedDisabledFallsBackToPlain(t *testing.T) {
	f := newPointCloudFixture(10)
	data := f.compressed(t, true)

	opts := content.NewDecodeOptions()
	opts.EnableCompressedGeometry = false
	c := decode(t, data, content.FormatUnknown, opts)
	assert.Equal(t, f.positions, c.Meshes[0].Attributes[content.AttributePosition].Float32s())

	_, err := content.Decode(f.compressed(t, false), content.FormatUnknown, opts)
	requireKind(t, err, content.UnsupportedCodec)
}

func TestPntsMissingPointsLength(t *testing.T) {
	ft := io.NewTableBuilder().
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 0}), "", "", 4)
	data, err := io.WritePnts(ft, nil)
	require.NoError(t, err)

	_, err = content.Decode(data, content.FormatUnknown, nil)
	requireKind(t, err, content.MissingAttribute)
}

func TestPntsHugePointsLengthIsCorrupt(t *testing.T) {
	ft := io.NewTableBuilder().
		Set("POINTS_LENGTH", 1<<62).
		AddBinary("POSITION", tools.ConvertFloat32SliceToByteArray([]float32{0, 0, 0}), "", "", 4)
	data, err := io.WritePnts(ft, nil)
	require.NoError(t, err)

	_, err = content.Decode(data, content.FormatUnknown, nil)
	requireKind(t, err, content.CorruptBuffer)
}
