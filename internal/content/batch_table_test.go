package content_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/ecopia-map/cesium_streamer/tools"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchTableBinaryRoundTrip(t *testing.T) {
	heights := []float32{1.5, 2.5, 3.5}
	codes := []uint16{7, 8, 9}
	centers := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}

	builder := io.NewTableBuilder().
		Set("name", []string{"a", "b", "c"}).
		AddBinary("height", tools.ConvertFloat32SliceToByteArray(heights), "FLOAT", "SCALAR", 4).
		AddBinary("code", tools.ConvertUint16SliceToByteArray(codes), "UNSIGNED_SHORT", "SCALAR", 2)
	centerBytes := make([]byte, 0, len(centers)*8)
	for _, v := range centers {
		centerBytes = append(centerBytes, tools.ConvertFloat64ToByteArray(v)...)
	}
	builder.AddBinary("center", centerBytes, "DOUBLE", "VEC3", 8)
	header, binary, err := builder.Bytes(0)
	require.NoError(t, err)

	bt, err := content.ParseBatchTable(content.FormatB3DM, header, binary, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"center", "code", "height", "name"}, bt.Names())

	var properties map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(header, &properties))

	cases := []struct {
		name          string
		componentType content.ComponentType
		components    int
		size          int
	}{
		{"height", content.Float, 1, 4},
		{"code", content.UnsignedShort, 1, 2},
		{"center", content.Double, 3, 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			property := bt.Property(tc.name)
			require.NotNil(t, property)
			require.NotNil(t, property.Binary)
			assert.Equal(t, tc.componentType, property.Binary.ComponentType)
			assert.Equal(t, tc.components, property.Binary.Components)
			assert.Equal(t, 3, property.Binary.Count)

			var descriptor struct {
				ByteOffset int `json:"byteOffset"`
			}
			require.NoError(t, json.Unmarshal(properties[tc.name], &descriptor))
			offset := descriptor.ByteOffset
			length := 3 * tc.components * tc.size
			assert.Equal(t, binary[offset:offset+length], property.Binary.Data)
		})
	}

	assert.Equal(t, 2.5, bt.Property("height").Value(1))
	assert.Equal(t, 9.0, bt.Property("code").Value(2))
	assert.Equal(t, []float64{4, 5, 6}, bt.Property("center").Value(1))
	assert.Equal(t, "c", bt.Property("name").Value(2))
	assert.Nil(t, bt.Property("name").Value(3))
	assert.Nil(t, bt.Property("missing"))
}

func TestBatchTableErrors(t *testing.T) {
	_, err := content.ParseBatchTable(content.FormatPNTS, []byte(`{"height":{"byteOffset":0,"componentType":"FLOAT","type":"SCALAR"}}`), make([]byte, 8), 3)
	requireKind(t, err, content.CorruptBuffer)

	_, err = content.ParseBatchTable(content.FormatPNTS, []byte(`{"height":{"byteOffset":0,"componentType":"HALF","type":"SCALAR"}}`), make([]byte, 12), 3)
	requireKind(t, err, content.CorruptBuffer)

	_, err = content.ParseBatchTable(content.FormatPNTS, []byte(`{"height":12}`), nil, 3)
	requireKind(t, err, content.CorruptBuffer)
}

func TestBatchTableExtensions(t *testing.T) {
	bt, err := content.ParseBatchTable(content.FormatB3DM, []byte(`{"extensions":{"3DTILES_batch_table_hierarchy":{"classes":[]}},"id":[1,2]}  `), nil, 2)
	require.NoError(t, err)
	assert.Contains(t, bt.Extensions, "3DTILES_batch_table_hierarchy")
	assert.Equal(t, []string{"id"}, bt.Names())
}
