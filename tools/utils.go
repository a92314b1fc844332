package tools

import (
	"encoding/binary"
	"math"

	json "github.com/goccy/go-json"
)

const (
	TilesetFileName = "tileset.json"
)

func FmtJSONString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "marshal data fail"
	}
	return string(data)
}

func ConvertIntToByteArray(value int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(value))
	return b
}

func ConvertUint16ToByteArray(value uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, value)
	return b
}

func ConvertFloat32ToByteArray(value float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(value))
	return b
}

func ConvertFloat64ToByteArray(value float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(value))
	return b
}

// Truncates the float64 values to float32 and returns them as a little endian byte array
func ConvertTruncateFloat64ToFloat32ByteArray(values []float64) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = append(out, ConvertFloat32ToByteArray(float32(v))...)
	}
	return out
}

func ConvertFloat32SliceToByteArray(values []float32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = append(out, ConvertFloat32ToByteArray(v)...)
	}
	return out
}

func ConvertUint16SliceToByteArray(values []uint16) []byte {
	out := make([]byte, 0, len(values)*2)
	for _, v := range values {
		out = append(out, ConvertUint16ToByteArray(v)...)
	}
	return out
}

func ConvertUint32SliceToByteArray(values []uint32) []byte {
	out := make([]byte, 0, len(values)*4)
	for _, v := range values {
		out = append(out, ConvertIntToByteArray(int(v))...)
	}
	return out
}

// Returns the number of padding bytes needed to align length to the given boundary
func PaddingSize(length int, boundary int) int {
	rem := length % boundary
	if rem == 0 {
		return 0
	}
	return boundary - rem
}
