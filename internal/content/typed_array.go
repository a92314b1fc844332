package content

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// WebGL component types
type ComponentType int

const (
	Byte          ComponentType = 5120
	UnsignedByte  ComponentType = 5121
	Short         ComponentType = 5122
	UnsignedShort ComponentType = 5123
	Int           ComponentType = 5124
	UnsignedInt   ComponentType = 5125
	Float         ComponentType = 5126
	Double        ComponentType = 5130
)

func (c ComponentType) Size() int {
	switch c {
	case Byte, UnsignedByte:
		return 1
	case Short, UnsignedShort:
		return 2
	case Int, UnsignedInt, Float:
		return 4
	case Double:
		return 8
	}
	return 0
}

func (c ComponentType) String() string {
	switch c {
	case Byte:
		return "BYTE"
	case UnsignedByte:
		return "UNSIGNED_BYTE"
	case Short:
		return "SHORT"
	case UnsignedShort:
		return "UNSIGNED_SHORT"
	case Int:
		return "INT"
	case UnsignedInt:
		return "UNSIGNED_INT"
	case Float:
		return "FLOAT"
	case Double:
		return "DOUBLE"
	}
	return fmt.Sprintf("ComponentType(%d)", int(c))
}

// Parses the component type names used by feature and batch tables
func ParseComponentType(value string) (ComponentType, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "BYTE":
		return Byte, true
	case "UNSIGNED_BYTE":
		return UnsignedByte, true
	case "SHORT":
		return Short, true
	case "UNSIGNED_SHORT":
		return UnsignedShort, true
	case "INT":
		return Int, true
	case "UNSIGNED_INT":
		return UnsignedInt, true
	case "FLOAT":
		return Float, true
	case "DOUBLE":
		return Double, true
	}
	return 0, false
}

// Returns the number of components of a SCALAR, VECn or MATn element type
func ComponentsOf(elementType string) (int, bool) {
	switch strings.ToUpper(elementType) {
	case "SCALAR":
		return 1, true
	case "VEC2":
		return 2, true
	case "VEC3":
		return 3, true
	case "VEC4", "MAT2":
		return 4, true
	case "MAT3":
		return 9, true
	case "MAT4":
		return 16, true
	}
	return 0, false
}

// TypedArray holds Count elements of Components values each, tightly packed
// little endian in Data.
type TypedArray struct {
	ComponentType ComponentType
	Components    int
	Count         int
	Normalized    bool
	Data          []byte
}

func NewTypedArray(componentType ComponentType, components, count int) *TypedArray {
	return &TypedArray{
		ComponentType: componentType,
		Components:    components,
		Count:         count,
		Data:          make([]byte, componentType.Size()*components*count),
	}
}

// Copies a typed array out of buf. byteStride 0 means tightly packed.
func ReadTypedArray(buf []byte, byteOffset, byteStride int, componentType ComponentType, components, count int) (*TypedArray, error) {
	elementSize := componentType.Size() * components
	if elementSize == 0 {
		return nil, fmt.Errorf("invalid component type %d", int(componentType))
	}
	if byteStride == 0 {
		byteStride = elementSize
	}
	if byteStride < elementSize {
		return nil, fmt.Errorf("byte stride %d smaller than element size %d", byteStride, elementSize)
	}
	if count < 0 || byteOffset < 0 {
		return nil, fmt.Errorf("negative offset or count")
	}
	// checked by division so that corrupt counts cannot overflow the multiplication
	if count > 0 {
		available := len(buf) - byteOffset
		if available < elementSize || count-1 > (available-elementSize)/byteStride {
			return nil, fmt.Errorf("typed array of %d elements at offset %d out of buffer bounds %d", count, byteOffset, len(buf))
		}
	}
	arr := NewTypedArray(componentType, components, count)
	if byteStride == elementSize {
		copy(arr.Data, buf[byteOffset:byteOffset+count*elementSize])
		return arr, nil
	}
	for i := 0; i < count; i++ {
		start := byteOffset + i*byteStride
		copy(arr.Data[i*elementSize:(i+1)*elementSize], buf[start:start+elementSize])
	}
	return arr, nil
}

func NewFloat32Array(values []float32, components int) *TypedArray {
	arr := NewTypedArray(Float, components, len(values)/components)
	for i, v := range values {
		binary.LittleEndian.PutUint32(arr.Data[i*4:], math.Float32bits(v))
	}
	return arr
}

func NewUint32Array(values []uint32, components int) *TypedArray {
	arr := NewTypedArray(UnsignedInt, components, len(values)/components)
	for i, v := range values {
		binary.LittleEndian.PutUint32(arr.Data[i*4:], v)
	}
	return arr
}

func NewUint16Array(values []uint16, components int) *TypedArray {
	arr := NewTypedArray(UnsignedShort, components, len(values)/components)
	for i, v := range values {
		binary.LittleEndian.PutUint16(arr.Data[i*2:], v)
	}
	return arr
}

// Number of scalar values
func (a *TypedArray) Len() int {
	return a.Count * a.Components
}

func (a *TypedArray) ByteLength() int {
	return len(a.Data)
}

// Returns the i-th scalar value, normalized to [0, 1] or [-1, 1] when Normalized is set
func (a *TypedArray) Float64(i int) float64 {
	d := a.Data
	switch a.ComponentType {
	case Byte:
		v := float64(int8(d[i]))
		if a.Normalized {
			return math.Max(v/127, -1)
		}
		return v
	case UnsignedByte:
		v := float64(d[i])
		if a.Normalized {
			return v / 255
		}
		return v
	case Short:
		v := float64(int16(binary.LittleEndian.Uint16(d[i*2:])))
		if a.Normalized {
			return math.Max(v/32767, -1)
		}
		return v
	case UnsignedShort:
		v := float64(binary.LittleEndian.Uint16(d[i*2:]))
		if a.Normalized {
			return v / 65535
		}
		return v
	case Int:
		return float64(int32(binary.LittleEndian.Uint32(d[i*4:])))
	case UnsignedInt:
		return float64(binary.LittleEndian.Uint32(d[i*4:]))
	case Float:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(d[i*4:])))
	case Double:
		return math.Float64frombits(binary.LittleEndian.Uint64(d[i*8:]))
	}
	return 0
}

// Returns component c of element i
func (a *TypedArray) At(i, c int) float64 {
	return a.Float64(i*a.Components + c)
}

func (a *TypedArray) Float64s() []float64 {
	out := make([]float64, a.Len())
	for i := range out {
		out[i] = a.Float64(i)
	}
	return out
}

func (a *TypedArray) Float32s() []float32 {
	out := make([]float32, a.Len())
	for i := range out {
		out[i] = float32(a.Float64(i))
	}
	return out
}

func (a *TypedArray) Uint32s() []uint32 {
	out := make([]uint32, a.Len())
	for i := range out {
		out[i] = uint32(a.Float64(i))
	}
	return out
}

// Returns a copy of the array converted to float32 values
func (a *TypedArray) ToFloat32() *TypedArray {
	if a.ComponentType == Float && !a.Normalized {
		return a
	}
	return NewFloat32Array(a.Float32s(), a.Components)
}
