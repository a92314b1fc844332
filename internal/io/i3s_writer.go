package io

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/tools"
)

// I3SGeometry is the non indexed triangle geometry of an I3S node.
// Positions are offsets from the node center.
type I3SGeometry struct {
	Positions  []float32
	Normals    []float32
	UV0        []float32
	Colors     []uint8
	FeatureIDs []uint64
	// [first, last] triangle of every feature
	FaceRanges []uint32
}

func (g I3SGeometry) vertexCount() int {
	return len(g.Positions) / 3
}

func putI3SValue(out []byte, valueType string, v float64) []byte {
	var b [8]byte
	switch valueType {
	case "Int8", "UInt8":
		return append(out, byte(int64(v)))
	case "Int16", "UInt16":
		binary.LittleEndian.PutUint16(b[:], uint16(int64(v)))
		return append(out, b[:2]...)
	case "Int32", "UInt32", "Oid32":
		binary.LittleEndian.PutUint32(b[:], uint32(int64(v)))
		return append(out, b[:4]...)
	case "Float32":
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
		return append(out, b[:4]...)
	case "Float64":
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		return append(out, b[:]...)
	case "Int64", "UInt64", "Oid64":
		binary.LittleEndian.PutUint64(b[:], uint64(int64(v)))
		return append(out, b[:]...)
	}
	return out
}

func (g I3SGeometry) values(name string) ([]float64, error) {
	var out []float64
	switch name {
	case "position":
		for _, v := range g.Positions {
			out = append(out, float64(v))
		}
	case "normal":
		for _, v := range g.Normals {
			out = append(out, float64(v))
		}
	case "uv0":
		for _, v := range g.UV0 {
			out = append(out, float64(v))
		}
	case "color":
		for _, v := range g.Colors {
			out = append(out, float64(v))
		}
	case "featureId":
		for _, v := range g.FeatureIDs {
			out = append(out, float64(v))
		}
	case "faceRange":
		for _, v := range g.FaceRanges {
			out = append(out, float64(v))
		}
	case "vertexCount":
		out = []float64{float64(g.vertexCount())}
	case "featureCount":
		out = []float64{float64(len(g.FeatureIDs))}
	default:
		return nil, fmt.Errorf("i3s field %s is not supported by the writer", name)
	}
	return out, nil
}

// Writes the uncompressed geometry buffer of a node with the given layout
func WriteI3SGeometry(layout *content.I3SLayout, g I3SGeometry) ([]byte, error) {
	var out []byte
	for _, field := range layout.HeaderFields {
		values, err := g.values(field.Name)
		if err != nil {
			return nil, err
		}
		out = putI3SValue(out, field.ValueType, values[0])
	}
	for len(out) < layout.HeaderSize {
		out = append(out, 0)
	}
	fields := append(append([]content.I3SField{}, layout.VertexAttributes...), layout.FeatureAttributes...)
	for _, field := range fields {
		values, err := g.values(field.Name)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = putI3SValue(out, field.ValueType, v)
		}
	}
	return out, nil
}

// Writes the compressed geometry buffer of a node through the named codec.
// Attributes are named after the compressedAttributes of the layer: position, normal, uv0, color, feature-index.
func WriteI3SCompressedGeometry(geometryCodec codec.GeometryCodec, g I3SGeometry) ([]byte, error) {
	vertexCount := g.vertexCount()
	mesh := &codec.Mesh{VertexCount: vertexCount}
	add := func(name string, components int, values []float64, bits int) {
		if len(values) == 0 {
			return
		}
		mesh.Attributes = append(mesh.Attributes, &codec.Attribute{Name: name, Components: components, Values: values, QuantizationBits: bits})
	}
	positions, _ := g.values("position")
	normals, _ := g.values("normal")
	uv0, _ := g.values("uv0")
	colors, _ := g.values("color")
	add("position", 3, positions, 0)
	add("normal", 3, normals, 0)
	add("uv0", 2, uv0, 0)
	add("color", 4, colors, 0)

	if len(g.FaceRanges) > 0 {
		featureIndex := make([]float64, vertexCount)
		for f := 0; f < len(g.FaceRanges)/2; f++ {
			for v := int(g.FaceRanges[f*2]) * 3; v <= int(g.FaceRanges[f*2+1])*3+2 && v < vertexCount; v++ {
				featureIndex[v] = float64(f)
			}
		}
		add("feature-index", 1, featureIndex, 0)
	}
	return geometryCodec.Encode(mesh)
}

// Writes a numeric attribute buffer: count then the values aligned to their size
func WriteI3SAttributeBuffer(valueType string, values []float64) []byte {
	out := tools.ConvertIntToByteArray(len(values))
	size := len(putI3SValue(nil, valueType, 0))
	out = append(out, make([]byte, tools.PaddingSize(len(out), size))...)
	for _, v := range values {
		out = putI3SValue(out, valueType, v)
	}
	return out
}

// Writes a string attribute buffer: count, total byte count, byte counts then the null terminated strings
func WriteI3SStringAttributeBuffer(values []string) []byte {
	total := 0
	for _, v := range values {
		total += len(v) + 1
	}
	out := tools.ConvertIntToByteArray(len(values))
	out = append(out, tools.ConvertIntToByteArray(total)...)
	for _, v := range values {
		out = append(out, tools.ConvertIntToByteArray(len(v)+1)...)
	}
	for _, v := range values {
		out = append(out, []byte(v)...)
		out = append(out, 0)
	}
	return out
}
