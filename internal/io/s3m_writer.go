package io

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/klauspost/compress/zlib"
)

// S3MChild is a child block reference of a S3M block
type S3MChild struct {
	URL        string
	Center     [3]float64
	Radius     float64
	RangeValue float32
}

// S3MVertexPackage is one mesh of a S3M block. Empty slices leave the attribute out.
type S3MVertexPackage struct {
	Name      string
	Positions []float32
	// CompressVertex stores the positions as int16 with a per axis origin and step
	CompressVertex bool
	Normals        []float32
	Colors         []uint8 // RGBA
	BatchIDs       []float32
	Indices        []uint32
	Uint32Indices  bool
}

// S3MBlock is the content of a S3M block, Version 2.x or 3.x
type S3MBlock struct {
	Version        float32
	Children       []S3MChild
	Packages       []S3MVertexPackage
	BatchTableJSON []byte
}

type blockWriter struct {
	bytes.Buffer
}

func (w *blockWriter) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func (w *blockWriter) putFloat32(v float32) {
	w.putUint32(math.Float32bits(v))
}

func (w *blockWriter) putFloat64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.Write(b[:])
}

func (w *blockWriter) putString(s string) {
	w.putUint32(uint32(len(s)))
	w.WriteString(s)
}

// Positions are quantized on the int16 range around the center of their bounds
func quantizePositions(positions []float32) (origin, step [3]float32, quantized []int16) {
	var lo, hi [3]float32
	for c := 0; c < 3; c++ {
		lo[c], hi[c] = math.MaxFloat32, -math.MaxFloat32
	}
	for i, v := range positions {
		c := i % 3
		if v < lo[c] {
			lo[c] = v
		}
		if v > hi[c] {
			hi[c] = v
		}
	}
	for c := 0; c < 3; c++ {
		origin[c] = (lo[c] + hi[c]) / 2
		step[c] = (hi[c] - lo[c]) / 65534
		if step[c] == 0 {
			step[c] = 1
		}
	}
	quantized = make([]int16, len(positions))
	for i, v := range positions {
		c := i % 3
		quantized[i] = int16(math.Round(float64((v - origin[c]) / step[c])))
	}
	return origin, step, quantized
}

func (w *blockWriter) putPackage(p S3MVertexPackage, major int) {
	vertexCount := len(p.Positions) / 3
	w.putString(p.Name)
	w.putUint32(uint32(vertexCount))

	var flags uint32
	if p.CompressVertex {
		flags |= 1
	}
	if len(p.Normals) > 0 {
		flags |= 2
	}
	if len(p.Colors) > 0 {
		flags |= 4
	}
	if len(p.BatchIDs) > 0 {
		flags |= 8
	}
	w.putUint32(flags)

	if p.CompressVertex {
		origin, step, quantized := quantizePositions(p.Positions)
		for _, v := range origin {
			w.putFloat32(v)
		}
		for _, v := range step {
			w.putFloat32(v)
		}
		for _, q := range quantized {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(q))
			w.Write(b[:])
		}
	} else {
		for _, v := range p.Positions {
			w.putFloat32(v)
		}
	}
	for _, v := range p.Normals {
		w.putFloat32(v)
	}

	if major >= 3 && len(p.Colors) > 0 && len(p.BatchIDs) > 0 {
		for i := 0; i < vertexCount; i++ {
			w.Write(p.Colors[i*4 : i*4+4])
			w.putFloat32(p.BatchIDs[i])
		}
	} else {
		w.Write(p.Colors)
		for _, v := range p.BatchIDs {
			w.putFloat32(v)
		}
	}

	w.putUint32(uint32(len(p.Indices)))
	if p.Uint32Indices {
		w.Write([]byte{1, 0, 0, 0})
		for _, v := range p.Indices {
			w.putUint32(v)
		}
	} else {
		w.Write([]byte{0, 0, 0, 0})
		for _, v := range p.Indices {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(v))
			w.Write(b[:])
		}
	}
}

// Writes a S3M block with a zlib compressed payload
func WriteS3M(block S3MBlock) ([]byte, error) {
	major := int(block.Version)
	payload := &blockWriter{}
	payload.putUint32(uint32(len(block.Children)))
	for _, c := range block.Children {
		payload.putString(c.URL)
		for _, v := range c.Center {
			payload.putFloat64(v)
		}
		payload.putFloat64(c.Radius)
		payload.putFloat32(c.RangeValue)
	}
	payload.putUint32(uint32(len(block.Packages)))
	for _, p := range block.Packages {
		payload.putPackage(p, major)
	}
	payload.putUint32(uint32(len(block.BatchTableJSON)))
	payload.Write(block.BatchTableJSON)

	var zipped bytes.Buffer
	zw, err := zlib.NewWriterLevel(&zipped, zlib.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload.Bytes()); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := &blockWriter{}
	out.putFloat32(block.Version)
	out.putUint32(uint32(payload.Len()))
	if major >= 3 {
		out.putUint32(0)
	}
	out.putUint32(uint32(zipped.Len()))
	out.Write(zipped.Bytes())
	return out.Bytes(), nil
}
