// Package ply writes decoded tile geometry as a colored PLY point set.
package ply

import (
	"errors"
	"unsafe"

	"github.com/cobaltgray/go-plyfile"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/golang/geo/r3"
)

type Vertex struct {
	X, Y, Z float32
	R, G, B uint8
}

var ErrNoVertices = errors.New("no vertices to write")

// Transform applied to the tile space positions before they are written, e.g. a reprojection
type PositionTransform func(p r3.Vector) (r3.Vector, error)

// Collects the vertices of every mesh and instance of the content, in tile coordinates.
// Colors default to white when the mesh has no COLOR_0.
func VerticesFromContent(c *content.TileContent, transform PositionTransform) ([]Vertex, error) {
	var verts []Vertex
	for _, leaf := range c.Leaves() {
		for _, m := range leaf.Meshes {
			positions, ok := m.Attributes[content.AttributePosition]
			if !ok {
				continue
			}
			colors := m.Attributes[content.AttributeColor]
			for _, matrix := range leaf.MeshTransforms(m) {
				for i := 0; i < positions.Count; i++ {
					p := matrix.MultiplyPoint(r3.Vector{X: positions.At(i, 0), Y: positions.At(i, 1), Z: positions.At(i, 2)})
					if transform != nil {
						var err error
						if p, err = transform(p); err != nil {
							return nil, err
						}
					}
					v := Vertex{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z), R: 255, G: 255, B: 255}
					if colors != nil && colors.Count == positions.Count && colors.Components >= 3 {
						v.R = toByte(colors.At(i, 0))
						v.G = toByte(colors.At(i, 1))
						v.B = toByte(colors.At(i, 2))
					}
					verts = append(verts, v)
				}
			}
		}
	}
	return verts, nil
}

func toByte(normalized float64) uint8 {
	if normalized <= 0 {
		return 0
	}
	if normalized >= 1 {
		return 255
	}
	return uint8(normalized*255 + 0.5)
}

// Writes the vertices to a binary little endian PLY file
func WritePlyFile(filePath string, verts []Vertex) error {
	if len(verts) == 0 {
		return ErrNoVertices
	}

	var v Vertex
	vertProps := []plyfile.PlyProperty{
		{"x", plyfile.PLY_FLOAT, plyfile.PLY_FLOAT, int(unsafe.Offsetof(v.X)), 0, 0, 0, 0},
		{"y", plyfile.PLY_FLOAT, plyfile.PLY_FLOAT, int(unsafe.Offsetof(v.Y)), 0, 0, 0, 0},
		{"z", plyfile.PLY_FLOAT, plyfile.PLY_FLOAT, int(unsafe.Offsetof(v.Z)), 0, 0, 0, 0},
		{"red", plyfile.PLY_UCHAR, plyfile.PLY_UCHAR, int(unsafe.Offsetof(v.R)), 0, 0, 0, 0},
		{"green", plyfile.PLY_UCHAR, plyfile.PLY_UCHAR, int(unsafe.Offsetof(v.G)), 0, 0, 0, 0},
		{"blue", plyfile.PLY_UCHAR, plyfile.PLY_UCHAR, int(unsafe.Offsetof(v.B)), 0, 0, 0, 0},
	}

	elemNames := []string{"vertex"}
	var version float32
	cplyfile := plyfile.PlyOpenForWriting(filePath, len(elemNames), elemNames, plyfile.PLY_BINARY_LE, &version)
	if cplyfile == nil {
		return errors.New("cannot open " + filePath + " for writing")
	}

	plyfile.PlyElementCount(cplyfile, "vertex", len(verts))
	for _, prop := range vertProps {
		plyfile.PlyDescribeProperty(cplyfile, "vertex", prop)
	}
	plyfile.PlyHeaderComplete(cplyfile)

	plyfile.PlyPutElementSetup(cplyfile, "vertex")
	for _, vert := range verts {
		plyfile.PlyPutElement(cplyfile, vert)
	}

	plyfile.PlyClose(cplyfile)
	return nil
}
