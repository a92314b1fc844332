package io

import (
	"os"
	"path"

	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/ecopia-map/cesium_streamer/tools"
	json "github.com/goccy/go-json"
)

type Asset struct {
	Version        string `json:"version"`
	TilesetVersion string `json:"tilesetVersion,omitempty"`
}

// Exactly one of the arrays is set
type BoundingVolume struct {
	Box    []float64 `json:"box,omitempty"`
	Region []float64 `json:"region,omitempty"`
	Sphere []float64 `json:"sphere,omitempty"`
}

type Content struct {
	URI string `json:"uri"`
}

type Tile struct {
	BoundingVolume BoundingVolume `json:"boundingVolume"`
	GeometricError float64        `json:"geometricError"`
	Refine         string         `json:"refine,omitempty"`
	Transform      []float64      `json:"transform,omitempty"`
	Content        *Content       `json:"content,omitempty"`
	Children       []Tile         `json:"children,omitempty"`
}

type Tileset struct {
	Asset          Asset   `json:"asset"`
	GeometricError float64 `json:"geometricError"`
	Root           Tile    `json:"root"`
}

func NewTileset(geometricError float64, root Tile) *Tileset {
	return &Tileset{
		Asset:          Asset{Version: "1.0"},
		GeometricError: geometricError,
		Root:           root,
	}
}

// Returns the 12 values of a tileset box bounding volume
func BoxVolume(box *geometry.Box) BoundingVolume {
	c := box.Center()
	axes := box.HalfAxes()
	return BoundingVolume{Box: []float64{
		c.X, c.Y, c.Z,
		axes[0].X, axes[0].Y, axes[0].Z,
		axes[1].X, axes[1].Y, axes[1].Z,
		axes[2].X, axes[2].Y, axes[2].Z,
	}}
}

// Outputs a formatted json document
func (t *Tileset) Bytes() ([]byte, error) {
	return json.MarshalIndent(t, "", "\t")
}

// Writes the tileset.json file in the given folder
func WriteTilesetFile(folder string, t *Tileset) error {
	if err := tools.CreateDirectoryIfDoesNotExist(folder); err != nil {
		return err
	}
	jsonData, err := t.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path.Join(folder, tools.TilesetFileName), jsonData, 0666)
}
