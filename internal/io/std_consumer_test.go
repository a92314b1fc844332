package io_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/cesium_streamer/internal/data"
	"github.com/ecopia-map/cesium_streamer/internal/converters/ellipsoid_coordinate_converter"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/ecopia-map/cesium_streamer/internal/octree/grid_tree"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/tools"
	json "github.com/goccy/go-json"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) octree.ITree {
	tree := grid_tree.NewGridTree(
		ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter(),
		offset_elevation_corrector.NewOffsetElevationCorrector(0),
		20,
		5,
	)
	for i := 0; i < 40; i++ {
		for j := 0; j < 40; j++ {
			coord := r3.Vector{X: 12 + float64(i)*0.00002, Y: 42 + float64(j)*0.00002, Z: float64((i + j) % 7)}
			require.NoError(t, tree.AddPoint(coord, converters.SridWGS84Geographic, data.PointAttributes{R: 10, G: 20, B: 30, Intensity: 4, Classification: 5, Temperature: 21.5}))
		}
	}
	require.NoError(t, tree.Build())
	return tree
}

func runPipeline(t *testing.T, tree octree.ITree, output string, refine tiler.RefineMode, geometryCodec codec.GeometryCodec) {
	workChannel := make(chan *io.WorkUnit, 10)
	errorChannel := make(chan error, 4)

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go io.NewStandardProducer(output, "cloud").Produce(workChannel, &waitGroup, tree.GetRootNode())
	for i := 0; i < 4; i++ {
		waitGroup.Add(1)
		go io.NewStandardConsumer(refine, geometryCodec).Consume(workChannel, errorChannel, &waitGroup)
	}
	waitGroup.Wait()
	close(errorChannel)
	for err := range errorChannel {
		require.NoError(t, err)
	}
}

func readTileset(t *testing.T, path string) *io.Tileset {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var ts io.Tileset
	require.NoError(t, json.Unmarshal(data, &ts))
	return &ts
}

func decodeContent(t *testing.T, path string) *content.TileContent {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	c, err := content.Decode(data, content.FormatUnknown, nil)
	require.NoError(t, err)
	return c
}

func TestGeneratedTilesetIsReadable(t *testing.T) {
	tree := buildTree(t)
	output := t.TempDir()
	runPipeline(t, tree, output, tiler.RefineModeAdd, nil)

	root := tree.GetRootNode()
	folder := filepath.Join(output, "cloud")
	ts := readTileset(t, filepath.Join(folder, tools.TilesetFileName))
	assert.Equal(t, "1.0", ts.Asset.Version)
	assert.Equal(t, "ADD", ts.Root.Refine)
	assert.Equal(t, io.ContentFileName, ts.Root.Content.URI)
	assert.Len(t, ts.Root.BoundingVolume.Box, 12)
	assert.Equal(t, root.ComputeGeometricError(), ts.Root.GeometricError)
	require.Len(t, ts.Root.Children, len(root.GetChildren()))

	c := decodeContent(t, filepath.Join(folder, io.ContentFileName))
	assert.Equal(t, content.FormatPNTS, c.Format)
	assert.Equal(t, int(root.NumberOfPoints()), c.Meshes[0].VertexCount())
	assert.Equal(t, int(root.NumberOfPoints()), c.FeatureCount)
	assert.Equal(t, 21.5, c.BatchTable.Property("TEMPERATURE").Value(0))
	assert.Equal(t, 5.0, c.BatchTable.Property("CLASSIFICATION").Value(0))

	// the first point is back in ecef once the rtc center is added
	first := root.GetPoints()[0]
	positions := c.Meshes[0].Attributes[content.AttributePosition]
	assert.InDelta(t, first.X, c.RTCCenter.X+positions.At(0, 0), 1e-2)
	assert.InDelta(t, first.Y, c.RTCCenter.Y+positions.At(0, 1), 1e-2)
	assert.InDelta(t, first.Z, c.RTCCenter.Z+positions.At(0, 2), 1e-2)

	// every referenced child resolves to a file
	for _, child := range ts.Root.Children {
		_, err := os.Stat(filepath.Join(folder, child.Content.URI))
		assert.NoError(t, err, child.Content.URI)
	}
}

func TestGeneratedTilesetWithCompressedGeometry(t *testing.T) {
	tree := buildTree(t)
	plainOutput, compressedOutput := t.TempDir(), t.TempDir()
	runPipeline(t, tree, plainOutput, tiler.RefineModeReplace, nil)
	runPipeline(t, tree, compressedOutput, tiler.RefineModeReplace, codec.NewQDeflateCodec())

	plain := decodeContent(t, filepath.Join(plainOutput, "cloud", io.ContentFileName))
	compressed := decodeContent(t, filepath.Join(compressedOutput, "cloud", io.ContentFileName))
	assert.Equal(t, plain.RTCCenter, compressed.RTCCenter)

	p := plain.Meshes[0].Attributes[content.AttributePosition]
	c := compressed.Meshes[0].Attributes[content.AttributePosition]
	require.Equal(t, p.Count, c.Count)
	for i := 0; i < p.Len(); i++ {
		// 16 bit quantization over a few hundred meters
		assert.InDelta(t, p.Float64(i), c.Float64(i), 0.05)
	}
	assert.Equal(t, "REPLACE", readTileset(t, filepath.Join(compressedOutput, "cloud", tools.TilesetFileName)).Root.Refine)
}
