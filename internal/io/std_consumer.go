package io

import (
	"os"
	"path"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/content"
	"github.com/ecopia-map/cesium_streamer/internal/data"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/glog"
)

const (
	ContentFileName = "content.pnts"

	// Quantization of the compressed positions
	compressedPositionBits = 16
)

type StandardConsumer struct {
	refineMode    tiler.RefineMode
	geometryCodec codec.GeometryCodec
}

// geometryCodec may be nil, the points are then written as plain feature table properties
func NewStandardConsumer(refineMode tiler.RefineMode, geometryCodec codec.GeometryCodec) Consumer {
	return &StandardConsumer{
		refineMode:    refineMode,
		geometryCodec: geometryCodec,
	}
}

// struct used to store data in an intermediate format
type intermediateData struct {
	coords          []float64
	colors          []uint8
	intensities     []uint8
	classifications []uint8
	temperatures    []float32
	numPoints       int
}

// Continually consumes WorkUnits submitted to a work channel producing corresponding content.pnts files and tileset.json files
// continues working until work channel is closed or if an error is raised. In this last case submits the error to an error
// channel before quitting
func (c *StandardConsumer) Consume(workchan chan *WorkUnit, errchan chan error, waitGroup *sync.WaitGroup) {
	defer waitGroup.Done()

	for work := range workchan {
		if err := c.doWork(work); err != nil {
			glog.Errorf("cannot write node %s at depth %d: %v", work.BasePath, work.Depth, err)
			errchan <- err
			// keep draining so that the producer never blocks
			for range workchan {
			}
			return
		}
	}
}

// Takes a workunit and writes the corresponding content.pnts and tileset.json files
func (c *StandardConsumer) doWork(workUnit *WorkUnit) error {
	if err := c.writeBinaryPntsFile(workUnit); err != nil {
		return err
	}

	if !workUnit.Node.IsLeaf() || workUnit.Node.IsRoot() {
		// if the node has children also writes the tileset.json file
		return WriteTilesetFile(workUnit.BasePath, c.generateTileset(workUnit.Node))
	}
	return nil
}

// Writes a content.pnts binary files from the given WorkUnit
func (c *StandardConsumer) writeBinaryPntsFile(workUnit *WorkUnit) error {
	parentFolder := workUnit.BasePath

	// Create base folder if it does not exist
	if err := tools.CreateDirectoryIfDoesNotExist(parentFolder); err != nil {
		return err
	}

	intermediatePointData := c.generateIntermediateDataForPnts(workUnit.Node)

	// Evaluating average X, Y, Z to express coords relative to tile center
	averageXYZ := c.computeAverageXYZ(intermediatePointData)

	// Normalizing coordinates relative to average
	c.subtractXYZFromIntermediateDataCoords(intermediatePointData, averageXYZ)

	outputByte, err := c.generatePnts(intermediatePointData, averageXYZ)
	if err != nil {
		return err
	}

	// Write binary content to file
	return os.WriteFile(path.Join(parentFolder, ContentFileName), outputByte, 0666)
}

func (c *StandardConsumer) generateIntermediateDataForPnts(node octree.INode) *intermediateData {
	points := node.GetPoints()

	if c.refineMode == tiler.RefineModeReplace {
		points = appendParentPoints(node, points)
	}

	numPoints := len(points)
	intermediateData := intermediateData{
		coords:          make([]float64, numPoints*3),
		colors:          make([]uint8, numPoints*3),
		intensities:     make([]uint8, numPoints),
		classifications: make([]uint8, numPoints),
		temperatures:    make([]float32, numPoints),
		numPoints:       numPoints,
	}

	// Decomposing tile data properties in separate sublists for coords, colors and batch properties
	for i, point := range points {
		intermediateData.coords[i*3] = point.X
		intermediateData.coords[i*3+1] = point.Y
		intermediateData.coords[i*3+2] = point.Z

		intermediateData.colors[i*3] = point.R
		intermediateData.colors[i*3+1] = point.G
		intermediateData.colors[i*3+2] = point.B

		intermediateData.intensities[i] = point.Intensity
		intermediateData.classifications[i] = point.Classification
		intermediateData.temperatures[i] = point.Temperature
	}

	return &intermediateData
}

// A replaced parent is hidden, so the ancestors' points falling in the node box are repeated in the node
func appendParentPoints(node octree.INode, points []*data.Point) []*data.Point {
	boundingBox := node.GetBoundingBox()
	for parent := node.GetParent(); parent != nil; parent = parent.GetParent() {
		for _, point := range parent.GetPoints() {
			if boundingBox.Contains(point.Vector) {
				points = append(points, point)
			}
		}
	}
	return points
}

func (c *StandardConsumer) generatePnts(intermediatePointData *intermediateData, rtc []float64) ([]byte, error) {
	ft := NewTableBuilder().
		Set("POINTS_LENGTH", intermediatePointData.numPoints).
		Set("RTC_CENTER", rtc)

	if c.geometryCodec != nil {
		colors := make([]float64, len(intermediatePointData.colors))
		for i, v := range intermediatePointData.colors {
			colors[i] = float64(v)
		}
		compressed, err := c.geometryCodec.Encode(&codec.Mesh{
			VertexCount: intermediatePointData.numPoints,
			Attributes: []*codec.Attribute{
				{Name: "POSITION", Components: 3, Values: intermediatePointData.coords, QuantizationBits: compressedPositionBits},
				{Name: "RGB", Components: 3, Values: colors},
			},
		})
		if err != nil {
			return nil, err
		}
		offset := ft.AppendRaw(compressed)
		ft.Set("extensions", map[string]interface{}{
			content.ExtensionCompressedGeometry: map[string]interface{}{
				"codec":      c.geometryCodec.Name(),
				"byteOffset": offset,
				"byteLength": len(compressed),
			},
		})
	} else {
		ft.AddBinary("POSITION", tools.ConvertTruncateFloat64ToFloat32ByteArray(intermediatePointData.coords), "", "", 4)
		ft.AddBinary("RGB", intermediatePointData.colors, "", "", 1)
	}

	bt := NewTableBuilder().
		AddBinary("INTENSITY", intermediatePointData.intensities, "UNSIGNED_BYTE", "SCALAR", 1).
		AddBinary("CLASSIFICATION", intermediatePointData.classifications, "UNSIGNED_BYTE", "SCALAR", 1).
		AddBinary("TEMPERATURE", tools.ConvertFloat32SliceToByteArray(intermediatePointData.temperatures), "FLOAT", "SCALAR", 4)

	return WritePnts(ft, bt)
}

func (c *StandardConsumer) computeAverageXYZ(intermediatePointData *intermediateData) []float64 {
	var avgX, avgY, avgZ float64

	for i := 0; i < intermediatePointData.numPoints; i++ {
		avgX = avgX + intermediatePointData.coords[i*3]
		avgY = avgY + intermediatePointData.coords[i*3+1]
		avgZ = avgZ + intermediatePointData.coords[i*3+2]
	}
	avgX /= float64(intermediatePointData.numPoints)
	avgY /= float64(intermediatePointData.numPoints)
	avgZ /= float64(intermediatePointData.numPoints)

	return []float64{avgX, avgY, avgZ}
}

func (c *StandardConsumer) subtractXYZFromIntermediateDataCoords(intermediatePointData *intermediateData, xyz []float64) {
	for i := 0; i < intermediatePointData.numPoints; i++ {
		intermediatePointData.coords[i*3] -= xyz[0]
		intermediatePointData.coords[i*3+1] -= xyz[1]
		intermediatePointData.coords[i*3+2] -= xyz[2]
	}
}

// Generates the tileset of a node with children: the node content at the root and one child per
// non empty octant, referencing the child tileset.json or, for leaves, the child content.pnts
func (c *StandardConsumer) generateTileset(node octree.INode) *Tileset {
	root := Tile{
		Content:        &Content{URI: ContentFileName},
		BoundingVolume: BoxVolume(node.GetBoundingBox()),
		GeometricError: node.ComputeGeometricError(),
		Refine:         c.refineMode.String(),
	}

	paths := node.GetChildrenPath()
	for i, child := range node.GetChildren() {
		filename := tools.TilesetFileName
		if child.IsLeaf() {
			filename = ContentFileName
		}
		root.Children = append(root.Children, Tile{
			Content:        &Content{URI: paths[i] + "/" + filename},
			BoundingVolume: BoxVolume(child.GetBoundingBox()),
			GeometricError: child.ComputeGeometricError(),
			Refine:         c.refineMode.String(),
		})
	}

	return NewTileset(node.ComputeGeometricError(), root)
}
