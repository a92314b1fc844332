package pkg

import (
	"errors"
	"math"
	"runtime"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/codec"
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/data"
	"github.com/ecopia-map/cesium_streamer/internal/io"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

const (
	// Folder of the generated tileset inside the output folder
	GeneratedTilesetFolder = "generated"

	generatedOriginLon = 12.0
	generatedOriginLat = 42.0
	// Distance in meters between two generated points
	generatedPointSpacing = 0.25
	metersPerDegree       = 111320.0
)

// Generator writes a synthetic point cloud tileset, used to exercise the streamer without a dataset
type Generator struct {
	algorithmManager algorithm_manager.AlgorithmManager
}

func NewGenerator(algorithmManager algorithm_manager.AlgorithmManager) tiler.ICommand {
	return &Generator{
		algorithmManager: algorithmManager,
	}
}

func (g *Generator) RunCommand(opts *tiler.CommandOptions) error {
	if opts.Output == "" {
		return errors.New("output folder is required")
	}
	if opts.RefineMode == "" {
		return errors.New("refine mode should be either ADD or REPLACE")
	}
	tree := g.algorithmManager.GetTreeAlgorithm()

	glog.Infoln("> generating points...")
	if err := g.generatePoints(tree, opts); err != nil {
		return err
	}

	glog.Infoln("> building data structure...")
	if err := tree.Build(); err != nil {
		return err
	}
	root := tree.GetRootNode()
	glog.Infoln("root_node num_of_points:", root.NumberOfPoints(), ", total:", root.TotalNumberOfPoints())

	glog.Infoln("> exporting data...")
	if err := g.exportTreeAsTileset(opts, tree); err != nil {
		return err
	}
	g.algorithmManager.GetCoordinateConverterAlgorithm().Cleanup()
	return nil
}

// Generates a square grid of points over a wavy surface, with PointsPerTile points for every tile of the
// requested depth
func (g *Generator) generatePoints(tree octree.ITree, opts *tiler.CommandOptions) error {
	numPoints := opts.PointsPerTile
	if numPoints <= 0 {
		numPoints = 1000
	}
	for i := 0; i < opts.Depth; i++ {
		numPoints *= 4
	}
	side := int(math.Ceil(math.Sqrt(float64(numPoints))))

	dLat := generatedPointSpacing / metersPerDegree
	dLon := dLat / math.Cos(generatedOriginLat*math.Pi/180)
	extent := float64(side) * generatedPointSpacing
	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			x, y := float64(i)*generatedPointSpacing, float64(j)*generatedPointSpacing
			height := 5 * math.Sin(2*math.Pi*x/extent) * math.Cos(2*math.Pi*y/extent)
			shade := uint8(127 + 25*height)
			coord := r3.Vector{
				X: generatedOriginLon + float64(i)*dLon,
				Y: generatedOriginLat + float64(j)*dLat,
				Z: height,
			}
			err := tree.AddPoint(coord, converters.SridWGS84Geographic, data.PointAttributes{
				R:              shade,
				G:              uint8(i % 256),
				B:              uint8(j % 256),
				Intensity:      shade,
				Classification: uint8((i + j) % 4),
				Temperature:    float32(20 + height),
			})
			if err != nil {
				return err
			}
		}
	}
	glog.Infof("generated %d points", side*side)
	return nil
}

// Exports the built tree as a 3D Tiles point cloud tileset, one producer walking the tree and one pnts
// writer per cpu
func (g *Generator) exportTreeAsTileset(opts *tiler.CommandOptions, tree octree.ITree) error {
	// if tree is not built, exit
	if !tree.IsBuilt() {
		return errors.New("octree not built, data structure not initialized")
	}

	var geometryCodec codec.GeometryCodec
	if opts.Compress {
		geometryCodec = codec.NewQDeflateCodec()
	}

	numConsumers := runtime.NumCPU()
	workChannel := make(chan *io.WorkUnit, numConsumers*5)
	// consumers submit at most one error each
	errorChannel := make(chan error, numConsumers)

	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	producer := io.NewStandardProducer(opts.Output, GeneratedTilesetFolder)
	go producer.Produce(workChannel, &waitGroup, tree.GetRootNode())

	for i := 0; i < numConsumers; i++ {
		waitGroup.Add(1)
		consumer := io.NewStandardConsumer(opts.RefineMode, geometryCodec)
		go consumer.Consume(workChannel, errorChannel, &waitGroup)
	}

	waitGroup.Wait()
	close(errorChannel)

	withErrors := false
	for err := range errorChannel {
		glog.Errorln(err)
		withErrors = true
	}
	if withErrors {
		return errors.New("errors raised during execution. Check console output for details")
	}
	return nil
}
