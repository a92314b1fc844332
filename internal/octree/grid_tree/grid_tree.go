package grid_tree

import (
	"errors"
	"math"
	"runtime"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/data"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/ecopia-map/cesium_streamer/tools"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
)

// Coordinates are stored in ECEF so that the node boxes can be written as tileset box volumes
const internalCoordinateEpsgCode = converters.SridWGS84Cartesian

// Represents an GridTree of points and contains all information needed
// to propagate points in the tree
type GridTree struct {
	rootNode            *GridNode
	built               bool
	maxCellSize         float64
	minCellSize         float64
	coordinateConverter converters.CoordinateConverter
	elevationCorrector  converters.ElevationCorrector
	points              []*data.Point
	sync.RWMutex
}

// Builds an empty GridTree initializing its properties to the correct defaults
func NewGridTree(
	coordinateConverter converters.CoordinateConverter,
	elevationCorrector converters.ElevationCorrector,
	maxCellSize float64,
	minCellSize float64,
) octree.ITree {
	return &GridTree{
		built:               false,
		maxCellSize:         maxCellSize,
		minCellSize:         minCellSize,
		coordinateConverter: coordinateConverter,
		elevationCorrector:  elevationCorrector,
	}
}

// Builds the hierarchical tree structure
func (tree *GridTree) Build() error {
	tree.Lock()
	defer tree.Unlock()

	if tree.built {
		return errors.New("octree already built")
	}
	if len(tree.points) == 0 {
		return errors.New("octree has no points")
	}

	tree.init()

	var wg sync.WaitGroup
	tree.launchParallelPointLoaders(&wg)
	wg.Wait()

	tree.points = nil
	tree.rootNode.BuildPoints()
	tree.built = true

	return nil
}

func (tree *GridTree) GetRootNode() octree.INode {
	tree.RLock()
	defer tree.RUnlock()
	if tree.rootNode == nil {
		return nil
	}
	return tree.rootNode
}

func (tree *GridTree) IsBuilt() bool {
	tree.RLock()
	defer tree.RUnlock()
	return tree.built
}

func (tree *GridTree) Clear() bool {
	tree.Lock()
	defer tree.Unlock()
	tree.rootNode = nil
	tree.points = nil
	tree.built = false
	return true
}

// Converts the coordinate to the internal reference system, applying the elevation correction
// on the geographic height
func (tree *GridTree) AddPoint(coordinate r3.Vector, srid int, attributes data.PointAttributes) error {
	wgs84coords, err := tree.coordinateConverter.ConvertCoordinateSrid(srid, converters.SridWGS84Geographic, coordinate)
	if err != nil {
		return err
	}
	wgs84coords.Z = tree.elevationCorrector.CorrectElevation(wgs84coords.X, wgs84coords.Y, wgs84coords.Z)

	internal, err := tree.coordinateConverter.ConvertCoordinateSrid(converters.SridWGS84Geographic, internalCoordinateEpsgCode, wgs84coords)
	if err != nil {
		return err
	}

	tree.Lock()
	tree.points = append(tree.points, data.NewPoint(internal, attributes))
	tree.Unlock()
	return nil
}

func (tree *GridTree) init() {
	lo := r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64}
	hi := r3.Vector{X: -math.MaxFloat64, Y: -math.MaxFloat64, Z: -math.MaxFloat64}
	for _, p := range tree.points {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}

	glog.Infoln("tree.box(min,max):" + tools.FmtJSONString([]r3.Vector{lo, hi}))
	glog.Infoln("x:", hi.X-lo.X, ", y:", hi.Y-lo.Y, ", z:", hi.Z-lo.Z)

	tree.rootNode = NewGridNode(nil, lo, hi, tree.maxCellSize, tree.minCellSize, true)
}

// Feeds the loaded points to one loader per cpu
func (tree *GridTree) launchParallelPointLoaders(waitGroup *sync.WaitGroup) {
	N := runtime.NumCPU()
	points := make(chan *data.Point, N)

	for i := 0; i < N; i++ {
		waitGroup.Add(1)
		go tree.launchPointLoader(points, waitGroup)
	}

	for _, p := range tree.points {
		points <- p
	}
	close(points)
}

func (tree *GridTree) launchPointLoader(points chan *data.Point, waitGroup *sync.WaitGroup) {
	for p := range points {
		tree.rootNode.AddDataPoint(p)
	}
	waitGroup.Done()
}
