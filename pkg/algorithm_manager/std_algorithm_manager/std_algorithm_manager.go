package std_algorithm_manager

import (
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/cesium_streamer/internal/converters/ellipsoid_coordinate_converter"
	"github.com/ecopia-map/cesium_streamer/internal/converters/proj4_coordinate_converter"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
	"github.com/ecopia-map/cesium_streamer/internal/octree/grid_tree"
	"github.com/ecopia-map/cesium_streamer/internal/tiler"
	"github.com/ecopia-map/cesium_streamer/pkg/algorithm_manager"
	"github.com/golang/glog"
)

const (
	defaultMaxCellSize = 5.0
	defaultMinCellSize = 0.15
)

type StandardAlgorithmManager struct {
	options             *tiler.CommandOptions
	coordinateConverter converters.CoordinateConverter
	elevationCorrector  converters.ElevationCorrector
}

func NewAlgorithmManager(opts *tiler.CommandOptions) algorithm_manager.AlgorithmManager {
	heightOffset := 0.0
	if opts.Tileset != nil {
		heightOffset = opts.Tileset.HeightOffset
	}
	return &StandardAlgorithmManager{
		options:             opts,
		coordinateConverter: coordinateConverterFor(opts),
		elevationCorrector:  offset_elevation_corrector.NewOffsetElevationCorrector(heightOffset),
	}
}

// The closed form ellipsoid conversion covers the WGS84 systems, proj4 is needed for projected datasets
func coordinateConverterFor(opts *tiler.CommandOptions) converters.CoordinateConverter {
	srid := 0
	if opts.Tileset != nil {
		srid = opts.Tileset.Srid
	}
	if srid == 0 || srid == converters.SridWGS84Cartesian || converters.IsGeographic(srid) {
		return ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter()
	}
	glog.Infof("using proj4 coordinate converter for EPSG:%d", srid)
	return proj4_coordinate_converter.NewProj4CoordinateConverter()
}

func (m *StandardAlgorithmManager) GetElevationCorrectionAlgorithm() converters.ElevationCorrector {
	return m.elevationCorrector
}

// Cell sizes are halved at every level, the generated depth decides the minimum one
func (m *StandardAlgorithmManager) GetTreeAlgorithm() octree.ITree {
	maxCellSize, minCellSize := defaultMaxCellSize, defaultMinCellSize
	if m.options.Depth > 0 {
		minCellSize = maxCellSize / float64(int(1)<<uint(m.options.Depth))
	}
	return grid_tree.NewGridTree(m.coordinateConverter, m.elevationCorrector, maxCellSize, minCellSize)
}

func (m *StandardAlgorithmManager) GetCoordinateConverterAlgorithm() converters.CoordinateConverter {
	return m.coordinateConverter
}
