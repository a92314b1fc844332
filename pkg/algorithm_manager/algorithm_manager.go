package algorithm_manager

import (
	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/octree"
)

type AlgorithmManager interface {
	GetElevationCorrectionAlgorithm() converters.ElevationCorrector
	// Returns a new empty tree for the generate command
	GetTreeAlgorithm() octree.ITree
	GetCoordinateConverterAlgorithm() converters.CoordinateConverter
}
