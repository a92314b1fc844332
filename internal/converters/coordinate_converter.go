package converters

import (
	"github.com/golang/geo/r3"
)

const (
	SridWGS84Geographic = 4326
	SridWGS84Cartesian  = 4978
	SridCGCS2000        = 4490
	SridWebMercator     = 3857
)

// Converts coordinates between spatial reference systems identified by their EPSG code.
// Geographic coordinates are expressed as X=longitude, Y=latitude in degrees and Z=height in meters.
type CoordinateConverter interface {
	ConvertCoordinateSrid(sourceSrid int, targetSrid int, coord r3.Vector) (r3.Vector, error)
	ConvertToWGS84Cartesian(coord r3.Vector, sourceSrid int) (r3.Vector, error)
	Cleanup()
}

type ElevationCorrector interface {
	CorrectElevation(lon, lat, z float64) float64
}

// Returns true if the srid denotes a geographic (lon, lat) system handled as WGS84
func IsGeographic(srid int) bool {
	return srid == SridWGS84Geographic || srid == SridCGCS2000
}
