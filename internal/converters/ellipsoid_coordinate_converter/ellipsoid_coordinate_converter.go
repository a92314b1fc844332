package ellipsoid_coordinate_converter

import (
	"fmt"

	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/geometry"
	"github.com/golang/geo/r3"
)

// Pure go converter between geographic WGS84 (or CGCS2000) coordinates and ECEF.
// It does not need the proj library and is used for datasets that are already georeferenced on the ellipsoid.
type ellipsoidCoordinateConverter struct{}

func NewEllipsoidCoordinateConverter() converters.CoordinateConverter {
	return &ellipsoidCoordinateConverter{}
}

func (c *ellipsoidCoordinateConverter) ConvertCoordinateSrid(sourceSrid int, targetSrid int, coord r3.Vector) (r3.Vector, error) {
	if sourceSrid == targetSrid || (converters.IsGeographic(sourceSrid) && converters.IsGeographic(targetSrid)) {
		return coord, nil
	}
	switch {
	case converters.IsGeographic(sourceSrid) && targetSrid == converters.SridWGS84Cartesian:
		return geometry.NewCartographicFromDegrees(coord.X, coord.Y, coord.Z).ToECEF(), nil
	case sourceSrid == converters.SridWGS84Cartesian && converters.IsGeographic(targetSrid):
		carto := geometry.ECEFToCartographic(coord)
		return r3.Vector{X: geometry.RadToDeg(carto.Longitude), Y: geometry.RadToDeg(carto.Latitude), Z: carto.Height}, nil
	}
	return coord, fmt.Errorf("unsupported conversion from EPSG:%d to EPSG:%d", sourceSrid, targetSrid)
}

func (c *ellipsoidCoordinateConverter) ConvertToWGS84Cartesian(coord r3.Vector, sourceSrid int) (r3.Vector, error) {
	return c.ConvertCoordinateSrid(sourceSrid, converters.SridWGS84Cartesian, coord)
}

func (c *ellipsoidCoordinateConverter) Cleanup() {}
