package converters_test

import (
	"testing"

	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/ecopia-map/cesium_streamer/internal/converters/elevation/offset_elevation_corrector"
	"github.com/ecopia-map/cesium_streamer/internal/converters/ellipsoid_coordinate_converter"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEllipsoidCoordinateConverter_RoundTrip(t *testing.T) {
	cc := ellipsoid_coordinate_converter.NewEllipsoidCoordinateConverter()
	defer cc.Cleanup()

	geographic := r3.Vector{X: 116.39, Y: 39.9, Z: 120}
	ecef, err := cc.ConvertToWGS84Cartesian(geographic, converters.SridWGS84Geographic)
	require.NoError(t, err)
	assert.Greater(t, ecef.Norm(), 6.3e6)

	back, err := cc.ConvertCoordinateSrid(converters.SridWGS84Cartesian, converters.SridCGCS2000, ecef)
	require.NoError(t, err)
	assert.InDelta(t, geographic.X, back.X, 1e-9)
	assert.InDelta(t, geographic.Y, back.Y, 1e-9)
	assert.InDelta(t, geographic.Z, back.Z, 1e-4)

	_, err = cc.ConvertCoordinateSrid(converters.SridWebMercator, converters.SridWGS84Cartesian, geographic)
	assert.Error(t, err)
}

func TestOffsetCorrector(t *testing.T) {
	c := offset_elevation_corrector.NewOffsetCorrector(-420, 0.001, -0.002)
	lon, lat, z := c.CorrectPosition(100, 30, 500)
	assert.InDelta(t, 100.001, lon, 1e-12)
	assert.InDelta(t, 29.998, lat, 1e-12)
	assert.Equal(t, 80.0, z)
	assert.False(t, c.IsZero())

	assert.Equal(t, 15.0, offset_elevation_corrector.NewOffsetElevationCorrector(5).CorrectElevation(0, 0, 10))
}
