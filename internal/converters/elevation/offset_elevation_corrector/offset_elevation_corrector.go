package offset_elevation_corrector

import "github.com/ecopia-map/cesium_streamer/internal/converters"

// Applies the georeference correction configured for a tileset: a planar
// offset in degrees followed by a constant vertical offset in meters.
type OffsetElevationCorrector struct {
	HeightOffset float64
	LonOffset    float64
	LatOffset    float64
}

func NewOffsetElevationCorrector(heightOffset float64) converters.ElevationCorrector {
	return &OffsetElevationCorrector{
		HeightOffset: heightOffset,
	}
}

func NewOffsetCorrector(heightOffset, lonOffset, latOffset float64) *OffsetElevationCorrector {
	return &OffsetElevationCorrector{
		HeightOffset: heightOffset,
		LonOffset:    lonOffset,
		LatOffset:    latOffset,
	}
}

func (c *OffsetElevationCorrector) CorrectElevation(lon, lat, z float64) float64 {
	return z + c.HeightOffset
}

// Returns the corrected geographic position, angles in degrees
func (c *OffsetElevationCorrector) CorrectPosition(lon, lat, z float64) (float64, float64, float64) {
	return lon + c.LonOffset, lat + c.LatOffset, c.CorrectElevation(lon, lat, z)
}

func (c *OffsetElevationCorrector) IsZero() bool {
	return c.HeightOffset == 0 && c.LonOffset == 0 && c.LatOffset == 0
}
