package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// WGS84 ellipsoid parameters
const (
	WGS84SemiMajorAxis = 6378137.0
	WGS84Flattening    = 1 / 298.257223563
	WGS84SemiMinorAxis = WGS84SemiMajorAxis * (1 - WGS84Flattening)
	wgs84E2            = WGS84Flattening * (2 - WGS84Flattening)
)

// Geodetic position, longitude and latitude in radians, height in meters above the ellipsoid
type Cartographic struct {
	Longitude float64
	Latitude  float64
	Height    float64
}

func NewCartographicFromDegrees(lon, lat, height float64) Cartographic {
	return Cartographic{Longitude: DegToRad(lon), Latitude: DegToRad(lat), Height: height}
}

func DegToRad(v float64) float64 {
	return v * math.Pi / 180
}

func RadToDeg(v float64) float64 {
	return v * 180 / math.Pi
}

func (c Cartographic) ToECEF() r3.Vector {
	sinLat, cosLat := math.Sincos(c.Latitude)
	sinLon, cosLon := math.Sincos(c.Longitude)
	n := WGS84SemiMajorAxis / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return r3.Vector{
		X: (n + c.Height) * cosLat * cosLon,
		Y: (n + c.Height) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + c.Height) * sinLat,
	}
}

// Converts an earth centered earth fixed position to geodetic coordinates
func ECEFToCartographic(p r3.Vector) Cartographic {
	lon := math.Atan2(p.Y, p.X)
	hyp := math.Hypot(p.X, p.Y)
	if hyp < 1e-9 {
		lat := math.Pi / 2
		if p.Z < 0 {
			lat = -lat
		}
		return Cartographic{Longitude: lon, Latitude: lat, Height: math.Abs(p.Z) - WGS84SemiMinorAxis}
	}

	lat := math.Atan2(p.Z, hyp*(1-wgs84E2))
	var h float64
	for i := 0; i < 6; i++ {
		sinLat := math.Sin(lat)
		n := WGS84SemiMajorAxis / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		h = hyp/math.Cos(lat) - n
		lat = math.Atan2(p.Z, hyp*(1-wgs84E2*n/(n+h)))
	}
	return Cartographic{Longitude: lon, Latitude: lat, Height: h}
}

// Returns the outward ellipsoid normal at the given geodetic position
func GeodeticSurfaceNormal(c Cartographic) r3.Vector {
	sinLat, cosLat := math.Sincos(c.Latitude)
	sinLon, cosLon := math.Sincos(c.Longitude)
	return r3.Vector{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat}
}

// Returns the local east-north-up frame centered at the given ECEF origin
func EastNorthUpToFixedFrame(origin r3.Vector) Matrix4 {
	if origin.Norm2() == 0 {
		return IdentityMatrix
	}
	c := ECEFToCartographic(origin)
	up := GeodeticSurfaceNormal(c)
	east := r3.Vector{X: -math.Sin(c.Longitude), Y: math.Cos(c.Longitude), Z: 0}
	north := up.Cross(east)
	return NewMatrix4FromAxes(east, north, up, origin)
}
