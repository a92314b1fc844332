package proj4_coordinate_converter

import (
	"fmt"
	"math"
	"sync"

	"github.com/ecopia-map/cesium_streamer/internal/converters"
	"github.com/golang/geo/r3"
	"github.com/golang/glog"
	proj "github.com/xeonx/proj4"
)

const toRadians = math.Pi / 180
const toDeg = 180 / math.Pi

// proj.4 definitions of the reference systems commonly found in I3S and S3M datasets.
// Codes missing from this table are resolved through the proj epsg init file.
var projDefinitions = map[int]string{
	converters.SridWGS84Geographic: "+proj=longlat +datum=WGS84 +no_defs",
	converters.SridWGS84Cartesian:  "+proj=geocent +datum=WGS84 +units=m +no_defs",
	converters.SridCGCS2000:        "+proj=longlat +ellps=GRS80 +no_defs",
	converters.SridWebMercator:     "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +wktext +no_defs",
	4547:                           "+proj=tmerc +lat_0=0 +lon_0=114 +k=1 +x_0=500000 +y_0=0 +ellps=GRS80 +units=m +no_defs",
	4548:                           "+proj=tmerc +lat_0=0 +lon_0=117 +k=1 +x_0=500000 +y_0=0 +ellps=GRS80 +units=m +no_defs",
	4549:                           "+proj=tmerc +lat_0=0 +lon_0=120 +k=1 +x_0=500000 +y_0=0 +ellps=GRS80 +units=m +no_defs",
}

type proj4CoordinateConverter struct {
	sync.Mutex
	projections map[int]*proj.Proj
}

func NewProj4CoordinateConverter() converters.CoordinateConverter {
	return &proj4CoordinateConverter{
		projections: make(map[int]*proj.Proj),
	}
}

// Returns the proj.4 definition of the given EPSG code
func projDefinition(srid int) string {
	if def, ok := projDefinitions[srid]; ok {
		return def
	}
	// WGS84 UTM zones
	if srid > 32600 && srid <= 32660 {
		return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", srid-32600)
	}
	if srid > 32700 && srid <= 32760 {
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", srid-32700)
	}
	return fmt.Sprintf("+init=epsg:%d", srid)
}

func (cc *proj4CoordinateConverter) getProjection(srid int) (*proj.Proj, error) {
	if p, ok := cc.projections[srid]; ok {
		return p, nil
	}
	p, err := proj.InitPlus(projDefinition(srid))
	if err != nil {
		return nil, fmt.Errorf("cannot initialize projection EPSG:%d: %w", srid, err)
	}
	cc.projections[srid] = p
	return p, nil
}

// Converts the coordinate between the two EPSG codes. Angles of geographic systems are in degrees.
func (cc *proj4CoordinateConverter) ConvertCoordinateSrid(sourceSrid int, targetSrid int, coord r3.Vector) (r3.Vector, error) {
	if sourceSrid == targetSrid {
		return coord, nil
	}

	// proj handles are not safe for concurrent use
	cc.Lock()
	defer cc.Unlock()

	src, err := cc.getProjection(sourceSrid)
	if err != nil {
		return coord, err
	}
	dst, err := cc.getProjection(targetSrid)
	if err != nil {
		return coord, err
	}

	x, y, z := []float64{coord.X}, []float64{coord.Y}, []float64{coord.Z}
	if src.IsLatLong() {
		x[0] *= toRadians
		y[0] *= toRadians
	}

	if err := proj.TransformRaw(src, dst, x, y, z); err != nil {
		glog.Errorf("proj transform EPSG:%d -> EPSG:%d failed: %v", sourceSrid, targetSrid, err)
		return coord, err
	}

	if dst.IsLatLong() {
		x[0] *= toDeg
		y[0] *= toDeg
	}
	return r3.Vector{X: x[0], Y: y[0], Z: z[0]}, nil
}

func (cc *proj4CoordinateConverter) ConvertToWGS84Cartesian(coord r3.Vector, sourceSrid int) (r3.Vector, error) {
	if sourceSrid == converters.SridWGS84Cartesian {
		return coord, nil
	}
	return cc.ConvertCoordinateSrid(sourceSrid, converters.SridWGS84Cartesian, coord)
}

// Releases all the projection objects
func (cc *proj4CoordinateConverter) Cleanup() {
	cc.Lock()
	defer cc.Unlock()
	for srid, p := range cc.projections {
		p.Close()
		delete(cc.projections, srid)
	}
}
