package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

type VolumeKind int

const (
	VolumeBox VolumeKind = iota
	VolumeRegion
	VolumeSphere
)

func (k VolumeKind) String() string {
	switch k {
	case VolumeBox:
		return "box"
	case VolumeRegion:
		return "region"
	case VolumeSphere:
		return "sphere"
	}
	return "unknown"
}

type Intersection int

const (
	Outside Intersection = iota
	Intersecting
	Inside
)

var ErrInvalidVolume = errors.New("invalid bounding volume")

// BoundingVolume is one of Box, Region or Sphere
type BoundingVolume interface {
	Kind() VolumeKind
	Center() r3.Vector
	// Radius of a sphere enclosing the volume
	Radius() float64
	// Distance from the position to the closest point of the volume, 0 when inside
	DistanceToCamera(position r3.Vector) float64
	Contains(position r3.Vector) bool
	IntersectPlane(plane Plane) Intersection
	// Returns a new volume of the same kind enclosing the transformed volume
	TransformBy(m Matrix4) BoundingVolume
	// Geographic extent in degrees, meaningful only for georeferenced volumes
	Extent() orb.Bound
}

// Oriented bounding box: center and three half-axis vectors
type Box struct {
	center   r3.Vector
	halfAxes [3]r3.Vector
}

func NewBox(center r3.Vector, halfAxes [3]r3.Vector) *Box {
	return &Box{center: center, halfAxes: halfAxes}
}

// Parses the 12 numbers of a tileset "box" bounding volume
func NewBoxFromArray(values []float64) (*Box, error) {
	if len(values) != 12 {
		return nil, fmt.Errorf("%w: box must have 12 values, got %d", ErrInvalidVolume, len(values))
	}
	return NewBox(
		r3.Vector{X: values[0], Y: values[1], Z: values[2]},
		[3]r3.Vector{
			{X: values[3], Y: values[4], Z: values[5]},
			{X: values[6], Y: values[7], Z: values[8]},
			{X: values[9], Y: values[10], Z: values[11]},
		},
	), nil
}

// Builds an axis aligned box from the min and max corners
func NewBoxFromMinMax(min, max r3.Vector) *Box {
	half := max.Sub(min).Mul(0.5)
	return NewBox(min.Add(half), [3]r3.Vector{{X: half.X}, {Y: half.Y}, {Z: half.Z}})
}

func (b *Box) Kind() VolumeKind { return VolumeBox }

func (b *Box) Center() r3.Vector { return b.center }

func (b *Box) HalfAxes() [3]r3.Vector { return b.halfAxes }

func (b *Box) Radius() float64 {
	return b.halfAxes[0].Add(b.halfAxes[1]).Add(b.halfAxes[2]).Norm()
}

// Position of p along each half axis, expressed as (projection, half length)
func (b *Box) axisOffsets(p r3.Vector) [3][2]float64 {
	offset := p.Sub(b.center)
	var out [3][2]float64
	for i, axis := range b.halfAxes {
		half := axis.Norm()
		if half == 0 {
			continue
		}
		out[i] = [2]float64{offset.Dot(axis) / half, half}
	}
	return out
}

func (b *Box) DistanceToCamera(position r3.Vector) float64 {
	var distanceSquared float64
	for _, o := range b.axisOffsets(position) {
		d, half := o[0], o[1]
		if d < -half {
			distanceSquared += (d + half) * (d + half)
		} else if d > half {
			distanceSquared += (d - half) * (d - half)
		}
	}
	return math.Sqrt(distanceSquared)
}

func (b *Box) Contains(position r3.Vector) bool {
	offset := position.Sub(b.center)
	for _, axis := range b.halfAxes {
		half2 := axis.Norm2()
		if half2 == 0 {
			// a flat box contains the points lying on its plane
			continue
		}
		if math.Abs(offset.Dot(axis)) > half2 {
			return false
		}
	}
	return true
}

func (b *Box) IntersectPlane(plane Plane) Intersection {
	radEffective := math.Abs(plane.Normal.Dot(b.halfAxes[0])) +
		math.Abs(plane.Normal.Dot(b.halfAxes[1])) +
		math.Abs(plane.Normal.Dot(b.halfAxes[2]))
	return classify(plane.Distance(b.center), radEffective)
}

func (b *Box) TransformBy(m Matrix4) BoundingVolume {
	return NewBox(m.MultiplyPoint(b.center), [3]r3.Vector{
		m.MultiplyDirection(b.halfAxes[0]),
		m.MultiplyDirection(b.halfAxes[1]),
		m.MultiplyDirection(b.halfAxes[2]),
	})
}

func (b *Box) Corners() [8]r3.Vector {
	var corners [8]r3.Vector
	for i := 0; i < 8; i++ {
		c := b.center
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				c = c.Add(b.halfAxes[axis])
			} else {
				c = c.Sub(b.halfAxes[axis])
			}
		}
		corners[i] = c
	}
	return corners
}

func (b *Box) Extent() orb.Bound {
	corners := b.Corners()
	return extentOf(corners[:])
}

type Sphere struct {
	center r3.Vector
	radius float64
}

func NewSphere(center r3.Vector, radius float64) *Sphere {
	return &Sphere{center: center, radius: radius}
}

// Parses the 4 numbers of a tileset "sphere" bounding volume
func NewSphereFromArray(values []float64) (*Sphere, error) {
	if len(values) != 4 {
		return nil, fmt.Errorf("%w: sphere must have 4 values, got %d", ErrInvalidVolume, len(values))
	}
	if values[3] < 0 {
		return nil, fmt.Errorf("%w: negative sphere radius %v", ErrInvalidVolume, values[3])
	}
	return NewSphere(r3.Vector{X: values[0], Y: values[1], Z: values[2]}, values[3]), nil
}

func (s *Sphere) Kind() VolumeKind { return VolumeSphere }

func (s *Sphere) Center() r3.Vector { return s.center }

func (s *Sphere) Radius() float64 { return s.radius }

func (s *Sphere) DistanceToCamera(position r3.Vector) float64 {
	return math.Max(0, position.Distance(s.center)-s.radius)
}

func (s *Sphere) Contains(position r3.Vector) bool {
	return position.Distance(s.center) <= s.radius
}

func (s *Sphere) IntersectPlane(plane Plane) Intersection {
	return classify(plane.Distance(s.center), s.radius)
}

func (s *Sphere) TransformBy(m Matrix4) BoundingVolume {
	return NewSphere(m.MultiplyPoint(s.center), s.radius*m.MaxScale())
}

func (s *Sphere) Extent() orb.Bound {
	enu := EastNorthUpToFixedFrame(s.center)
	box := NewBox(s.center, [3]r3.Vector{
		enu.Column(0).Mul(s.radius),
		enu.Column(1).Mul(s.radius),
		enu.Column(2).Mul(s.radius),
	})
	return box.Extent()
}

// Geographic region, angles in radians and heights in meters
type Region struct {
	West, South, East, North float64
	MinHeight, MaxHeight     float64

	obb *Box
}

// Parses the 6 numbers of a tileset "region" bounding volume
func NewRegionFromArray(values []float64) (*Region, error) {
	if len(values) != 6 {
		return nil, fmt.Errorf("%w: region must have 6 values, got %d", ErrInvalidVolume, len(values))
	}
	if values[1] > values[3] {
		return nil, fmt.Errorf("%w: region south %v is greater than north %v", ErrInvalidVolume, values[1], values[3])
	}
	return NewRegion(values[0], values[1], values[2], values[3], values[4], values[5]), nil
}

func NewRegion(west, south, east, north, minHeight, maxHeight float64) *Region {
	r := &Region{West: west, South: south, East: east, North: north, MinHeight: minHeight, MaxHeight: maxHeight}
	r.obb = r.computeBox()
	return r
}

// East edge unwrapped so that it is never lower than the west edge
func (r *Region) unwrappedEast() float64 {
	if r.East < r.West {
		return r.East + 2*math.Pi
	}
	return r.East
}

// Samples the region on a 3x3 grid at both heights
func (r *Region) samplePoints() []r3.Vector {
	east := r.unwrappedEast()
	lons := []float64{r.West, (r.West + east) / 2, east}
	lats := []float64{r.South, (r.South + r.North) / 2, r.North}
	points := make([]r3.Vector, 0, 18)
	for _, h := range []float64{r.MinHeight, r.MaxHeight} {
		for _, lat := range lats {
			for _, lon := range lons {
				points = append(points, Cartographic{Longitude: lon, Latitude: lat, Height: h}.ToECEF())
			}
		}
	}
	return points
}

// Tight box in the east-north-up frame at the center of the region
func (r *Region) computeBox() *Box {
	east := r.unwrappedEast()
	centerCarto := Cartographic{
		Longitude: (r.West + east) / 2,
		Latitude:  (r.South + r.North) / 2,
		Height:    (r.MinHeight + r.MaxHeight) / 2,
	}
	enu := EastNorthUpToFixedFrame(centerCarto.ToECEF())
	toLocal, _ := enu.AffineInverse()

	min := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range r.samplePoints() {
		l := toLocal.MultiplyPoint(p)
		min = r3.Vector{X: math.Min(min.X, l.X), Y: math.Min(min.Y, l.Y), Z: math.Min(min.Z, l.Z)}
		max = r3.Vector{X: math.Max(max.X, l.X), Y: math.Max(max.Y, l.Y), Z: math.Max(max.Z, l.Z)}
	}
	return NewBoxFromMinMax(min, max).TransformBy(enu).(*Box)
}

func (r *Region) Kind() VolumeKind { return VolumeRegion }

func (r *Region) Center() r3.Vector { return r.obb.Center() }

func (r *Region) Radius() float64 { return r.obb.Radius() }

func (r *Region) Box() *Box { return r.obb }

func (r *Region) DistanceToCamera(position r3.Vector) float64 {
	if r.Contains(position) {
		return 0
	}
	return r.obb.DistanceToCamera(position)
}

func (r *Region) Contains(position r3.Vector) bool {
	c := ECEFToCartographic(position)
	if c.Latitude < r.South || c.Latitude > r.North {
		return false
	}
	if c.Height < r.MinHeight || c.Height > r.MaxHeight {
		return false
	}
	lon := c.Longitude
	if lon < r.West {
		lon += 2 * math.Pi
	}
	return lon >= r.West && lon <= r.unwrappedEast()
}

func (r *Region) IntersectPlane(plane Plane) Intersection {
	return r.obb.IntersectPlane(plane)
}

// Regions are expressed in geodetic coordinates, the transform is applied to
// sampled ECEF points and the enclosing region of the result is returned.
func (r *Region) TransformBy(m Matrix4) BoundingVolume {
	if m.IsIdentity() {
		return NewRegion(r.West, r.South, r.East, r.North, r.MinHeight, r.MaxHeight)
	}
	out := &Region{
		West: math.Inf(1), South: math.Inf(1), East: math.Inf(-1), North: math.Inf(-1),
		MinHeight: math.Inf(1), MaxHeight: math.Inf(-1),
	}
	for _, p := range r.samplePoints() {
		c := ECEFToCartographic(m.MultiplyPoint(p))
		out.West = math.Min(out.West, c.Longitude)
		out.East = math.Max(out.East, c.Longitude)
		out.South = math.Min(out.South, c.Latitude)
		out.North = math.Max(out.North, c.Latitude)
		out.MinHeight = math.Min(out.MinHeight, c.Height)
		out.MaxHeight = math.Max(out.MaxHeight, c.Height)
	}
	out.obb = out.computeBox()
	return out
}

func (r *Region) Extent() orb.Bound {
	return orb.Bound{
		Min: orb.Point{RadToDeg(r.West), RadToDeg(r.South)},
		Max: orb.Point{RadToDeg(r.East), RadToDeg(r.North)},
	}
}

func classify(distance, radius float64) Intersection {
	if distance <= -radius {
		return Outside
	} else if distance >= radius {
		return Inside
	}
	return Intersecting
}

func extentOf(points []r3.Vector) orb.Bound {
	bound := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	for _, p := range points {
		c := ECEFToCartographic(p)
		bound = bound.Extend(orb.Point{RadToDeg(c.Longitude), RadToDeg(c.Latitude)})
	}
	return bound
}
