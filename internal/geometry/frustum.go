package geometry

import (
	"math"

	"github.com/golang/geo/r3"
)

// Plane in Hessian normal form, points with Distance >= 0 are on the inner side
type Plane struct {
	Normal r3.Vector
	D      float64
}

func (p Plane) Distance(point r3.Vector) float64 {
	return p.Normal.Dot(point) + p.D
}

// Perspective camera as supplied by the host engine
type Camera struct {
	Position       r3.Vector
	Direction      r3.Vector
	Up             r3.Vector
	FovY           float64 // vertical field of view in radians
	Aspect         float64 // viewport width / height
	Near           float64
	Far            float64
	ViewportHeight float64 // in pixels
}

// Builds a camera at position looking at target, with up resolved against the target direction
func NewCameraLookAt(position, target, up r3.Vector, fovY, aspect, viewportHeight float64) Camera {
	direction := target.Sub(position).Normalize()
	right := direction.Cross(up)
	if right.Norm2() == 0 {
		right = direction.Ortho()
	}
	right = right.Normalize()
	return Camera{
		Position:       position,
		Direction:      direction,
		Up:             right.Cross(direction).Normalize(),
		FovY:           fovY,
		Aspect:         aspect,
		Near:           1,
		Far:            5e8,
		ViewportHeight: viewportHeight,
	}
}

func (c Camera) Right() r3.Vector {
	return c.Direction.Cross(c.Up).Normalize()
}

// Returns the screen space error in pixels of a geometric error seen at the given distance
func (c Camera) ScreenSpaceError(geometricError, distance float64) float64 {
	return ScreenSpaceError(geometricError, distance, c.ViewportHeight, c.FovY)
}

// Sentinel returned when the camera is inside or behind the volume
const MaxScreenSpaceError = math.MaxFloat64

// error = (geometricError * viewportHeight) / (2 * distance * tan(fovY / 2))
func ScreenSpaceError(geometricError, distance, viewportHeight, fovY float64) float64 {
	if distance <= 0 {
		return MaxScreenSpaceError
	}
	return (geometricError * viewportHeight) / (2 * distance * math.Tan(fovY/2))
}

// Six planes of the camera frustum: left, right, bottom, top, near, far
type CullingVolume struct {
	Planes [6]Plane
}

func NewCullingVolume(camera Camera) CullingVolume {
	position := camera.Position
	direction := camera.Direction.Normalize()
	up := camera.Up.Normalize()
	right := camera.Right()

	t := camera.Near * math.Tan(camera.FovY/2)
	r := camera.Aspect * t
	nearCenter := position.Add(direction.Mul(camera.Near))
	farCenter := position.Add(direction.Mul(camera.Far))

	var cv CullingVolume
	sidePlane := func(edge r3.Vector, cross func(a r3.Vector) r3.Vector) Plane {
		n := cross(edge.Sub(position).Normalize()).Normalize()
		return Plane{Normal: n, D: -n.Dot(position)}
	}
	cv.Planes[0] = sidePlane(nearCenter.Sub(right.Mul(r)), func(a r3.Vector) r3.Vector { return a.Cross(up) })
	cv.Planes[1] = sidePlane(nearCenter.Add(right.Mul(r)), func(a r3.Vector) r3.Vector { return up.Cross(a) })
	cv.Planes[2] = sidePlane(nearCenter.Sub(up.Mul(t)), func(a r3.Vector) r3.Vector { return right.Cross(a) })
	cv.Planes[3] = sidePlane(nearCenter.Add(up.Mul(t)), func(a r3.Vector) r3.Vector { return a.Cross(right) })
	cv.Planes[4] = Plane{Normal: direction, D: -direction.Dot(nearCenter)}
	cv.Planes[5] = Plane{Normal: direction.Mul(-1), D: direction.Dot(farCenter)}
	return cv
}

// Classifies the volume against the frustum
func (cv CullingVolume) Visibility(volume BoundingVolume) Intersection {
	result := Inside
	for _, plane := range cv.Planes {
		switch volume.IntersectPlane(plane) {
		case Outside:
			return Outside
		case Intersecting:
			result = Intersecting
		}
	}
	return result
}
