package geometry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Matrix4 is a 4x4 affine transform stored in column-major order, the layout
// used by tileset documents and glTF.
type Matrix4 [16]float64

var IdentityMatrix = Matrix4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// Rotates the y-up axes of glTF payloads to the z-up axes of tilesets
var YUpToZUp = Matrix4{
	1, 0, 0, 0,
	0, 0, 1, 0,
	0, -1, 0, 0,
	0, 0, 0, 1,
}

func NewMatrix4FromSlice(values []float64) (Matrix4, error) {
	var m Matrix4
	if len(values) != 16 {
		return m, fmt.Errorf("transform must have 16 values, got %d", len(values))
	}
	copy(m[:], values)
	return m, nil
}

func NewTranslationMatrix(t r3.Vector) Matrix4 {
	m := IdentityMatrix
	m[12], m[13], m[14] = t.X, t.Y, t.Z
	return m
}

func NewScaleMatrix(s r3.Vector) Matrix4 {
	m := IdentityMatrix
	m[0], m[5], m[10] = s.X, s.Y, s.Z
	return m
}

// Builds a matrix whose first three columns are the given axes and whose
// fourth column is the origin
func NewMatrix4FromAxes(x, y, z, origin r3.Vector) Matrix4 {
	return Matrix4{
		x.X, x.Y, x.Z, 0,
		y.X, y.Y, y.Z, 0,
		z.X, z.Y, z.Z, 0,
		origin.X, origin.Y, origin.Z, 1,
	}
}

// Returns translation * rotation * scale
func NewMatrix4FromTRS(translation r3.Vector, rotation Quaternion, scale r3.Vector) Matrix4 {
	r := rotation.Normalize().RotationColumns()
	return NewMatrix4FromAxes(r[0].Mul(scale.X), r[1].Mul(scale.Y), r[2].Mul(scale.Z), translation)
}

func (m Matrix4) At(row, col int) float64 {
	return m[col*4+row]
}

func (m Matrix4) IsIdentity() bool {
	return m == IdentityMatrix
}

// Returns m * o
func (m Matrix4) Multiply(o Matrix4) Matrix4 {
	var r Matrix4
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += m[k*4+row] * o[col*4+k]
			}
			r[col*4+row] = sum
		}
	}
	return r
}

func (m Matrix4) MultiplyPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*p.X + m[4]*p.Y + m[8]*p.Z + m[12],
		Y: m[1]*p.X + m[5]*p.Y + m[9]*p.Z + m[13],
		Z: m[2]*p.X + m[6]*p.Y + m[10]*p.Z + m[14],
	}
}

// Applies the upper 3x3 part of the matrix, ignoring the translation
func (m Matrix4) MultiplyDirection(d r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*d.X + m[4]*d.Y + m[8]*d.Z,
		Y: m[1]*d.X + m[5]*d.Y + m[9]*d.Z,
		Z: m[2]*d.X + m[6]*d.Y + m[10]*d.Z,
	}
}

func (m Matrix4) Translation() r3.Vector {
	return r3.Vector{X: m[12], Y: m[13], Z: m[14]}
}

func (m Matrix4) Column(i int) r3.Vector {
	return r3.Vector{X: m[i*4], Y: m[i*4+1], Z: m[i*4+2]}
}

// Returns the largest scale factor applied by the matrix along its axes
func (m Matrix4) MaxScale() float64 {
	return math.Max(m.Column(0).Norm(), math.Max(m.Column(1).Norm(), m.Column(2).Norm()))
}

// Returns the inverse of an affine matrix. ok is false when the linear part is singular.
func (m Matrix4) AffineInverse() (Matrix4, bool) {
	a, b, c := m[0], m[4], m[8]
	d, e, f := m[1], m[5], m[9]
	g, h, i := m[2], m[6], m[10]

	c00 := e*i - f*h
	c01 := -(d*i - f*g)
	c02 := d*h - e*g
	det := a*c00 + b*c01 + c*c02
	if math.Abs(det) < 1e-300 {
		return IdentityMatrix, false
	}
	inv := 1 / det

	// inverse of the 3x3 part, row-major (rXY = row X, col Y)
	r00 := c00 * inv
	r01 := -(b*i - c*h) * inv
	r02 := (b*f - c*e) * inv
	r10 := c01 * inv
	r11 := (a*i - c*g) * inv
	r12 := -(a*f - c*d) * inv
	r20 := c02 * inv
	r21 := -(a*h - b*g) * inv
	r22 := (a*e - b*d) * inv

	t := m.Translation()
	return Matrix4{
		r00, r10, r20, 0,
		r01, r11, r21, 0,
		r02, r12, r22, 0,
		-(r00*t.X + r01*t.Y + r02*t.Z),
		-(r10*t.X + r11*t.Y + r12*t.Z),
		-(r20*t.X + r21*t.Y + r22*t.Z),
		1,
	}, true
}

func (m Matrix4) Slice() []float64 {
	out := make([]float64, 16)
	copy(out, m[:])
	return out
}

// Quaternion with X, Y, Z imaginary parts and W real part, glTF order
type Quaternion struct {
	X, Y, Z, W float64
}

var IdentityQuaternion = Quaternion{W: 1}

func (q Quaternion) Normalize() Quaternion {
	n := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if n == 0 {
		return IdentityQuaternion
	}
	return Quaternion{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Returns the columns of the rotation matrix represented by the unit quaternion
func (q Quaternion) RotationColumns() [3]r3.Vector {
	x2, y2, z2 := q.X*q.X, q.Y*q.Y, q.Z*q.Z
	xy, xz, yz := q.X*q.Y, q.X*q.Z, q.Y*q.Z
	wx, wy, wz := q.W*q.X, q.W*q.Y, q.W*q.Z
	return [3]r3.Vector{
		{X: 1 - 2*(y2+z2), Y: 2 * (xy + wz), Z: 2 * (xz - wy)},
		{X: 2 * (xy - wz), Y: 1 - 2*(x2+z2), Z: 2 * (yz + wx)},
		{X: 2 * (xz + wy), Y: 2 * (yz - wx), Z: 1 - 2*(x2+y2)},
	}
}
