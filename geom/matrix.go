package geom

import "math"

// Matrix4 is a row major affine transform. Points are transformed as column
// vectors: p' = M * p.
type Matrix4 [16]float32

func Identity() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func Translation(v Vector3f) Matrix4 {
	m := Identity()
	m[3] = v.X
	m[7] = v.Y
	m[11] = v.Z
	return m
}

func Scaling(s Vector3f) Matrix4 {
	m := Identity()
	m[0] = s.X
	m[5] = s.Y
	m[10] = s.Z
	return m
}

// IsZero reports whether m is the zero value, which callers treat as
// identity.
func (m Matrix4) IsZero() bool {
	return m == Matrix4{}
}

// Mul returns m * o, so that o is applied first.
func (m Matrix4) Mul(o Matrix4) Matrix4 {
	var r Matrix4
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[row*4+k] * o[k*4+col]
			}
			r[row*4+col] = sum
		}
	}
	return r
}

func (m Matrix4) MulPoint(p Vector3f) Vector3f {
	return Vector3f{
		m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// MaxScale returns the largest scale factor the linear part of m applies to
// any axis.
func (m Matrix4) MaxScale() float32 {
	x := Vector3f{m[0], m[4], m[8]}.Length()
	y := Vector3f{m[1], m[5], m[9]}.Length()
	z := Vector3f{m[2], m[6], m[10]}.Length()
	return float32(math.Max(x, math.Max(y, z)))
}
