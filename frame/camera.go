package frame

import (
	"math"

	"github.com/aukilabs/lodstream/geom"
)

// Camera is the interface that gives the view transform of a frame.
type Camera interface {
	View(tick uint64) geom.Matrix4
}

// CameraFunc is an adapter to use a function as a Camera.
type CameraFunc func(tick uint64) geom.Matrix4

func (f CameraFunc) View(tick uint64) geom.Matrix4 {
	return f(tick)
}

// OrbitCamera circles around a target at a constant height.
type OrbitCamera struct {
	Target   geom.Vector3f
	Distance float32
	Height   float32

	// The number of ticks of a full revolution. 0 keeps the camera still.
	Period uint64
}

// Eye returns the camera position at the given tick.
func (c OrbitCamera) Eye(tick uint64) geom.Vector3f {
	var angle float64
	if c.Period != 0 {
		angle = 2 * math.Pi * float64(tick%c.Period) / float64(c.Period)
	}

	return geom.Vector3f{
		X: c.Target.X + c.Distance*float32(math.Cos(angle)),
		Y: c.Target.Y + c.Height,
		Z: c.Target.Z + c.Distance*float32(math.Sin(angle)),
	}
}

func (c OrbitCamera) View(tick uint64) geom.Matrix4 {
	return LookAt(c.Eye(tick), c.Target, geom.Vector3f{Y: 1})
}

// LookAt returns the view transform of a viewer at eye looking at target. The
// viewer looks down the negative Z axis of view space.
func LookAt(eye, target, up geom.Vector3f) geom.Matrix4 {
	f := geom.Normalized(geom.Sub(target, eye))
	r := geom.Normalized(geom.Cross(f, up))
	if r.Length() == 0 {
		r = geom.Vector3f{X: 1}
	}
	u := geom.Cross(r, f)

	return geom.Matrix4{
		r.X, r.Y, r.Z, -r.Dot(eye),
		u.X, u.Y, u.Z, -u.Dot(eye),
		-f.X, -f.Y, -f.Z, f.Dot(eye),
		0, 0, 0, 1,
	}
}
