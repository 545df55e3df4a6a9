package geom

import "math"

// Box is an axis aligned bounding box. A tile's range.
type Box struct {
	Min Vector3f
	Max Vector3f
}

func NewBox(min, max Vector3f) Box {
	return Box{Min: Min(min, max), Max: Max(min, max)}
}

// EmptyBox returns a box that any union grows from.
func EmptyBox() Box {
	inf := float32(math.Inf(1))
	return Box{
		Min: Vector3f{inf, inf, inf},
		Max: Vector3f{-inf, -inf, -inf},
	}
}

func (b Box) IsEmpty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

func (b Box) Center() Vector3f {
	return Mul(Add(b.Min, b.Max), 0.5)
}

func (b Box) Size() Vector3f {
	if b.IsEmpty() {
		return Vector3f{}
	}
	return Sub(b.Max, b.Min)
}

// Radius returns the radius of the sphere enclosing the box.
func (b Box) Radius() float32 {
	return float32(b.Size().Length() / 2)
}

func (b Box) Volume() float64 {
	s := b.Size()
	return float64(s.X) * float64(s.Y) * float64(s.Z)
}

func (b Box) ContainsPoint(p Vector3f) bool {
	return p.GreaterOrEqualThan(b.Min) && p.LesserOrEqualThan(b.Max)
}

func (b Box) Union(o Box) Box {
	if b.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return b
	}
	return Box{Min: Min(b.Min, o.Min), Max: Max(b.Max, o.Max)}
}

func (b Box) Equal(o Box) bool {
	return b.Min.Equal(o.Min) && b.Max.Equal(o.Max)
}

// Octant returns the i-th of the eight boxes obtained by halving b on every
// axis. Bit 0 of i selects the upper X half, bit 1 the upper Y half and bit
// 2 the upper Z half.
func (b Box) Octant(i int) Box {
	return b.Split(i, true, true, true)
}

// Split halves b on the selected axes only and returns the cell designated by
// the octant index i. Axes that are not split keep their full extent.
func (b Box) Split(i int, splitX, splitY, splitZ bool) Box {
	c := b.Center()
	result := b

	if splitX {
		if i&1 != 0 {
			result.Min.X = c.X
		} else {
			result.Max.X = c.X
		}
	}
	if splitY {
		if i&2 != 0 {
			result.Min.Y = c.Y
		} else {
			result.Max.Y = c.Y
		}
	}
	if splitZ {
		if i&4 != 0 {
			result.Min.Z = c.Z
		} else {
			result.Max.Z = c.Z
		}
	}
	return result
}
