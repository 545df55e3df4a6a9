package geom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEqualWithEpsilon(t *testing.T) {
	require.True(t, EqualWithEpsilon(0.1, 0.2, 0.11))
	require.False(t, EqualWithEpsilon(0.1, 0.3, 0.11))
}

func TestDot(t *testing.T) {
	xAxis := Vector3f{1, 0, 0}
	yAxis := Vector3f{0, 1, 0}

	require.Equal(t, (float32)(0), xAxis.Dot(yAxis))
}

func TestCross(t *testing.T) {
	xAxis := Vector3f{1, 0, 0}
	yAxis := Vector3f{0, 1, 0}
	zAxis := Vector3f{0, 0, 1}

	require.True(t, zAxis.Equal(Cross(xAxis, yAxis)))
}

func TestVector(t *testing.T) {
	zeroVector := Vector3f{0, 0, 0}
	oneVector := Vector3f{1, 1, 1}

	require.True(t, oneVector.EqualWithEpsilon(Vector3f{0.9, 1.1, 1}, 0.11))
	require.True(t, oneVector.GreaterOrEqualThan(oneVector))
	require.True(t, zeroVector.LesserOrEqualThan(oneVector))

	require.True(t, oneVector.Equal(Add(zeroVector, oneVector)))
	require.True(t, oneVector.Equal(Sub(oneVector, zeroVector)))
	require.True(t, zeroVector.Equal(Mul(oneVector, 0)))
	require.Equal(t, Vector3f{0, 1, 0}, Min(Vector3f{0, 2, 0}, Vector3f{1, 1, 1}))
	require.Equal(t, Vector3f{1, 2, 1}, Max(Vector3f{0, 2, 0}, Vector3f{1, 1, 1}))

	require.True(t, 1 == Vector3f{1, 0, 0}.Length())
	require.True(t, EqualWithEpsilon((float32)(Normalized(oneVector).Length()), 1, 0.001))
}

func TestBox(t *testing.T) {
	b := NewBox(Vector3f{2, 2, 2}, Vector3f{0, 0, 0})

	t.Run("box is normalized", func(t *testing.T) {
		require.Equal(t, Vector3f{0, 0, 0}, b.Min)
		require.Equal(t, Vector3f{2, 2, 2}, b.Max)
		require.Equal(t, Vector3f{1, 1, 1}, b.Center())
		require.Equal(t, float64(8), b.Volume())
		require.True(t, b.ContainsPoint(Vector3f{1, 2, 0}))
		require.False(t, b.ContainsPoint(Vector3f{3, 0, 0}))
	})

	t.Run("empty box union", func(t *testing.T) {
		e := EmptyBox()
		require.True(t, e.IsEmpty())
		require.Equal(t, Vector3f{}, e.Size())
		require.True(t, b.Equal(e.Union(b)))
		require.True(t, b.Equal(b.Union(e)))

		u := b.Union(NewBox(Vector3f{-1, 0, 0}, Vector3f{1, 3, 1}))
		require.Equal(t, Vector3f{-1, 0, 0}, u.Min)
		require.Equal(t, Vector3f{2, 3, 2}, u.Max)
	})

	t.Run("octants cover the box", func(t *testing.T) {
		var volume float64
		for i := 0; i < 8; i++ {
			o := b.Octant(i)
			volume += o.Volume()
			require.Equal(t, float64(1), o.Volume())
		}
		require.Equal(t, b.Volume(), volume)
		require.Equal(t, NewBox(Vector3f{1, 0, 1}, Vector3f{2, 1, 2}), b.Octant(5))
	})

	t.Run("split keeps unsplit axes", func(t *testing.T) {
		q := b.Split(3, true, true, false)
		require.Equal(t, NewBox(Vector3f{1, 1, 0}, Vector3f{2, 2, 2}), q)
	})
}

func TestMatrix(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		p := Vector3f{1, 2, 3}
		require.Equal(t, p, Identity().MulPoint(p))
		require.Equal(t, float32(1), Identity().MaxScale())
		require.True(t, Matrix4{}.IsZero())
		require.False(t, Identity().IsZero())
	})

	t.Run("composition applies right hand side first", func(t *testing.T) {
		m := Translation(Vector3f{10, 0, 0}).Mul(Scaling(Vector3f{2, 2, 2}))
		require.Equal(t, Vector3f{12, 2, 2}, m.MulPoint(Vector3f{1, 1, 1}))
		require.Equal(t, float32(2), m.MaxScale())
	})
}
