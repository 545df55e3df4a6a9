package tile

import (
	"context"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
	"github.com/stretchr/testify/require"
)

type testSceneReader struct {
	scene Scene
	err   error
}

func (r testSceneReader) ReadScene(ctx context.Context) (Scene, error) {
	return r.scene, r.err
}

func TestLoadTree(t *testing.T) {
	t.Run("read error", func(t *testing.T) {
		reader := testSceneReader{err: errors.New("disk on fire")}

		_, err := LoadTree(context.Background(), reader, newTestLoader(1))
		require.Error(t, err)
		require.Equal(t, ErrTypeIOFailure, errors.Type(err))
	})

	t.Run("no roots", func(t *testing.T) {
		reader := testSceneReader{scene: Scene{Name: "empty"}}

		_, err := LoadTree(context.Background(), reader, newTestLoader(1))
		require.Error(t, err)
		require.Equal(t, ErrTypeCorruptTile, errors.Type(err))
	})

	t.Run("success", func(t *testing.T) {
		reader := testSceneReader{scene: newTestScene(1)}

		tree, err := LoadTree(context.Background(), reader, newTestLoader(1))
		require.NoError(t, err)
		require.NotEmpty(t, tree.UUID)
		require.Equal(t, "test", tree.Name)
		require.Equal(t, geom.Identity(), tree.Georeference)
		require.Len(t, tree.Roots(), 1)
		require.Equal(t, SplitOctree, tree.split)
	})
}

func TestTreeGetRange(t *testing.T) {
	scene := Scene{
		Roots: []Descriptor{
			{Name: "a", Range: geom.NewBox(geom.Vector3f{}, geom.Vector3f{X: 1, Y: 1, Z: 1})},
			{Name: "b", Range: geom.NewBox(geom.Vector3f{X: -2}, geom.Vector3f{Y: 3})},
		},
	}
	tree := NewTree(scene, newTestLoader(0))

	box := tree.GetRange()
	require.Equal(t, geom.Vector3f{X: -2}, box.Min)
	require.Equal(t, geom.Vector3f{X: 1, Y: 3, Z: 1}, box.Max)

	require.True(t, NewTree(Scene{}, nil).GetRange().IsEmpty())
}

func TestTreeBootstrap(t *testing.T) {
	loader := newTestLoader(2)
	loader.placeholderDepth = 1
	tree := NewTree(newTestScene(2), loader)

	require.True(t, tree.Bootstrap(context.Background()))
	require.Equal(t, int64(2*testTileSize), tree.ResidentBytes())

	loader = newTestLoader(1)
	loader.fail["root"] = true
	tree = NewTree(newTestScene(1), loader, WithFailureHandler(func(string, error) {}))
	require.False(t, tree.Bootstrap(context.Background()))
}

func TestTreeSetStreamer(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	require.Nil(t, tree.Streamer())

	s := &testStreamer{}
	tree.SetStreamer(s)
	require.Equal(t, s, tree.Streamer())

	tree.SetStreamer(nil)
	require.Nil(t, tree.Streamer())
}

func TestTreeReplaceRoots(t *testing.T) {
	s := &testStreamer{}
	scene := Scene{
		Name: "before",
		Roots: []Descriptor{
			{Name: "a", Range: testRootRange, DMax: 1},
			{Name: "b", Range: testRootRange, DMax: 1},
		},
	}
	tree := NewTree(scene, newTestLoader(1), WithStreamer(s))

	a := tree.Roots()[0]
	b := tree.Roots()[1]
	require.True(t, a.Load(context.Background()))
	require.True(t, b.Load(context.Background()))

	replaced := tree.ReplaceRoots(Scene{
		Name: "after",
		Roots: []Descriptor{
			{Name: "a", Range: testRootRange, DMax: 1},
			{Name: "b", Range: testRootRange, DMax: 0.5},
			{Name: "c", Range: testRootRange, DMax: 1},
		},
	})
	require.Equal(t, 2, replaced)
	require.Equal(t, "after", tree.Name)

	roots := tree.Roots()
	require.Len(t, roots, 3)
	require.Same(t, a, roots[0])
	require.True(t, a.IsLoaded())
	require.NotSame(t, b, roots[1])
	require.False(t, roots[1].IsLoaded())
	require.Equal(t, float32(0.5), roots[1].DMax)
	require.Equal(t, "c", roots[2].Name)

	require.False(t, b.IsLoaded())
	require.Contains(t, s.removed, b)
	require.Equal(t, int64(testTileSize), tree.ResidentBytes())
}

func TestTreeClose(t *testing.T) {
	s := &testStreamer{}
	tree := NewTree(newTestScene(1), newTestLoader(1), WithStreamer(s))
	require.True(t, tree.Roots()[0].Load(context.Background()))

	tree.Close()
	require.Empty(t, tree.Roots())
	require.Zero(t, tree.ResidentBytes())
	require.Len(t, s.removed, 9)
}
