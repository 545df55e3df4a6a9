package tile

import (
	"context"
	"strconv"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
	"github.com/stretchr/testify/require"
)

func TestNodeLoad(t *testing.T) {
	loader := newTestLoader(1)
	tree := NewTree(newTestScene(1), loader)
	root := tree.Roots()[0]

	require.False(t, root.IsLoaded())
	require.False(t, root.HasChildren())

	require.True(t, root.Load(context.Background()))
	require.True(t, root.IsLoaded())
	require.True(t, root.IsDisplayable())
	require.Equal(t, int64(testTileSize), root.OwnMemorySize())
	require.Equal(t, int64(testMeshSize), root.OwnMeshMemorySize())
	require.Equal(t, int64(testTileSize), tree.ResidentBytes())

	children := root.Children()
	require.Len(t, children, 8)
	for i, c := range children {
		require.Equal(t, i, c.Octant)
		require.Equal(t, "root/"+strconv.Itoa(i), c.Path())
		require.Equal(t, 1, c.Depth())
		require.Equal(t, root, c.Parent())
		require.Equal(t, tree, c.Tree())
		require.False(t, c.IsLoaded())
		require.True(t, c.Range.Equal(testRootRange.Octant(i)))
	}

	require.True(t, root.Load(context.Background()))
	require.Equal(t, 1, loader.loadCount("root"))
}

func TestNodeLoadFailure(t *testing.T) {
	var failures testFailures

	loader := newTestLoader(1)
	loader.fail["root"] = true
	tree := NewTree(newTestScene(1), loader, WithFailureHandler(failures.handle))
	root := tree.Roots()[0]

	require.False(t, root.Load(context.Background()))
	require.False(t, root.IsLoaded())
	require.True(t, root.IsFailed())
	require.Zero(t, tree.ResidentBytes())

	require.Equal(t, []string{"root"}, failures.names)
	require.Equal(t, ErrTypeIOFailure, errors.Type(failures.errs[0]))
}

func TestNodeLoadCorrupt(t *testing.T) {
	var failures testFailures

	loader := newTestLoader(1)
	loader.corrupt["root"] = true
	tree := NewTree(newTestScene(1), loader, WithFailureHandler(failures.handle))
	root := tree.Roots()[0]

	require.False(t, root.Load(context.Background()))
	require.True(t, root.IsFailed())
	require.False(t, root.HasChildren())
	require.Equal(t, ErrTypeCorruptTile, errors.Type(failures.errs[0]))
}

func TestNodeLoadNilTexture(t *testing.T) {
	var failures testFailures

	tex := models.NewTextureResource(make([]byte, 16), false, 0)
	loader := LoaderFunc(func(ctx context.Context, p string) (*LoadResult, error) {
		return &LoadResult{
			Batches: []*models.GeometryBatch{{
				Vertices:     []geom.Vector3f{{0, 0, 0}, {1, 1, 1}, {2, 2, 2}},
				Indices:      []uint32{0, 1, 2},
				TextureIndex: 0,
			}},
			Textures: []*models.TextureResource{tex, nil},
		}, nil
	})
	tree := NewTree(newTestScene(0), loader, WithFailureHandler(failures.handle))
	root := tree.Roots()[0]

	require.NotPanics(t, func() {
		require.False(t, root.Load(context.Background()))
	})
	require.True(t, root.IsFailed())
	require.False(t, root.IsLoaded())
	require.Equal(t, []string{"root"}, failures.names)
	require.Equal(t, ErrTypeCorruptTile, errors.Type(failures.errs[0]))
	require.Zero(t, tex.Refs())
	require.Zero(t, tree.ResidentBytes())
}

func TestNodeReadDetached(t *testing.T) {
	n := newNode(Descriptor{Name: "lonely"}, nil, nil)

	_, err := n.Read(context.Background())
	require.Error(t, err)
	require.Equal(t, ErrTypeDetached, errors.Type(err))
}

func TestNodeCommitTwice(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	first, err := root.Read(context.Background())
	require.NoError(t, err)
	second, err := root.Read(context.Background())
	require.NoError(t, err)

	require.True(t, root.Commit(first))
	require.False(t, root.Commit(second))
	require.Equal(t, int64(testTileSize), tree.ResidentBytes())
	require.Zero(t, second.Textures[0].Refs())
	require.Equal(t, int32(1), first.Textures[0].Refs())
}

func TestNodeCommitKeepsExistingChildren(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	child := root.Child(2)
	require.True(t, root.clear())

	require.True(t, root.Load(context.Background()))
	require.Same(t, child, root.Child(2))
}

func TestNodeSplitPolicy(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1), WithSplitPolicy(SplitQuadtreeXY))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))

	children := root.Children()
	require.Len(t, children, 4)
	for i, c := range children {
		require.Equal(t, i, c.Octant)
	}
	require.Nil(t, root.Child(4))
}

func TestNodeMemorySizeIsCompositional(t *testing.T) {
	tree := NewTree(newTestScene(2), newTestLoader(2))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	for _, o := range []int{0, 3, 7} {
		require.True(t, root.Child(o).Load(context.Background()))
	}
	require.True(t, root.Child(3).Child(1).Load(context.Background()))

	expected := root.OwnMemorySize()
	expectedMesh := root.OwnMeshMemorySize()
	for _, c := range root.Children() {
		expected += c.GetMemorySize()
		expectedMesh += c.GetMeshMemorySize()
	}

	require.Equal(t, expected, root.GetMemorySize())
	require.Equal(t, expectedMesh, root.GetMeshMemorySize())
	require.Equal(t, int64(5*testTileSize), root.GetMemorySize())
	require.Equal(t, int64(5*testMeshSize), root.GetMeshMemorySize())
	require.Equal(t, root.GetMemorySize(), tree.GetMemorySize())
	require.Equal(t, root.GetMemorySize(), tree.ResidentBytes())
}

func TestNodeCountAndDepth(t *testing.T) {
	tree := NewTree(newTestScene(2), newTestLoader(2))
	root := tree.Roots()[0]

	require.Equal(t, 1, root.GetNodeCount())
	require.Zero(t, root.GetMaxDepth())

	tc := NewTraversalContext(viewFrom(geom.Vector3f{X: 4, Y: 4, Z: -20}), 1)
	require.False(t, tree.Draw(context.Background(), tc))

	require.Equal(t, 73, root.GetNodeCount())
	require.Equal(t, 2, root.GetMaxDepth())
	require.Equal(t, 73, tree.GetNodeCount())
	require.Equal(t, 2, tree.GetMaxDepth())
}

func TestNodeGetTiles(t *testing.T) {
	tree := NewTree(newTestScene(2), newTestLoader(2))
	root := tree.Roots()[0]

	count := func(target float32) int {
		var n int
		root.GetTiles(func(*Node) { n++ }, target)
		return n
	}

	require.Equal(t, 1, count(0))

	tc := NewTraversalContext(viewFrom(geom.Vector3f{X: 4, Y: 4, Z: -20}), 1)
	tree.Draw(context.Background(), tc)

	require.Equal(t, 1, count(1))
	require.Equal(t, 8, count(0.5))
	require.Equal(t, 64, count(0))

	var tiles []*Node
	tree.GetTiles(func(n *Node) { tiles = append(tiles, n) }, 0.5)
	require.Len(t, tiles, 8)
	require.Equal(t, "root/0", tiles[0].Path())
}

func TestNodeRequestLoadUntilDisplayable(t *testing.T) {
	s := &testStreamer{}
	tree := NewTree(newTestScene(1), newTestLoader(1), WithStreamer(s))
	root := tree.Roots()[0]

	require.True(t, root.RequestLoadUntilDisplayable())
	require.False(t, root.RequestLoadUntilDisplayable())
	require.Len(t, s.queue, 1)
	require.Equal(t, root, s.queue[0])
	require.True(t, root.IsQueued())

	s.process(context.Background())
	require.True(t, root.IsLoaded())
	require.False(t, root.IsQueued())

	require.True(t, root.RequestLoadUntilDisplayable())
	require.False(t, root.RequestLoadUntilDisplayable())
	require.Len(t, s.queue, 8)

	s.process(context.Background())
	require.False(t, root.RequestLoadUntilDisplayable())
}

func TestNodeLoadUntilDisplayable(t *testing.T) {
	s := &testStreamer{}
	loader := newTestLoader(3)
	loader.placeholderDepth = 2
	tree := NewTree(newTestScene(3), loader, WithStreamer(s))
	root := tree.Roots()[0]

	require.True(t, root.LoadUntilDisplayable(context.Background()))
	require.Equal(t, 3, s.syncReads)

	require.True(t, root.IsPrimary())
	require.False(t, root.IsDisplayable())

	child := root.Child(0)
	require.True(t, child.IsPrimary())
	require.False(t, child.IsDisplayable())
	require.False(t, root.Child(1).IsPrimary())
	require.False(t, root.Child(1).IsLoaded())

	grandChild := child.Child(0)
	require.True(t, grandChild.IsPrimary())
	require.True(t, grandChild.IsDisplayable())
	require.False(t, grandChild.Child(0).IsPrimary())
	require.False(t, grandChild.Child(0).IsLoaded())
}

func TestNodeLoadUntilDisplayableFailure(t *testing.T) {
	var failures testFailures

	loader := newTestLoader(1)
	loader.fail["root"] = true
	tree := NewTree(newTestScene(1), loader, WithFailureHandler(failures.handle))

	require.False(t, tree.Roots()[0].LoadUntilDisplayable(context.Background()))
	require.Len(t, failures.names, 1)
}

func TestNodeClone(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	require.True(t, root.Child(5).Load(context.Background()))
	root.Touch(42)

	clone := root.Clone()
	require.Nil(t, clone.Tree())
	require.True(t, clone.GetRange().Equal(root.GetRange()))
	require.Equal(t, root.DMax, clone.DMax)
	require.Equal(t, root.GetMeshMemorySize(), clone.GetMeshMemorySize())
	require.Equal(t, root.GetNodeCount(), clone.GetNodeCount())
	require.Equal(t, root.Path(), clone.Path())
	require.Equal(t, uint64(42), clone.LastUsed())
	require.Equal(t, clone, clone.Child(5).Parent())
	require.True(t, clone.Child(5).IsLoaded())
	require.False(t, clone.Child(4).IsLoaded())

	clone.Batches()[0].Vertices[0] = geom.Vector3f{X: 100}
	require.NotEqual(t, clone.Batches()[0].Vertices[0], root.Batches()[0].Vertices[0])

	require.Same(t, root.Textures()[0], clone.Textures()[0])
	require.Equal(t, int32(2), root.Textures()[0].Refs())

	require.Equal(t, int64(2*testTileSize), tree.ResidentBytes())
}

func TestNodeRemoveChild(t *testing.T) {
	s := &testStreamer{}
	tree := NewTree(newTestScene(2), newTestLoader(2), WithStreamer(s))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	child := root.Child(0)
	require.True(t, child.Load(context.Background()))
	require.Equal(t, int64(2*testTileSize), tree.ResidentBytes())

	require.True(t, root.RemoveChild(child))
	require.Nil(t, root.Child(0))
	require.Nil(t, child.Parent())
	require.False(t, child.IsLoaded())
	require.False(t, child.HasChildren())
	require.Len(t, s.removed, 9)
	require.Equal(t, int64(testTileSize), tree.ResidentBytes())

	require.False(t, root.RemoveChild(child))
	require.False(t, root.RemoveChild(nil))
}

func TestNodeTouchIsMonotonic(t *testing.T) {
	n := newNode(Descriptor{Name: "root"}, nil, nil)

	n.Touch(5)
	n.Touch(3)
	require.Equal(t, uint64(5), n.LastUsed())

	n.Touch(8)
	require.Equal(t, uint64(8), n.LastUsed())
}

func TestNodeMarkSettledIsClamped(t *testing.T) {
	n := newNode(Descriptor{Name: "root"}, nil, nil)

	n.MarkSettled()
	require.False(t, n.IsQueued())

	n.MarkQueued()
	require.True(t, n.IsQueued())
	n.MarkSettled()
	require.False(t, n.IsQueued())
}
