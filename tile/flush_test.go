package tile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlushStaleEvictsLeaf(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	require.True(t, root.LoadUntilDisplayable(context.Background()))
	child := root.Child(0)
	require.True(t, child.Load(context.Background()))
	child.Touch(10)

	require.Equal(t, 1, root.FlushStale(5, 20))
	require.Same(t, child, root.Child(0))
	require.False(t, child.IsLoaded())
	require.Zero(t, child.OwnMemorySize())
	require.False(t, child.ChildrenRequested())
	require.True(t, root.IsLoaded())
	require.Equal(t, int64(testTileSize), tree.ResidentBytes())

	require.True(t, child.Load(context.Background()))
	require.True(t, child.IsLoaded())
}

func TestFlushStaleKeepsRecentNodes(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	require.True(t, root.LoadUntilDisplayable(context.Background()))
	child := root.Child(0)
	require.True(t, child.Load(context.Background()))
	child.Touch(10)

	require.Zero(t, root.FlushStale(5, 15))
	require.Zero(t, root.FlushStale(5, 2))
	require.True(t, child.IsLoaded())
}

func TestFlushStaleKeepsQueuedNodes(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	child := root.Child(0)
	require.True(t, child.Load(context.Background()))

	child.MarkQueued()
	require.Zero(t, tree.FlushStale(1, 100))
	require.True(t, child.IsLoaded())
	require.True(t, root.IsLoaded())

	child.MarkSettled()
	require.Equal(t, 2, tree.FlushStale(1, 100))
	require.Zero(t, tree.ResidentBytes())
}

func TestFlushStaleKeepsAncestorsOfQueuedNodes(t *testing.T) {
	tree := NewTree(newTestScene(2), newTestLoader(2))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	child := root.Child(0)
	require.True(t, child.Load(context.Background()))

	child.Child(0).MarkQueued()
	require.Zero(t, root.FlushStale(1, 100))
	require.True(t, child.IsLoaded())
	require.True(t, root.IsLoaded())
}

func TestFlushStaleEvictsBottomUp(t *testing.T) {
	tree := NewTree(newTestScene(1), newTestLoader(1))
	root := tree.Roots()[0]

	require.True(t, root.Load(context.Background()))
	child := root.Child(0)
	require.True(t, child.Load(context.Background()))
	root.Touch(10)
	child.Touch(15)

	require.Zero(t, root.FlushStale(5, 20))
	require.True(t, root.IsLoaded())

	require.Equal(t, 2, root.FlushStale(5, 30))
	require.False(t, root.IsLoaded())
	require.False(t, child.IsLoaded())
	require.Len(t, root.Children(), 8)
}

func TestFlushStaleKeepsPrimaryNodes(t *testing.T) {
	loader := newTestLoader(2)
	loader.placeholderDepth = 1
	tree := NewTree(newTestScene(2), loader)
	root := tree.Roots()[0]

	require.True(t, root.LoadUntilDisplayable(context.Background()))
	primary := root.Child(0)
	require.True(t, primary.IsPrimary())

	require.Zero(t, tree.FlushStale(1, 1000))
	require.True(t, root.IsLoaded())
	require.True(t, primary.IsLoaded())
}
