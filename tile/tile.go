package tile

import (
	"context"

	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
)

const (
	ErrTypeIOFailure   = "io_failure"
	ErrTypeCorruptTile = "corrupt_tile"
	ErrTypeDetached    = "detached_tile"
)

// Descriptor is the metadata of a tile, known before its payload is read.
type Descriptor struct {
	// The name of the tile. Tile paths are built by joining the names from the
	// root down to the tile.
	Name string

	// The child slot of the tile in its parent, in [0, 8). Ignored for roots.
	Octant int

	Range geom.Box

	// The maximum geometric deviation of the tile content. 0 means the tile is
	// acceptable at any distance.
	DMax float32
}

// Scene describes the roots of a tile tree.
type Scene struct {
	Name         string
	Georeference geom.Matrix4
	Roots        []Descriptor
}

// LoadResult is the payload read for a tile.
type LoadResult struct {
	Batches  []*models.GeometryBatch
	Textures []*models.TextureResource
	Children []Descriptor
}

// MemorySize returns the number of payload bytes in the result.
func (r *LoadResult) MemorySize() int64 {
	var size int64
	for _, b := range r.Batches {
		size += b.MemorySize()
	}
	for _, t := range r.Textures {
		size += t.MemorySize()
	}
	return size
}

// Release drops the texture references held by the result. Nil textures are
// skipped.
func (r *LoadResult) Release() {
	for _, t := range r.Textures {
		if t != nil {
			t.Release()
		}
	}
}

// SceneReader is the interface that reads the scene descriptor of a dataset.
type SceneReader interface {
	ReadScene(ctx context.Context) (Scene, error)
}

// Loader is the interface that reads the payload of a tile from its path.
type Loader interface {
	Load(ctx context.Context, path string) (*LoadResult, error)
}

// LoaderFunc is an adapter to use a function as a Loader.
type LoaderFunc func(ctx context.Context, path string) (*LoadResult, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (*LoadResult, error) {
	return f(ctx, path)
}

// Drawer is the interface that submits tile payload to a renderer.
type Drawer interface {
	DrawTexture(viewport any, texture *models.TextureResource)
	DrawGeometry(viewport any, transform geom.Matrix4, batch *models.GeometryBatch)
}

// FailureHandler is called with the path of a tile that could not be loaded.
type FailureHandler func(name string, err error)

// Streamer is the interface of the coordinator that loads tiles in the
// background.
type Streamer interface {
	// Enqueues loads for the given nodes on behalf of requester. Returns the
	// number of nodes that were actually enqueued.
	QueueChildLoad(requester *Node, nodes []*Node, viewport any, transform geom.Matrix4) int

	// Loads a node right away, blocking the caller.
	SynchronousRead(ctx context.Context, n *Node, source Loader) bool

	// Cancels the pending load of a node.
	RemoveRequest(n *Node)

	// Returns the tick of the last pump.
	LastPumpTick() uint64
}

// Drawable is the capability set shared by trees and nodes.
type Drawable interface {
	Draw(ctx context.Context, tc *TraversalContext) (childrenScheduled bool)
	GetRange() geom.Box
	GetTiles(fn func(*Node), targetResolution float32)
}

var (
	_ Drawable = (*Node)(nil)
	_ Drawable = (*Tree)(nil)
)
