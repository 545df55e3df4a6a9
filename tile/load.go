package tile

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodstream/models"
)

// Load reads and commits the node payload and enumerates its children. On
// failure the node stays unloaded, is marked as failed and the tree failure
// handler is called.
func (n *Node) Load(ctx context.Context) bool {
	if n.IsLoaded() {
		return true
	}

	res, err := n.Read(ctx)
	if err != nil {
		n.Fail(err)
		return false
	}

	n.Commit(res)
	return n.IsLoaded()
}

// Read reads the node payload with the tree loader without modifying the
// node. It is safe to call from any goroutine.
func (n *Node) Read(ctx context.Context) (*LoadResult, error) {
	if n.tree == nil {
		return n.ReadFrom(ctx, nil)
	}
	return n.ReadFrom(ctx, n.tree.loader)
}

// ReadFrom is like Read but reads from the given source.
func (n *Node) ReadFrom(ctx context.Context, source Loader) (*LoadResult, error) {
	if source == nil {
		return nil, errors.New("tile has no loader").
			WithType(ErrTypeDetached).
			WithTag("tile", n.path)
	}

	res, err := source.Load(ctx, n.path)
	if err != nil {
		return nil, errors.New("reading tile failed").
			WithType(ErrTypeIOFailure).
			WithTag("tile", n.path).
			Wrap(err)
	}

	if err := validateLoadResult(res); err != nil {
		if res != nil {
			res.Release()
		}
		return nil, errors.New("tile content is invalid").
			WithType(ErrTypeCorruptTile).
			WithTag("tile", n.path).
			Wrap(err)
	}
	return res, nil
}

func validateLoadResult(res *LoadResult) error {
	if res == nil {
		return errors.New("empty load result")
	}

	for i, b := range res.Batches {
		if b == nil {
			return errors.Newf("batch %d is nil", i)
		}

		if b.TextureIndex != models.PlaceholderTexture &&
			(b.TextureIndex < 0 || b.TextureIndex >= len(res.Textures)) {
			return errors.Newf("batch %d references texture %d out of %d", i, b.TextureIndex, len(res.Textures))
		}

		for _, idx := range b.Indices {
			if int(idx) >= len(b.Vertices) {
				return errors.Newf("batch %d index %d is out of %d vertices", i, idx, len(b.Vertices))
			}
		}
	}

	for i, t := range res.Textures {
		if t == nil {
			return errors.Newf("texture %d is nil", i)
		}
	}

	var octants [8]bool
	for _, c := range res.Children {
		if c.Name == "" {
			return errors.New("child has no name")
		}

		if c.Octant < 0 || c.Octant >= len(octants) {
			return errors.Newf("child %q has octant %d", c.Name, c.Octant)
		}

		if octants[c.Octant] {
			return errors.Newf("octant %d is enumerated twice", c.Octant)
		}
		octants[c.Octant] = true
	}
	return nil
}

// Commit publishes a payload read with Read. Children are attached before the
// payload becomes visible, so a loaded node always exposes its topology.
// Children that already exist are kept as is. Returns false when the node was
// already loaded, in which case the result is released.
func (n *Node) Commit(res *LoadResult) bool {
	if n.IsLoaded() {
		res.Release()
		return false
	}

	policy := SplitOctree
	if n.tree != nil {
		policy = n.tree.split
	}

	for _, desc := range res.Children {
		if !policy.Allows(desc.Octant) {
			logs.WithTag("tile", n.path).
				WithTag("octant", desc.Octant).
				WithTag("split_policy", policy.String()).
				Debug("skipping child excluded by split policy")
			continue
		}

		if n.children[desc.Octant] == nil {
			n.children[desc.Octant] = newNode(desc, n, n.tree)
		}
	}

	p := newPayload(res.Batches, res.Textures)
	n.payload.Store(p)
	n.failed.Store(false)

	if n.tree != nil {
		n.tree.addResident(p.size)
	}
	instrumentCommit()
	return true
}

// Fail marks the node as failed and reports the error to the tree failure
// handler.
func (n *Node) Fail(err error) {
	n.failed.Store(true)
	instrumentFailure(err)

	if n.tree != nil {
		n.tree.handleFailure(n.path, err)
		return
	}
	defaultFailureHandler(n.path, err)
}

// LoadUntilDisplayable synchronously loads the node, then its largest child,
// and so on until a displayable node is loaded. Every visited node is marked
// as primary and is never evicted. Returns whether a displayable node was
// reached.
func (n *Node) LoadUntilDisplayable(ctx context.Context) bool {
	for node := n; node != nil; node = node.primaryChild() {
		node.primary.Store(true)

		if !node.IsLoaded() && !node.loadSync(ctx) {
			return false
		}

		if node.IsDisplayable() {
			return true
		}
	}
	return false
}

// primaryChild returns the child covering the largest volume, the lowest
// octant winning ties.
func (n *Node) primaryChild() *Node {
	var best *Node
	for _, c := range n.children {
		if c == nil {
			continue
		}
		if best == nil || c.Range.Volume() > best.Range.Volume() {
			best = c
		}
	}
	return best
}

func (n *Node) loadSync(ctx context.Context) bool {
	if s := n.streamer(); s != nil {
		return s.SynchronousRead(ctx, n, n.tree.loader)
	}
	return n.Load(ctx)
}
