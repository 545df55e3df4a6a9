package tile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodstream/geom"
	"github.com/google/uuid"
)

type TreeOption func(*Tree)

// WithDrawer sets the drawer payload is submitted to. Trees without drawer
// only update traversal statistics.
func WithDrawer(d Drawer) TreeOption {
	return func(t *Tree) {
		t.drawer = d
	}
}

// WithFailureHandler sets the function called when a tile fails to load.
func WithFailureHandler(h FailureHandler) TreeOption {
	return func(t *Tree) {
		t.onFailure = h
	}
}

func WithSplitPolicy(p SplitPolicy) TreeOption {
	return func(t *Tree) {
		t.split = p
	}
}

// WithStreamer sets the streamer that loads tiles in the background. Trees
// without streamer load tiles synchronously while drawing.
func WithStreamer(s Streamer) TreeOption {
	return func(t *Tree) {
		t.streamer = s
	}
}

// Tree is a tile tree with one or more roots.
type Tree struct {
	UUID         string
	Name         string
	Georeference geom.Matrix4

	loader    Loader
	drawer    Drawer
	split     SplitPolicy
	onFailure FailureHandler

	streamerMutex sync.RWMutex
	streamer      Streamer

	roots    []*Node
	resident atomic.Int64
}

// NewTree creates a tree whose roots are described by the scene. Roots are
// created unloaded.
func NewTree(scene Scene, loader Loader, opts ...TreeOption) *Tree {
	t := &Tree{
		UUID:         uuid.NewString(),
		Name:         scene.Name,
		Georeference: scene.Georeference,
		loader:       loader,
		split:        SplitOctree,
		onFailure:    defaultFailureHandler,
	}

	if t.Georeference.IsZero() {
		t.Georeference = geom.Identity()
	}

	for _, opt := range opts {
		opt(t)
	}

	for _, desc := range scene.Roots {
		t.roots = append(t.roots, newNode(desc, nil, t))
	}
	return t
}

// LoadTree reads the scene with reader and creates the matching tree.
func LoadTree(ctx context.Context, reader SceneReader, loader Loader, opts ...TreeOption) (*Tree, error) {
	scene, err := reader.ReadScene(ctx)
	if err != nil {
		return nil, errors.New("reading scene failed").
			WithType(ErrTypeIOFailure).
			Wrap(err)
	}

	if len(scene.Roots) == 0 {
		return nil, errors.New("scene has no roots").
			WithType(ErrTypeCorruptTile).
			WithTag("scene", scene.Name)
	}
	return NewTree(scene, loader, opts...), nil
}

func defaultFailureHandler(name string, err error) {
	logs.Warn(errors.New("loading tile failed").
		WithTag("tile", name).
		Wrap(err))
}

func (t *Tree) Streamer() Streamer {
	t.streamerMutex.RLock()
	defer t.streamerMutex.RUnlock()

	return t.streamer
}

func (t *Tree) SetStreamer(s Streamer) {
	t.streamerMutex.Lock()
	defer t.streamerMutex.Unlock()

	t.streamer = s
}

func (t *Tree) Roots() []*Node {
	roots := make([]*Node, len(t.roots))
	copy(roots, t.roots)
	return roots
}

// ResidentBytes returns the number of payload bytes currently held by the
// tree nodes.
func (t *Tree) ResidentBytes() int64 {
	return t.resident.Load()
}

func (t *Tree) addResident(delta int64) {
	t.resident.Add(delta)
	instrumentResidentBytes(delta)
}

func (t *Tree) handleFailure(name string, err error) {
	if t.onFailure != nil {
		t.onFailure(name, err)
	}
}

// Draw draws every root with the tree georeference applied after the context
// transform.
func (t *Tree) Draw(ctx context.Context, tc *TraversalContext) (childrenScheduled bool) {
	if s := t.Streamer(); s != nil {
		tc.Stats.LastPumpTick = s.LastPumpTick()
	}

	transform := tc.Transform
	defer func() {
		tc.Transform = transform
	}()

	view := transform
	if view.IsZero() {
		view = geom.Identity()
	}
	tc.Transform = view.Mul(t.Georeference)

	for _, r := range t.roots {
		if r.Draw(ctx, tc) {
			childrenScheduled = true
		}
	}
	return childrenScheduled
}

// Bootstrap loads every root until displayable. Returns whether all roots
// reached displayable content.
func (t *Tree) Bootstrap(ctx context.Context) bool {
	ok := true
	for _, r := range t.roots {
		if !r.LoadUntilDisplayable(ctx) {
			ok = false
		}
	}

	logs.WithTag("tree", t.Name).
		WithTag("tree_uuid", t.UUID).
		WithTag("displayable", ok).
		WithTag("resident_bytes", t.ResidentBytes()).
		Info("tree bootstrapped")
	return ok
}

// FlushStale evicts stale payload from every root. Returns the number of
// evicted nodes.
func (t *Tree) FlushStale(staleTime, now uint64) int {
	var evicted int
	for _, r := range t.roots {
		evicted += r.FlushStale(staleTime, now)
	}
	return evicted
}

// ReplaceRoots updates the tree with a new scene. Roots whose name, range and
// error are unchanged are kept with their loaded content; the others are
// destroyed and recreated unloaded. Returns the number of replaced roots.
func (t *Tree) ReplaceRoots(scene Scene) int {
	existing := make(map[string]*Node, len(t.roots))
	for _, r := range t.roots {
		existing[r.Name] = r
	}

	var replaced int
	roots := make([]*Node, 0, len(scene.Roots))
	for _, desc := range scene.Roots {
		r, ok := existing[desc.Name]
		if ok && r.Range.Equal(desc.Range) && r.DMax == desc.DMax {
			delete(existing, desc.Name)
			roots = append(roots, r)
			continue
		}

		roots = append(roots, newNode(desc, nil, t))
		replaced++
	}

	for _, r := range existing {
		r.destroy()
	}

	t.roots = roots
	t.Name = scene.Name
	if !scene.Georeference.IsZero() {
		t.Georeference = scene.Georeference
	}
	return replaced
}

// Close destroys every root, cancelling their pending loads and releasing
// their payload.
func (t *Tree) Close() {
	for _, r := range t.roots {
		r.destroy()
	}
	t.roots = nil
}

func (t *Tree) GetRange() geom.Box {
	box := geom.EmptyBox()
	for _, r := range t.roots {
		box = box.Union(r.GetRange())
	}
	return box
}

func (t *Tree) GetMemorySize() int64 {
	var size int64
	for _, r := range t.roots {
		size += r.GetMemorySize()
	}
	return size
}

func (t *Tree) GetMeshMemorySize() int64 {
	var size int64
	for _, r := range t.roots {
		size += r.GetMeshMemorySize()
	}
	return size
}

func (t *Tree) GetNodeCount() int {
	var count int
	for _, r := range t.roots {
		count += r.GetNodeCount()
	}
	return count
}

func (t *Tree) GetMaxDepth() int {
	var depth int
	for _, r := range t.roots {
		depth = max(depth, r.GetMaxDepth())
	}
	return depth
}

// GetTiles enumerates the tiles of every root that satisfy
// targetResolution. See Node.GetTiles.
func (t *Tree) GetTiles(fn func(*Node), targetResolution float32) {
	for _, r := range t.roots {
		r.GetTiles(fn, targetResolution)
	}
}
