package tile

import (
	"path"
	"sync/atomic"

	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
)

// payload is the content committed to a node in a single atomic store.
type payload struct {
	batches  []*models.GeometryBatch
	textures []*models.TextureResource
	meshSize int64
	size     int64
}

func newPayload(batches []*models.GeometryBatch, textures []*models.TextureResource) *payload {
	p := &payload{
		batches:  batches,
		textures: textures,
	}
	for _, b := range batches {
		p.meshSize += b.MemorySize()
	}
	p.size = p.meshSize
	for _, t := range textures {
		p.size += t.MemorySize()
	}
	return p
}

func (p *payload) clone() *payload {
	batches := make([]*models.GeometryBatch, len(p.batches))
	for i, b := range p.batches {
		batches[i] = b.Clone()
	}

	textures := make([]*models.TextureResource, len(p.textures))
	for i, t := range p.textures {
		textures[i] = t.Retain()
	}
	return newPayload(batches, textures)
}

func (p *payload) release() {
	for _, t := range p.textures {
		t.Release()
	}
}

// Node is a cell of a tile tree. Its metadata and topology are immutable once
// enumerated by the parent; its payload is committed at once by a load and
// cleared by an eviction.
//
// Topology and payload are mutated on the goroutine that draws the tree. Load
// workers only call Read.
type Node struct {
	Name   string
	Octant int
	Range  geom.Box
	DMax   float32

	path     string
	depth    int
	parent   *Node
	tree     *Tree
	children [8]*Node

	payload           atomic.Pointer[payload]
	primary           atomic.Bool
	childrenRequested atomic.Bool
	failed            atomic.Bool
	lastUsed          atomic.Uint64
	pending           atomic.Int32
}

func newNode(desc Descriptor, parent *Node, tree *Tree) *Node {
	n := &Node{
		Name:   desc.Name,
		Octant: desc.Octant,
		Range:  desc.Range,
		DMax:   desc.DMax,
		parent: parent,
		tree:   tree,
		path:   desc.Name,
	}

	if parent != nil {
		n.path = path.Join(parent.path, desc.Name)
		n.depth = parent.depth + 1
	}
	return n
}

// Path returns the path the node payload is read from.
func (n *Node) Path() string {
	return n.path
}

func (n *Node) Depth() int {
	return n.depth
}

func (n *Node) Parent() *Node {
	return n.parent
}

// Tree returns the tree the node belongs to, nil for detached clones.
func (n *Node) Tree() *Tree {
	return n.tree
}

func (n *Node) Child(octant int) *Node {
	if octant < 0 || octant >= len(n.children) {
		return nil
	}
	return n.children[octant]
}

// Children returns the existing children in octant order.
func (n *Node) Children() []*Node {
	children := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		if c != nil {
			children = append(children, c)
		}
	}
	return children
}

func (n *Node) HasChildren() bool {
	for _, c := range n.children {
		if c != nil {
			return true
		}
	}
	return false
}

func (n *Node) IsLoaded() bool {
	return n.payload.Load() != nil
}

// IsDisplayable reports whether the node is loaded and holds at least one
// batch that can be drawn on its own.
func (n *Node) IsDisplayable() bool {
	p := n.payload.Load()
	if p == nil {
		return false
	}
	for _, b := range p.batches {
		if b.Displayable() {
			return true
		}
	}
	return false
}

func (n *Node) IsPrimary() bool {
	return n.primary.Load()
}

// IsFailed reports whether the last load of the node failed. Failed nodes are
// not requested again.
func (n *Node) IsFailed() bool {
	return n.failed.Load()
}

// IsQueued reports whether a load targeting the node is queued or in flight.
func (n *Node) IsQueued() bool {
	return n.pending.Load() > 0
}

func (n *Node) ChildrenRequested() bool {
	return n.childrenRequested.Load()
}

func (n *Node) LastUsed() uint64 {
	return n.lastUsed.Load()
}

func (n *Node) Batches() []*models.GeometryBatch {
	if p := n.payload.Load(); p != nil {
		return p.batches
	}
	return nil
}

func (n *Node) Textures() []*models.TextureResource {
	if p := n.payload.Load(); p != nil {
		return p.textures
	}
	return nil
}

// MarkQueued records a load targeting the node. Nodes with loads recorded are
// never evicted.
func (n *Node) MarkQueued() {
	n.pending.Add(1)
}

// MarkSettled records the completion or cancellation of a load recorded with
// MarkQueued.
func (n *Node) MarkSettled() {
	if n.pending.Add(-1) < 0 {
		n.pending.Store(0)
	}
}

// ClearRequested allows the node to request loads again.
func (n *Node) ClearRequested() {
	n.childrenRequested.Store(false)
}

// Touch marks the node as used at the given tick. The last used tick never
// goes backwards.
func (n *Node) Touch(tick uint64) {
	for {
		last := n.lastUsed.Load()
		if tick <= last || n.lastUsed.CompareAndSwap(last, tick) {
			return
		}
	}
}

func (n *Node) GetRange() geom.Box {
	return n.Range
}

// OwnMemorySize returns the payload bytes held by the node alone.
func (n *Node) OwnMemorySize() int64 {
	if p := n.payload.Load(); p != nil {
		return p.size
	}
	return 0
}

// OwnMeshMemorySize returns the geometry bytes held by the node alone.
func (n *Node) OwnMeshMemorySize() int64 {
	if p := n.payload.Load(); p != nil {
		return p.meshSize
	}
	return 0
}

// GetMemorySize returns the payload bytes held by the node and its
// descendants.
func (n *Node) GetMemorySize() int64 {
	size := n.OwnMemorySize()
	for _, c := range n.children {
		if c != nil {
			size += c.GetMemorySize()
		}
	}
	return size
}

// GetMeshMemorySize returns the geometry bytes held by the node and its
// descendants.
func (n *Node) GetMeshMemorySize() int64 {
	size := n.OwnMeshMemorySize()
	for _, c := range n.children {
		if c != nil {
			size += c.GetMeshMemorySize()
		}
	}
	return size
}

func (n *Node) GetNodeCount() int {
	count := 1
	for _, c := range n.children {
		if c != nil {
			count += c.GetNodeCount()
		}
	}
	return count
}

// GetMaxDepth returns the number of levels below the node, 0 for a leaf.
func (n *Node) GetMaxDepth() int {
	var depth int
	for _, c := range n.children {
		if c != nil {
			depth = max(depth, c.GetMaxDepth()+1)
		}
	}
	return depth
}

// GetTiles calls fn on every node of the subtree whose resolution satisfies
// targetResolution, or that has no known children. Descendants of such nodes
// are not visited.
func (n *Node) GetTiles(fn func(*Node), targetResolution float32) {
	if n.DMax <= targetResolution || !n.HasChildren() {
		fn(n)
		return
	}

	for _, c := range n.children {
		if c != nil {
			c.GetTiles(fn, targetResolution)
		}
	}
}

// RemoveChild destroys a child subtree: pending loads are cancelled and the
// payload is released.
func (n *Node) RemoveChild(child *Node) bool {
	if child == nil || child.parent != n {
		return false
	}

	for i, c := range n.children {
		if c == child {
			n.children[i] = nil
			child.destroy()
			return true
		}
	}
	return false
}

func (n *Node) destroy() {
	for i, c := range n.children {
		if c != nil {
			c.destroy()
			n.children[i] = nil
		}
	}

	if s := n.streamer(); s != nil {
		s.RemoveRequest(n)
	}
	n.clear()
	n.parent = nil
}

// Clone returns a detached deep copy of the subtree. Geometry is copied while
// textures are shared with the original through reference counting. Clones
// do not belong to any tree and cannot load.
func (n *Node) Clone() *Node {
	c := &Node{
		Name:   n.Name,
		Octant: n.Octant,
		Range:  n.Range,
		DMax:   n.DMax,
		path:   n.path,
		depth:  n.depth,
	}
	c.lastUsed.Store(n.lastUsed.Load())

	if p := n.payload.Load(); p != nil {
		c.payload.Store(p.clone())
	}

	for i, child := range n.children {
		if child != nil {
			cc := child.Clone()
			cc.parent = c
			c.children[i] = cc
		}
	}
	return c
}

func (n *Node) streamer() Streamer {
	if n.tree == nil {
		return nil
	}
	return n.tree.Streamer()
}

func (n *Node) drawer() Drawer {
	if n.tree == nil {
		return nil
	}
	return n.tree.drawer
}
