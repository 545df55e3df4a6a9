package tile

import (
	"context"

	"github.com/aukilabs/lodstream/geom"
)

// TestVisibility decides whether the node level of detail is enough for the
// given transform. accept is true when the node should be drawn instead of
// its children. underBudget is false when the tree resident memory reached
// the context memory budget, in which case callers should not request more
// content.
func (n *Node) TestVisibility(transform geom.Matrix4, tc *TraversalContext) (accept, underBudget bool) {
	underBudget = tc.MemoryBudget <= 0 ||
		n.tree == nil ||
		n.tree.ResidentBytes() < tc.MemoryBudget

	if n.DMax == 0 {
		return true, underBudget
	}

	if tc.Resolution.Mode == ResolutionFixed {
		return n.DMax <= tc.Resolution.Value, underBudget
	}

	if transform.IsZero() {
		transform = geom.Identity()
	}

	scale := transform.MaxScale()
	center := transform.MulPoint(n.Range.Center())
	distance := float32(center.Length()) - n.Range.Radius()*scale
	if distance <= 0 {
		return false, underBudget
	}

	projectedError := n.DMax * scale / distance * tc.ProjectionScale
	return projectedError <= tc.Resolution.Value, underBudget
}

// Draw draws the subtree at the level of detail selected by TestVisibility.
//
// When the node must be refined but some children are not loaded yet, the
// node is drawn in their place and the missing children are requested.
// childrenScheduled is then true, telling the caller that another frame is
// needed once streaming completes. An unloaded node requests its own load.
func (n *Node) Draw(ctx context.Context, tc *TraversalContext) (childrenScheduled bool) {
	n.Touch(tc.Tick)
	tc.Stats.Visited++

	synchronous := tc.LoadSynchronous || n.streamer() == nil

	if !n.IsLoaded() {
		if n.IsFailed() {
			return false
		}

		if !synchronous {
			n.request(tc, []*Node{n})
			return true
		}

		if !n.loadSync(ctx) {
			return false
		}
	}

	accept, underBudget := n.TestVisibility(tc.Transform, tc)
	if !n.IsDisplayable() && n.HasChildren() {
		accept = false
	}

	if accept || !n.HasChildren() {
		n.drawPayload(tc)
		return false
	}

	missing, blocked := n.missingChildren()
	if len(missing) != 0 && !blocked {
		if !underBudget {
			n.drawPayload(tc)
			return false
		}

		if !synchronous {
			n.drawPayload(tc)
			n.request(tc, missing)
			return true
		}

		for _, c := range missing {
			c.loadSync(ctx)
		}
		missing, blocked = n.missingChildren()
	}

	if blocked || len(missing) != 0 {
		n.drawPayload(tc)
		return false
	}

	for _, c := range n.children {
		if c != nil && c.Draw(ctx, tc) {
			childrenScheduled = true
		}
	}
	return childrenScheduled
}

// missingChildren returns the children that are not loaded. blocked is true
// when a child failed to load, which prevents the node from being refined.
func (n *Node) missingChildren() (missing []*Node, blocked bool) {
	for _, c := range n.children {
		switch {
		case c == nil:
		case c.IsFailed():
			blocked = true
		case !c.IsLoaded():
			missing = append(missing, c)
		}
	}
	return missing, blocked
}

// RequestLoadUntilDisplayable enqueues a background load of the node, or of
// its missing children when the node is already loaded. Only one request is
// made until the enqueued loads settle. Returns whether loads were enqueued.
func (n *Node) RequestLoadUntilDisplayable() bool {
	targets := []*Node{n}
	if n.IsLoaded() {
		missing, blocked := n.missingChildren()
		if blocked {
			return false
		}
		targets = missing
	} else if n.IsFailed() {
		return false
	}

	if len(targets) == 0 {
		return false
	}

	tc := TraversalContext{Transform: geom.Identity()}
	return n.request(&tc, targets) != 0
}

func (n *Node) request(tc *TraversalContext, nodes []*Node) int {
	s := n.streamer()
	if s == nil {
		return 0
	}

	if !n.childrenRequested.CompareAndSwap(false, true) {
		return 0
	}

	queued := s.QueueChildLoad(n, nodes, tc.Viewport, tc.Transform)
	if queued == 0 {
		n.childrenRequested.Store(false)
		return 0
	}

	tc.Stats.Requested += queued
	return queued
}

func (n *Node) drawPayload(tc *TraversalContext) {
	p := n.payload.Load()
	if p == nil {
		return
	}
	tc.Stats.Drawn++

	d := n.drawer()
	for _, b := range p.batches {
		if !b.Displayable() {
			continue
		}
		tc.Stats.Points += len(b.Vertices)

		if d == nil {
			continue
		}
		d.DrawTexture(tc.Viewport, p.textures[b.TextureIndex])
		d.DrawGeometry(tc.Viewport, tc.Transform, b)
	}
}
