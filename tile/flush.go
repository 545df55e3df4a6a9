package tile

// FlushStale evicts the payload of the subtree nodes that were not visited
// for more than staleTime ticks. Children are flushed first. A node is kept
// when it is primary, when a load targets it or one of its descendants, or
// while one of its children is still loaded. Topology and metadata are always
// kept. Returns the number of evicted nodes.
func (n *Node) FlushStale(staleTime, now uint64) int {
	evicted, _ := n.flushStale(staleTime, now)
	return evicted
}

func (n *Node) flushStale(staleTime, now uint64) (evicted int, busy bool) {
	var childLoaded bool
	for _, c := range n.children {
		if c == nil {
			continue
		}

		e, b := c.flushStale(staleTime, now)
		evicted += e
		busy = busy || b
		childLoaded = childLoaded || c.IsLoaded()
	}

	busy = busy || n.IsQueued()

	if busy || childLoaded || n.IsPrimary() || !n.IsLoaded() {
		return evicted, busy
	}

	lastUsed := n.lastUsed.Load()
	if now < lastUsed || now-lastUsed <= staleTime {
		return evicted, busy
	}

	if n.clear() {
		evicted++
		instrumentEviction()
	}
	return evicted, busy
}

// clear drops the node payload. Returns false if the node was not loaded.
func (n *Node) clear() bool {
	p := n.payload.Swap(nil)
	if p == nil {
		return false
	}

	p.release()
	if n.tree != nil {
		n.tree.addResident(-p.size)
	}
	n.childrenRequested.Store(false)
	return true
}
