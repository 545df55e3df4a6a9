package tile

import (
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
)

// SplitPolicy is the set of octants a tile may be subdivided into, one bit
// per octant.
type SplitPolicy uint8

const (
	// All eight octants.
	SplitOctree SplitPolicy = 0xFF

	// Quadtrees keep the four octants lying on the lower half of the axis
	// that is not subdivided.
	SplitQuadtreeXY SplitPolicy = 0x0F // octants 0, 1, 2, 3
	SplitQuadtreeXZ SplitPolicy = 0x33 // octants 0, 1, 4, 5
	SplitQuadtreeYZ SplitPolicy = 0x55 // octants 0, 2, 4, 6
)

// Allows reports whether the octant is part of the policy.
func (p SplitPolicy) Allows(octant int) bool {
	if octant < 0 || octant >= 8 {
		return false
	}
	return p&(1<<octant) != 0
}

// Octants returns the allowed octants in ascending order.
func (p SplitPolicy) Octants() []int {
	octants := make([]int, 0, 8)
	for i := 0; i < 8; i++ {
		if p.Allows(i) {
			octants = append(octants, i)
		}
	}
	return octants
}

// ChildRange returns the range of the child in the given octant. Quadtree
// children keep the full parent extent on the axis that is not subdivided.
func (p SplitPolicy) ChildRange(parent geom.Box, octant int) geom.Box {
	switch p {
	case SplitQuadtreeXY:
		return parent.Split(octant, true, true, false)
	case SplitQuadtreeXZ:
		return parent.Split(octant, true, false, true)
	case SplitQuadtreeYZ:
		return parent.Split(octant, false, true, true)
	default:
		return parent.Octant(octant)
	}
}

func (p SplitPolicy) String() string {
	switch p {
	case SplitOctree:
		return "octree"
	case SplitQuadtreeXY:
		return "quadtree-xy"
	case SplitQuadtreeXZ:
		return "quadtree-xz"
	case SplitQuadtreeYZ:
		return "quadtree-yz"
	default:
		return "custom"
	}
}

// ParseSplitPolicy returns the policy named by s. An empty name is
// SplitOctree.
func ParseSplitPolicy(s string) (SplitPolicy, error) {
	switch strings.TrimSpace(s) {
	case "", "octree":
		return SplitOctree, nil
	case "quadtree-xy":
		return SplitQuadtreeXY, nil
	case "quadtree-xz":
		return SplitQuadtreeXZ, nil
	case "quadtree-yz":
		return SplitQuadtreeYZ, nil
	default:
		return 0, errors.New("unknown split policy").
			WithTag("split_policy", s)
	}
}
