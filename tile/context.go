package tile

import (
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
)

type ResolutionMode int

const (
	// The tolerance is a projected error in pixels.
	ResolutionAdaptive ResolutionMode = iota

	// The tolerance is a geometric error in world units, regardless of the
	// viewer distance.
	ResolutionFixed
)

// Resolution is the level of detail policy of a traversal.
type Resolution struct {
	Mode  ResolutionMode
	Value float32
}

// DefaultResolution accepts tiles whose projected error is under two
// pixels.
var DefaultResolution = Resolution{Mode: ResolutionAdaptive, Value: 2}

// ParseResolution parses a resolution written as a pixel tolerance, e.g.
// "2", or as a geometric error prefixed with "fixed:", e.g. "fixed:0.5".
func ParseResolution(s string) (Resolution, error) {
	mode := ResolutionAdaptive
	if v, ok := strings.CutPrefix(s, "fixed:"); ok {
		mode = ResolutionFixed
		s = v
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return Resolution{}, errors.New("invalid resolution").
			WithTag("resolution", s).
			Wrap(err)
	}
	if v <= 0 {
		return Resolution{}, errors.New("resolution must be positive").
			WithTag("resolution", s)
	}

	return Resolution{Mode: mode, Value: float32(v)}, nil
}

func (r Resolution) String() string {
	v := strconv.FormatFloat(float64(r.Value), 'g', -1, 32)
	if r.Mode == ResolutionFixed {
		return "fixed:" + v
	}
	return v
}

// Stats are the counters updated while traversing trees. They are not used
// for any decision.
type Stats struct {
	Visited      int
	Drawn        int
	Points       int
	Requested    int
	LastPumpTick uint64
}

// TraversalContext bundles the parameters of a draw traversal.
type TraversalContext struct {
	// The transform from tile space to view space. The viewer sits at the
	// origin of view space.
	Transform geom.Matrix4

	// Loads missing children inline instead of queuing them.
	LoadSynchronous bool

	Resolution Resolution

	// The number of pixels covered by one world unit at distance one, e.g.
	// viewportHeight / (2 * tan(fovY / 2)).
	ProjectionScale float32

	// The number of resident bytes above which no new loads are requested.
	// 0 disables the budget.
	MemoryBudget int64

	// The tick stamped on every visited node.
	Tick uint64

	// Passed as is to the drawer and the streamer.
	Viewport any

	Stats Stats
}

// NewTraversalContext returns a context with the default resolution policy
// and a projection scale matching a 1080 pixel high viewport with a 60
// degree field of view.
func NewTraversalContext(transform geom.Matrix4, tick uint64) *TraversalContext {
	return &TraversalContext{
		Transform:       transform,
		Resolution:      DefaultResolution,
		ProjectionScale: 935.3,
		Tick:            tick,
	}
}
