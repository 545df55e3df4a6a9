package frame

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodstream/streaming"
	"github.com/aukilabs/lodstream/tile"
)

const (
	DefaultFrameDuration = time.Second / 60
	DefaultFlushInterval = 60
	DefaultStaleTicks    = 600
)

// Config is the configuration of a frame driver.
type Config struct {
	// The time between two frames when running.
	FrameDuration time.Duration

	// The number of frames between two flushes of stale tiles. 0 uses the
	// default.
	FlushInterval uint64

	// The number of frames after which an unvisited tile is stale.
	StaleTicks uint64

	Resolution      tile.Resolution
	ProjectionScale float32
	MemoryBudget    int64
	LoadSynchronous bool

	// Passed to the drawer of every tree.
	Viewport any
}

// Stats are the statistics of a frame.
type Stats struct {
	Tick          uint64        `json:"tick"`
	Visited       int           `json:"visited"`
	Drawn         int           `json:"drawn"`
	Points        int           `json:"points"`
	Requested     int           `json:"requested"`
	Scheduled     bool          `json:"scheduled"`
	Status        string        `json:"status"`
	Evicted       int           `json:"evicted"`
	ResidentBytes int64         `json:"resident_bytes"`
	Duration      time.Duration `json:"duration"`
}

// Settled reports whether the frame drew the final level of detail: nothing
// was scheduled and no load was pending.
func (s Stats) Settled() bool {
	return !s.Scheduled && s.Status == streaming.StatusNone.String()
}

// Driver runs the frames of the trees registered to a streaming manager: it
// advances the manager clock, draws every tree, pumps the requests and
// periodically flushes stale tiles.
type Driver struct {
	manager *streaming.Manager
	camera  Camera
	config  Config

	statsMutex sync.RWMutex
	last       Stats
	frames     uint64
}

// NewDriver creates a driver. Zero config fields are set to their default
// value.
func NewDriver(m *streaming.Manager, camera Camera, cfg Config) *Driver {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.StaleTicks == 0 {
		cfg.StaleTicks = DefaultStaleTicks
	}
	if cfg.Resolution.Value == 0 {
		cfg.Resolution = tile.DefaultResolution
	}

	return &Driver{
		manager: m,
		camera:  camera,
		config:  cfg,
	}
}

// Step runs a single frame.
func (d *Driver) Step(ctx context.Context) Stats {
	start := time.Now()
	tick := d.manager.Tick()
	view := d.camera.View(tick)

	stats := Stats{Tick: tick}
	for _, t := range d.manager.Trees() {
		tc := tile.NewTraversalContext(view, tick)
		tc.Resolution = d.config.Resolution
		tc.MemoryBudget = d.config.MemoryBudget
		tc.LoadSynchronous = d.config.LoadSynchronous
		tc.Viewport = d.config.Viewport
		if d.config.ProjectionScale > 0 {
			tc.ProjectionScale = d.config.ProjectionScale
		}

		if t.Draw(ctx, tc) {
			stats.Scheduled = true
		}

		stats.Visited += tc.Stats.Visited
		stats.Drawn += tc.Stats.Drawn
		stats.Points += tc.Stats.Points
		stats.Requested += tc.Stats.Requested
	}

	stats.Status = d.manager.ProcessRequests(ctx).String()

	if tick%d.config.FlushInterval == 0 {
		stats.Evicted = d.manager.Flush(d.config.StaleTicks)
	}

	for _, t := range d.manager.Trees() {
		stats.ResidentBytes += t.ResidentBytes()
	}

	stats.Duration = time.Since(start)
	instrumentFrame(stats)

	d.statsMutex.Lock()
	d.last = stats
	d.frames++
	d.statsMutex.Unlock()

	logs.WithTag("tick", stats.Tick).
		WithTag("drawn", stats.Drawn).
		WithTag("requested", stats.Requested).
		WithTag("status", stats.Status).
		Debug("frame")
	return stats
}

// Run runs a frame every FrameDuration until the context is done.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.FrameDuration)
	defer ticker.Stop()

	logs.WithTag("frame_duration", d.config.FrameDuration).
		WithTag("flush_interval", d.config.FlushInterval).
		WithTag("stale_ticks", d.config.StaleTicks).
		Info("frame driver started")

	for {
		select {
		case <-ctx.Done():
			logs.WithTag("frames", d.Frames()).
				Info("frame driver stopped")
			return nil

		case <-ticker.C:
			d.Step(ctx)
		}
	}
}

// RunUntilSettled runs frames back to back until a frame is settled or
// maxFrames frames ran. Returns the stats of the last frame and whether it
// settled.
func (d *Driver) RunUntilSettled(ctx context.Context, maxFrames int) (Stats, bool) {
	var stats Stats
	for i := 0; i < maxFrames; i++ {
		if ctx.Err() != nil {
			return stats, false
		}

		stats = d.Step(ctx)
		if stats.Settled() {
			return stats, true
		}
	}
	return stats, false
}

// Last returns the stats of the last frame.
func (d *Driver) Last() Stats {
	d.statsMutex.RLock()
	defer d.statsMutex.RUnlock()

	return d.last
}

// Frames returns the number of frames run.
func (d *Driver) Frames() uint64 {
	d.statsMutex.RLock()
	defer d.statsMutex.RUnlock()

	return d.frames
}
