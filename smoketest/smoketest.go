package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodstream/frame"
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/streaming"
	"github.com/aukilabs/lodstream/tile"
	"github.com/segmentio/encoding/json"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	ErrTypeNotSettled = "smoke_test_not_settled"

	defaultFrames  = 10000
	defaultTimeout = 30 * time.Second
)

// Options are the options to run a smoke test.
type Options struct {
	Reader tile.SceneReader
	Loader tile.Loader
	Split  tile.SplitPolicy

	// The number of loading goroutines. 0 loads on the frame goroutine.
	Workers int

	// The maximum number of frames to reach the final level of detail.
	Frames int

	Timeout      time.Duration
	MemoryBudget int64

	// The camera used to draw the scene. Defaults to a still camera looking
	// at the scene from outside its bounds.
	Camera frame.Camera

	// When set, the smoke test handler runs the test in the background and
	// sends the results with this function instead of writing them in the
	// response.
	SendResult func(context.Context, Results) error
}

// Request is the body of a smoke test request. Zero fields keep the handler
// options. A request can lower the handler workers but never raise them, and
// frames and timeout are capped to the larger of the handler options and the
// defaults.
type Request struct {
	Frames  int           `json:"frames,omitempty"`
	Workers int           `json:"workers,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Results are the results of a smoke test.
type Results struct {
	Scene           string  `json:"scene"`
	Status          string  `json:"status"`
	Error           string  `json:"error,omitempty"`
	Frames          uint64  `json:"frames"`
	Drawn           int     `json:"drawn"`
	Tiles           int     `json:"tiles"`
	MaxDepth        int     `json:"max_depth"`
	ResidentBytes   int64   `json:"resident_bytes"`
	Committed       uint64  `json:"committed"`
	Failed          uint64  `json:"failed"`
	LatencyMilliSec float64 `json:"latency_ms"`
}

// Run loads the scene, registers it to a new streaming manager and runs
// frames until the scene is drawn at its final level of detail.
func Run(ctx context.Context, opts Options) (Results, error) {
	if opts.Frames <= 0 {
		opts.Frames = defaultFrames
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	res := Results{Status: StatusFailed}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	m := streaming.New(streaming.Config{Workers: opts.Workers})
	if err := m.Initialize(ctx); err != nil {
		return res, err
	}
	defer m.Shutdown()

	var treeOpts []tile.TreeOption
	if opts.Split != 0 {
		treeOpts = append(treeOpts, tile.WithSplitPolicy(opts.Split))
	}

	tree, err := tile.LoadTree(ctx, opts.Reader, opts.Loader, treeOpts...)
	if err != nil {
		return res, errors.New("loading smoke test scene failed").Wrap(err)
	}
	defer tree.Close()
	res.Scene = tree.Name

	m.AddRoot(tree)
	defer m.RemoveRoot(tree)

	if !tree.Bootstrap(ctx) {
		return res, errors.New("bootstrapping smoke test scene failed").
			WithTag("scene", tree.Name)
	}

	camera := opts.Camera
	if camera == nil {
		camera = defaultCamera(tree.GetRange())
	}

	d := frame.NewDriver(m, camera, frame.Config{MemoryBudget: opts.MemoryBudget})
	stats, settled := d.RunUntilSettled(ctx, opts.Frames)

	managerStats := m.Stats()
	res.Frames = d.Frames()
	res.Drawn = stats.Drawn
	res.Tiles = tree.GetNodeCount()
	res.MaxDepth = tree.GetMaxDepth()
	res.ResidentBytes = stats.ResidentBytes
	res.Committed = managerStats.Committed
	res.Failed = managerStats.Failed
	res.LatencyMilliSec = float64(time.Since(start).Microseconds()) / 1000

	if !settled {
		err := errors.New("smoke test scene did not settle").
			WithType(ErrTypeNotSettled).
			WithTag("scene", tree.Name).
			WithTag("frames", res.Frames)
		if ctx.Err() != nil {
			return res, err.Wrap(ctx.Err())
		}
		return res, err
	}

	res.Status = StatusSuccess
	return res, nil
}

func defaultCamera(bounds geom.Box) frame.Camera {
	return frame.OrbitCamera{
		Target:   bounds.Center(),
		Distance: 2.5 * bounds.Radius(),
	}
}

// HandleSmokeTest returns a handler that runs a smoke test with the given
// options, overridden by the request body.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		runOpts := overrideOptions(opts, req)
		if opts.SendResult != nil {
			go func() {
				res := run(ctx, runOpts)
				if err := opts.SendResult(ctx, res); err != nil {
					logs.WithTag("scene", res.Scene).
						Warn(errors.New("sending smoke test result failed").Wrap(err))
				}
			}()

			w.WriteHeader(http.StatusAccepted)
			return
		}

		res := run(r.Context(), runOpts)
		body, err := json.Marshal(res)
		if err != nil {
			logs.Warn(errors.New("encoding smoke test result failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func overrideOptions(opts Options, req Request) Options {
	if req.Frames > 0 {
		opts.Frames = min(req.Frames, max(opts.Frames, defaultFrames))
	}
	if req.Workers > 0 {
		opts.Workers = min(req.Workers, opts.Workers)
	}
	if req.Timeout > 0 {
		opts.Timeout = min(req.Timeout, max(opts.Timeout, defaultTimeout))
	}
	return opts
}

func run(ctx context.Context, opts Options) Results {
	res, err := Run(ctx, opts)
	if err != nil {
		res.Error = err.Error()
		logs.Warn(err)
		return res
	}

	logs.WithTag("scene", res.Scene).
		WithTag("frames", res.Frames).
		WithTag("tiles", res.Tiles).
		WithTag("latency_ms", res.LatencyMilliSec).
		Info("smoke test succeeded")
	return res
}
