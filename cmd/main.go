package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/lodstream/featureflag"
	"github.com/aukilabs/lodstream/frame"
	lodhttp "github.com/aukilabs/lodstream/http"
	"github.com/aukilabs/lodstream/smoketest"
	"github.com/aukilabs/lodstream/streaming"
	"github.com/aukilabs/lodstream/tile"
	"github.com/aukilabs/lodstream/tilestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The lodstream version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "lodstream_info",
		Help:        "Lodstream information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	SceneDir      string          `cli:""        env:"LODSTREAM_SCENE_DIR"      help:"The directory of the scene to stream. A synthetic scene is streamed when empty."`
	GenerateDir   string          `cli:""        env:"LODSTREAM_GENERATE_DIR"   help:"Writes the streamed scene to this directory and exits."`
	AdminAddr     string          `cli:""        env:"LODSTREAM_ADMIN_ADDR"     help:"Admin listening address."`
	LogLevel      string          `cli:""        env:"LODSTREAM_LOG_LEVEL"      help:"Log level (debug|info|warning|error)."`
	LogIndent     bool            `cli:""        env:"LODSTREAM_LOG_INDENT"     help:"Indent logs."`
	Split         string          `cli:""        env:"LODSTREAM_SPLIT"          help:"Tile subdivision (octree|quadtree-xy|quadtree-xz|quadtree-yz)."`
	Resolution    string          `cli:""        env:"LODSTREAM_RESOLUTION"     help:"Target resolution, in pixels or as a fixed geometric error (e.g. 2 or fixed:0.5)."`
	MemoryBudget  int             `cli:""        env:"LODSTREAM_MEMORY_BUDGET"  help:"Resident bytes above which no new tile is requested. 0 disables the budget."`
	Workers       int             `cli:""        env:"LODSTREAM_WORKERS"        help:"The number of tile loading goroutines. 0 loads tiles on the frame goroutine."`
	Streaming     streamingConfig `cli:",hidden" env:"-"                        help:"Streaming configuration."`
	Frame         frameConfig     `cli:",hidden" env:"-"                        help:"Frame configuration."`
	Synthetic     syntheticConfig `cli:",hidden" env:"-"                        help:"Synthetic scene configuration."`
	Events        eventsConfig    `cli:",hidden" env:"-"                        help:"Event pusher configuration."`
	CompressWrite bool            `cli:",hidden" env:"LODSTREAM_COMPRESS_WRITE" help:"Compress the textures written to the generate directory."`
	FeatureFlags  []string        `cli:",hidden" env:"LODSTREAM_FEATURE_FLAGS"  help:"Comma separated feature flags"`
	Version       bool            `cli:""        env:"-"                        help:"Show version."`
	Help          bool            `cli:""        env:"-"                        help:"Show help."`
}

type streamingConfig struct {
	QueueSize      int `cli:",hidden" env:"LODSTREAM_QUEUE_SIZE"       help:"The maximum number of queued tile loads."`
	LoadsPerPump   int `cli:",hidden" env:"LODSTREAM_LOADS_PER_PUMP"   help:"The maximum number of tile loads started by a pump."`
	CommitsPerPump int `cli:",hidden" env:"LODSTREAM_COMMITS_PER_PUMP" help:"The maximum number of loaded tiles committed by a pump."`
}

type frameConfig struct {
	Duration      time.Duration `cli:",hidden" env:"LODSTREAM_FRAME_DURATION"  help:"The duration of a frame."`
	FlushInterval int           `cli:",hidden" env:"LODSTREAM_FLUSH_INTERVAL"  help:"The number of frames between two flushes of stale tiles."`
	StaleTicks    int           `cli:",hidden" env:"LODSTREAM_STALE_TICKS"     help:"The number of frames after which an unvisited tile is stale."`
	CameraPeriod  int           `cli:",hidden" env:"LODSTREAM_CAMERA_PERIOD"   help:"The number of frames of a camera revolution around the scene. 0 keeps the camera still."`
	CameraHeight  int           `cli:",hidden" env:"LODSTREAM_CAMERA_HEIGHT"   help:"The camera height above the scene center."`
	CameraRadii   int           `cli:",hidden" env:"LODSTREAM_CAMERA_DISTANCE" help:"The camera distance to the scene center, in scene radii."`
}

type syntheticConfig struct {
	Depth            int           `cli:",hidden" env:"LODSTREAM_SYNTHETIC_DEPTH"             help:"The depth of the synthetic scene leaves."`
	DisplayableDepth int           `cli:",hidden" env:"LODSTREAM_SYNTHETIC_DISPLAYABLE_DEPTH" help:"The depth above which synthetic tiles only hold placeholders."`
	TextureSize      int           `cli:",hidden" env:"LODSTREAM_SYNTHETIC_TEXTURE_SIZE"      help:"The texture bytes of a synthetic tile."`
	Compress         bool          `cli:",hidden" env:"LODSTREAM_SYNTHETIC_COMPRESS"          help:"Compress synthetic textures."`
	Delay            time.Duration `cli:",hidden" env:"LODSTREAM_SYNTHETIC_DELAY"             help:"The latency added to each synthetic tile load."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"LODSTREAM_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed. Events are disabled when empty."`
	FlushInterval time.Duration `cli:",hidden" env:"LODSTREAM_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"LODSTREAM_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"LODSTREAM_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

type source interface {
	tile.SceneReader
	tile.Loader
}

type adminStats struct {
	Ready     bool            `json:"ready"`
	Streaming streaming.Stats `json:"streaming"`
	Frame     frame.Stats     `json:"frame"`
	Trees     []treeStats     `json:"trees"`
}

type treeStats struct {
	Name          string `json:"name"`
	UUID          string `json:"uuid"`
	ResidentBytes int64  `json:"resident_bytes"`
}

func main() {
	conf := config{
		AdminAddr:  ":18190",
		LogLevel:   logs.InfoLevel.String(),
		Split:      tile.SplitOctree.String(),
		Resolution: tile.DefaultResolution.String(),
		Streaming: streamingConfig{
			QueueSize:      streaming.DefaultQueueSize,
			LoadsPerPump:   streaming.DefaultLoadsPerPump,
			CommitsPerPump: streaming.DefaultCommitsPerPump,
		},
		Frame: frameConfig{
			Duration:      frame.DefaultFrameDuration,
			FlushInterval: frame.DefaultFlushInterval,
			StaleTicks:    frame.DefaultStaleTicks,
			CameraPeriod:  600,
			CameraRadii:   3,
		},
		Synthetic: syntheticConfig{
			Depth:       4,
			TextureSize: 256,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Streams a level of detail tile scene.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	resolution, split, err := validateConfig(conf)
	if err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     metrics.HTTPTransport(http.DefaultTransport),
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "lodstream",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	flags := featureflag.New(conf.FeatureFlags)
	src := newSource(conf, split)

	if conf.GenerateDir != "" {
		stats, err := tilestore.WriteDir(ctx, conf.GenerateDir, src, src, tilestore.WriteOptions{
			CompressTextures: conf.CompressWrite,
			Concurrency:      conf.Workers,
			Indent:           conf.LogIndent,
		})
		if err != nil {
			logs.Fatal(errors.New("generating scene failed").
				WithTag("dir", conf.GenerateDir).
				Wrap(err))
		}

		logs.WithTag("dir", conf.GenerateDir).
			WithTag("tiles", stats.Tiles).
			WithTag("textures", stats.Textures).
			WithTag("bytes", stats.Bytes).
			Info("scene generated")
		return
	}

	manager := streaming.New(streaming.Config{
		Workers:        conf.Workers,
		QueueSize:      conf.Streaming.QueueSize,
		LoadsPerPump:   conf.Streaming.LoadsPerPump,
		CommitsPerPump: conf.Streaming.CommitsPerPump,
	})
	if err := manager.Initialize(ctx); err != nil {
		logs.Fatal(err)
	}
	defer manager.Shutdown()

	tree, err := tile.LoadTree(ctx, src, src, tile.WithSplitPolicy(split))
	if err != nil {
		logs.Fatal(errors.New("loading scene failed").Wrap(err))
	}
	defer tree.Close()
	manager.AddRoot(tree)

	frameConf := frame.Config{
		FrameDuration:   conf.Frame.Duration,
		FlushInterval:   uint64(conf.Frame.FlushInterval),
		StaleTicks:      uint64(conf.Frame.StaleTicks),
		Resolution:      resolution,
		MemoryBudget:    int64(conf.MemoryBudget),
		LoadSynchronous: flags.IsSet(featureflag.FlagLoadSynchronous),
	}

	bounds := tree.GetRange()
	driver := frame.NewDriver(manager, frame.OrbitCamera{
		Target:   bounds.Center(),
		Distance: float32(conf.Frame.CameraRadii) * bounds.Radius(),
		Height:   float32(conf.Frame.CameraHeight),
		Period:   uint64(conf.Frame.CameraPeriod),
	}, frameConf)

	var ready atomic.Bool
	readinessCheck := ready.Load

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		flags.IfNotSet(featureflag.FlagDisableBootstrap, func() {
			if !tree.Bootstrap(ctx) {
				logs.WithTag("scene", tree.Name).
					Warn(errors.New("scene has roots without displayable content"))
			}
		})
		ready.Store(true)

		if err := driver.Run(ctx); err != nil {
			logs.Warn(errors.New("running frames failed").Wrap(err))
		}
	}()

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", lodhttp.HandleHealthCheck)
	admin.HandleFunc("/ready", lodhttp.HandleReadyCheck(readinessCheck))
	admin.Handle("/version", lodhttp.HandleWithCORS(lodhttp.HandleVersion(version)))
	admin.Handle("/stats", lodhttp.HandleWithCORS(lodhttp.HandleJSON(func() any {
		stats := adminStats{
			Ready:     ready.Load(),
			Streaming: manager.Stats(),
			Frame:     driver.Last(),
		}
		for _, t := range manager.Trees() {
			stats.Trees = append(stats.Trees, treeStats{
				Name:          t.Name,
				UUID:          t.UUID,
				ResidentBytes: t.ResidentBytes(),
			})
		}
		return stats
	})))
	flags.IfNotSet(featureflag.FlagDisableSmokeTest, func() {
		admin.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
			Reader:       src,
			Loader:       src,
			Split:        split,
			Workers:      conf.Workers,
			MemoryBudget: int64(conf.MemoryBudget),
		}))
	})
	flags.IfNotSet(featureflag.FlagDisablePprof, func() {
		admin.HandleFunc("/debug/pprof/", pprof.Index)
		admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
		admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
		admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
		admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
		admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	})

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("scene", tree.Name).
		WithTag("scene_dir", conf.SceneDir).
		WithTag("split", split).
		WithTag("resolution", resolution).
		WithTag("workers", conf.Workers).
		WithTag("feature_flags", conf.FeatureFlags).
		Info("starting lodstream server")

	lodhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.AdminAddr, Handler: metrics.HTTPHandler(&admin,
			lodhttp.MetricsPathFormatter)},
	)

	wg.Wait()
}

func newSource(conf config, split tile.SplitPolicy) source {
	if conf.SceneDir != "" {
		return tilestore.DirStore{Root: conf.SceneDir}
	}

	return &tilestore.Synthetic{
		Depth:            conf.Synthetic.Depth,
		DisplayableDepth: conf.Synthetic.DisplayableDepth,
		Split:            split,
		TextureSize:      conf.Synthetic.TextureSize,
		CompressTextures: conf.Synthetic.Compress,
		Delay:            conf.Synthetic.Delay,
	}
}

func validateConfig(conf config) (tile.Resolution, tile.SplitPolicy, error) {
	resolution, err := tile.ParseResolution(conf.Resolution)
	if err != nil {
		return tile.Resolution{}, 0, err
	}

	split, err := tile.ParseSplitPolicy(conf.Split)
	if err != nil {
		return tile.Resolution{}, 0, err
	}

	if conf.Workers < 0 {
		return tile.Resolution{}, 0, errors.New("workers must not be negative").
			WithTag("workers", conf.Workers)
	}

	if conf.MemoryBudget < 0 {
		return tile.Resolution{}, 0, errors.New("memory budget must not be negative").
			WithTag("memory_budget", conf.MemoryBudget)
	}

	if conf.SceneDir != "" && conf.SceneDir == conf.GenerateDir {
		return tile.Resolution{}, 0, errors.New("generate directory must differ from the scene directory").
			WithTag("dir", conf.SceneDir)
	}

	if conf.Synthetic.Depth < 0 {
		return tile.Resolution{}, 0, errors.New("synthetic depth must not be negative").
			WithTag("depth", conf.Synthetic.Depth)
	}

	return resolution, split, nil
}
