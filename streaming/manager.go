package streaming

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
	"github.com/aukilabs/lodstream/tile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	ErrTypeAlreadyInitialized = "streaming_already_initialized"

	tracerName = "github.com/aukilabs/lodstream/streaming"
)

const (
	DefaultQueueSize      = 1024
	DefaultLoadsPerPump   = 16
	DefaultCommitsPerPump = 64
)

// Status is the outcome of a request pump.
type Status int

const (
	// No request was pending.
	StatusNone Status = iota

	// Requests were processed and others are still pending.
	StatusProcessed

	// Every pending request has been processed.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusProcessed:
		return "processed"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Config is the configuration of a streaming manager.
type Config struct {
	// The number of goroutines reading tiles. With 0 workers, tiles are read
	// on the goroutine calling ProcessRequests.
	Workers int

	// The maximum number of pending requests. Requests above are dropped and
	// made again by later traversals.
	QueueSize int

	// The maximum number of requests handed to workers by a pump.
	LoadsPerPump int

	// The maximum number of completed loads committed by a pump.
	CommitsPerPump int
}

// Stats is a snapshot of a manager state.
type Stats struct {
	Trees        int    `json:"trees"`
	Queued       int    `json:"queued"`
	InFlight     int    `json:"in_flight"`
	Committed    uint64 `json:"committed"`
	Failed       uint64 `json:"failed"`
	Discarded    uint64 `json:"discarded"`
	Dropped      uint64 `json:"dropped"`
	Cancelled    uint64 `json:"cancelled"`
	Tick         uint64 `json:"tick"`
	LastPumpTick uint64 `json:"last_pump_tick"`
}

type request struct {
	node      *tile.Node
	batch     *batch
	distance  float64
	sequence  uint64
	cancelled bool
}

// batch groups the requests made by a node in a single call. The requester
// can request again once every request of the batch settled.
type batch struct {
	requester *tile.Node
	remaining int
}

type completion struct {
	req *request
	res *tile.LoadResult
	err error
}

// Manager coordinates the background loading of tiles for a set of trees.
//
// Traversals queue requests with QueueChildLoad and the owner of the trees
// calls ProcessRequests once per frame. Workers only read tiles: every
// payload is committed by ProcessRequests, on the goroutine that draws the
// trees.
type Manager struct {
	config Config

	treeIDs models.SequentialIDGenerator

	mutex       sync.Mutex
	initialized bool
	trees       map[uint32]*tile.Tree
	requests    map[*tile.Node]*request
	queue       []*request
	inFlight    map[*request]struct{}
	sequence    uint64
	stats       Stats
	gauges      queueGauges
	jobs        chan *request
	results     chan completion
	workers     *errgroup.Group
	cancel      context.CancelFunc

	tick         atomic.Uint64
	lastPumpTick atomic.Uint64
}

var _ tile.Streamer = (*Manager)(nil)

// New creates a manager. Zero config fields are set to their default value.
func New(cfg Config) *Manager {
	if cfg.Workers < 0 {
		cfg.Workers = 0
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.LoadsPerPump <= 0 {
		cfg.LoadsPerPump = DefaultLoadsPerPump
	}
	if cfg.CommitsPerPump <= 0 {
		cfg.CommitsPerPump = DefaultCommitsPerPump
	}

	return &Manager{
		config:   cfg,
		trees:    make(map[uint32]*tile.Tree),
		requests: make(map[*tile.Node]*request),
		inFlight: make(map[*request]struct{}),
	}
}

func (m *Manager) Config() Config {
	return m.config
}

// Initialize starts the workers. Until then, or when the manager has no
// workers, tiles are read by ProcessRequests.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.initialized {
		return errors.New("streaming manager is already initialized").
			WithType(ErrTypeAlreadyInitialized)
	}
	m.initialized = true

	if m.config.Workers > 0 {
		ctx, cancel := context.WithCancel(ctx)
		g, ctx := errgroup.WithContext(ctx)

		jobs := make(chan *request, m.config.Workers)
		results := make(chan completion, m.config.QueueSize)

		for i := 0; i < m.config.Workers; i++ {
			g.Go(func() error {
				m.work(ctx, jobs, results)
				return nil
			})
		}

		m.jobs = jobs
		m.results = results
		m.workers = g
		m.cancel = cancel
	}

	logs.WithTag("workers", m.config.Workers).
		WithTag("queue_size", m.config.QueueSize).
		WithTag("loads_per_pump", m.config.LoadsPerPump).
		WithTag("commits_per_pump", m.config.CommitsPerPump).
		Info("streaming manager started")
	return nil
}

// Shutdown stops the workers and cancels every pending request. Completed
// loads that were not committed yet are discarded.
func (m *Manager) Shutdown() {
	m.mutex.Lock()
	cancel := m.cancel
	workers := m.workers
	results := m.results
	m.initialized = false
	m.cancel = nil
	m.workers = nil
	m.jobs = nil
	m.results = nil
	m.mutex.Unlock()

	if cancel != nil {
		cancel()
		workers.Wait()

	drain:
		for {
			select {
			case c := <-results:
				if c.res != nil {
					c.res.Release()
				}
			default:
				break drain
			}
		}
	}

	m.mutex.Lock()
	pending := make(map[*request]struct{}, len(m.requests)+len(m.inFlight))
	for _, req := range m.requests {
		pending[req] = struct{}{}
	}
	for req := range m.inFlight {
		pending[req] = struct{}{}
	}
	m.requests = make(map[*tile.Node]*request)
	m.inFlight = make(map[*request]struct{})
	m.queue = nil
	m.stats.Cancelled += uint64(len(pending))
	m.instrumentQueue()
	m.mutex.Unlock()

	for req := range pending {
		instrumentResult(resultCanceled)
		req.node.MarkSettled()
		m.finishBatch(req.batch)
	}

	logs.WithTag("cancelled", len(pending)).
		Info("streaming manager stopped")
}

func (m *Manager) work(ctx context.Context, jobs <-chan *request, results chan<- completion) {
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-jobs:
			res, err := m.read(ctx, req.node, nil)

			select {
			case results <- completion{req: req, res: res, err: err}:
			case <-ctx.Done():
				if res != nil {
					res.Release()
				}
				return
			}
		}
	}
}

func (m *Manager) read(ctx context.Context, n *tile.Node, source tile.Loader) (*tile.LoadResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "streaming.Manager.read",
		trace.WithAttributes(
			attribute.String("tile", n.Path()),
			attribute.Int("depth", n.Depth()),
		),
	)
	defer span.End()

	start := time.Now()

	var res *tile.LoadResult
	var err error
	if source == nil {
		res, err = n.Read(ctx)
	} else {
		res, err = n.ReadFrom(ctx, source)
	}

	instrumentLoad(time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading tile failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int64("bytes", res.MemorySize()))
	return res, nil
}

// AddRoot registers a tree and makes the manager its streamer. Returns the
// tree id, the lowest id not in use.
func (m *Manager) AddRoot(t *tile.Tree) uint32 {
	m.mutex.Lock()
	for id, tree := range m.trees {
		if tree == t {
			m.mutex.Unlock()
			return id
		}
	}

	id := m.treeIDs.New()
	m.trees[id] = t
	m.mutex.Unlock()

	t.SetStreamer(m)
	instrumentTrees(1)

	logs.WithTag("tree", t.Name).
		WithTag("tree_uuid", t.UUID).
		WithTag("tree_id", id).
		Info("tree added")
	return id
}

// RemoveRoot unregisters a tree and cancels every request targeting its
// nodes. Returns false if the tree was not registered.
func (m *Manager) RemoveRoot(t *tile.Tree) bool {
	m.mutex.Lock()
	id, ok := m.treeID(t)
	if !ok {
		m.mutex.Unlock()
		return false
	}
	delete(m.trees, id)

	var nodes []*tile.Node
	for n := range m.requests {
		if n.Tree() == t {
			nodes = append(nodes, n)
		}
	}
	m.mutex.Unlock()

	m.treeIDs.Reuse(id)
	for _, n := range nodes {
		m.RemoveRequest(n)
	}

	t.SetStreamer(nil)
	instrumentTrees(-1)

	logs.WithTag("tree", t.Name).
		WithTag("tree_uuid", t.UUID).
		WithTag("tree_id", id).
		WithTag("cancelled", len(nodes)).
		Info("tree removed")
	return true
}

func (m *Manager) treeID(t *tile.Tree) (uint32, bool) {
	for id, tree := range m.trees {
		if tree == t {
			return id, true
		}
	}
	return 0, false
}

func (m *Manager) Tree(id uint32) (*tile.Tree, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t, ok := m.trees[id]
	return t, ok
}

// Trees returns the registered trees ordered by id.
func (m *Manager) Trees() []*tile.Tree {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids := make([]uint32, 0, len(m.trees))
	for id := range m.trees {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	trees := make([]*tile.Tree, len(ids))
	for i, id := range ids {
		trees[i] = m.trees[id]
	}
	return trees
}

// QueueChildLoad enqueues loads for the nodes that are not loaded, failed or
// already queued. Requests are ordered by distance to the viewer, nearest
// first. The requester is allowed to request again once every enqueued load
// settled.
func (m *Manager) QueueChildLoad(requester *tile.Node, nodes []*tile.Node, viewport any, transform geom.Matrix4) int {
	if transform.IsZero() {
		transform = geom.Identity()
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := &batch{requester: requester}
	for _, n := range nodes {
		if n == nil || n.IsLoaded() || n.IsFailed() || n.IsQueued() {
			continue
		}

		if _, ok := m.requests[n]; ok {
			continue
		}

		if len(m.requests) >= m.config.QueueSize {
			m.stats.Dropped++
			instrumentResult(resultDropped)
			logs.WithTag("tile", n.Path()).
				WithTag("queue_size", m.config.QueueSize).
				Debug("request queue is full")
			continue
		}

		m.sequence++
		req := &request{
			node:     n,
			batch:    b,
			distance: transform.MulPoint(n.Range.Center()).Length(),
			sequence: m.sequence,
		}

		n.MarkQueued()
		m.requests[n] = req
		m.queue = append(m.queue, req)
		b.remaining++
	}

	m.instrumentQueue()
	return b.remaining
}

// ProcessRequests hands queued requests to the workers and commits the loads
// they completed. Without workers, queued requests are read and committed
// right away. It must be called by the goroutine that draws the trees.
func (m *Manager) ProcessRequests(ctx context.Context) Status {
	m.lastPumpTick.Store(m.tick.Load())

	m.mutex.Lock()
	if m.idle() {
		m.mutex.Unlock()
		instrumentPump(StatusNone)
		return StatusNone
	}

	slices.SortStableFunc(m.queue, func(a, b *request) int {
		if c := cmp.Compare(a.distance, b.distance); c != 0 {
			return c
		}
		return cmp.Compare(a.sequence, b.sequence)
	})

	var inline []*request
	results := m.results
	if m.jobs != nil {
		m.dispatch()
	} else {
		inline = m.pop(m.config.LoadsPerPump)
	}
	m.mutex.Unlock()

	for _, req := range inline {
		res, err := m.read(ctx, req.node, nil)
		m.complete(completion{req: req, res: res, err: err})
	}

	if results != nil {
	drain:
		for i := 0; i < m.config.CommitsPerPump; i++ {
			select {
			case c := <-results:
				m.complete(c)
			default:
				break drain
			}
		}
	}

	m.mutex.Lock()
	status := StatusProcessed
	if m.idle() {
		status = StatusFinished
	}
	m.instrumentQueue()
	m.mutex.Unlock()

	instrumentPump(status)
	return status
}

func (m *Manager) idle() bool {
	return len(m.requests) == 0 && len(m.inFlight) == 0
}

func (m *Manager) dispatch() {
	for i := 0; i < m.config.LoadsPerPump && len(m.queue) != 0; i++ {
		req := m.queue[0]

		select {
		case m.jobs <- req:
			m.queue = m.queue[1:]
			m.inFlight[req] = struct{}{}
		default:
			return
		}
	}
}

func (m *Manager) pop(count int) []*request {
	count = min(count, len(m.queue))
	reqs := slices.Clone(m.queue[:count])
	m.queue = m.queue[count:]

	for _, req := range reqs {
		m.inFlight[req] = struct{}{}
	}
	return reqs
}

func (m *Manager) complete(c completion) {
	req := c.req

	m.mutex.Lock()
	delete(m.inFlight, req)
	if m.requests[req.node] == req {
		delete(m.requests, req.node)
	}
	cancelled := req.cancelled
	m.mutex.Unlock()

	switch {
	case cancelled || req.node.IsLoaded():
		if c.res != nil {
			c.res.Release()
		}
		m.record(resultDiscard)
		logs.WithTag("tile", req.node.Path()).
			WithTag("cancelled", cancelled).
			Debug("discarding tile load result")

	case c.err != nil:
		req.node.Fail(c.err)
		m.record(resultFailed)

	default:
		req.node.Commit(c.res)
		req.node.Touch(m.Now())
		m.record(resultCommit)
	}

	req.node.MarkSettled()
	m.finishBatch(req.batch)
}

func (m *Manager) record(result string) {
	m.mutex.Lock()
	switch result {
	case resultCommit:
		m.stats.Committed++
	case resultFailed:
		m.stats.Failed++
	case resultDiscard:
		m.stats.Discarded++
	case resultCanceled:
		m.stats.Cancelled++
	}
	m.mutex.Unlock()

	instrumentResult(result)
}

func (m *Manager) finishBatch(b *batch) {
	m.mutex.Lock()
	b.remaining--
	done := b.remaining == 0
	m.mutex.Unlock()

	if done && b.requester != nil {
		b.requester.ClearRequested()
	}
}

// SynchronousRead reads and commits a node right away, on the calling
// goroutine. A request already pending for the node is discarded when it
// completes.
func (m *Manager) SynchronousRead(ctx context.Context, n *tile.Node, source tile.Loader) bool {
	if n.IsLoaded() {
		return true
	}
	if n.IsFailed() {
		return false
	}

	res, err := m.read(ctx, n, source)
	if err != nil {
		n.Fail(err)
		m.record(resultFailed)
		return false
	}

	n.Commit(res)
	n.Touch(m.Now())
	m.record(resultCommit)
	return n.IsLoaded()
}

// RemoveRequest cancels the request targeting the node. A request that is
// being read completes and its result is discarded.
func (m *Manager) RemoveRequest(n *tile.Node) {
	m.mutex.Lock()
	req, ok := m.requests[n]
	if !ok {
		m.mutex.Unlock()
		return
	}
	delete(m.requests, n)

	if _, ok := m.inFlight[req]; ok {
		req.cancelled = true
		m.mutex.Unlock()
		return
	}

	m.queue = slices.DeleteFunc(m.queue, func(r *request) bool {
		return r == req
	})
	m.instrumentQueue()
	m.mutex.Unlock()

	m.record(resultCanceled)
	n.MarkSettled()
	m.finishBatch(req.batch)
}

// Flush evicts the stale payload of every registered tree, using the
// manager tick as the current time. Returns the number of evicted nodes.
func (m *Manager) Flush(staleTime uint64) int {
	now := m.Now()

	var evicted int
	for _, t := range m.Trees() {
		evicted += t.FlushStale(staleTime, now)
	}

	if evicted != 0 {
		logs.WithTag("evicted", evicted).
			WithTag("tick", now).
			Debug("stale tiles flushed")
	}
	return evicted
}

// Tick advances the manager clock by one frame and returns the new tick.
func (m *Manager) Tick() uint64 {
	return m.tick.Add(1)
}

func (m *Manager) Now() uint64 {
	return m.tick.Load()
}

func (m *Manager) LastPumpTick() uint64 {
	return m.lastPumpTick.Load()
}

// Pending returns the number of requests that are queued or being read.
func (m *Manager) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.requests)
}

func (m *Manager) Stats() Stats {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.stats
	s.Trees = len(m.trees)
	s.Queued = len(m.queue)
	s.InFlight = len(m.inFlight)
	s.Tick = m.Now()
	s.LastPumpTick = m.LastPumpTick()
	return s
}

// queueGauges are the queue sizes last added to the process gauges by a
// manager.
type queueGauges struct {
	queued   int
	inFlight int
}

// instrumentQueue adds the queue size changes since the last report to the
// process gauges, which are shared by every manager. Must be called with the
// mutex held.
func (m *Manager) instrumentQueue() {
	queued, inFlight := len(m.queue), len(m.inFlight)
	instrumentQueue(queued-m.gauges.queued, inFlight-m.gauges.inFlight)
	m.gauges = queueGauges{queued: queued, inFlight: inFlight}
}
