package tile

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
)

var testRootRange = geom.NewBox(geom.Vector3f{0, 0, 0}, geom.Vector3f{8, 8, 8})

// The payload size of every tile produced by testLoader: a textured triangle
// (3 vertices, 3 indices) and a 16 bytes texture.
const (
	testMeshSize = 3*12 + 3*4
	testTileSize = testMeshSize + 16
)

// testLoader produces a full octree of the given depth below a root named
// "root" whose children are named after their octant.
type testLoader struct {
	mutex            sync.Mutex
	depth            int
	placeholderDepth int
	fail             map[string]bool
	corrupt          map[string]bool
	loads            map[string]int
}

func newTestLoader(depth int) *testLoader {
	return &testLoader{
		depth:   depth,
		fail:    make(map[string]bool),
		corrupt: make(map[string]bool),
		loads:   make(map[string]int),
	}
}

func testDMax(depth, maxDepth int) float32 {
	if depth >= maxDepth {
		return 0
	}
	return 1 / float32(int(1)<<depth)
}

func (l *testLoader) Load(ctx context.Context, p string) (*LoadResult, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.loads[p]++
	if l.fail[p] {
		return nil, errors.New("no such tile")
	}

	segments := strings.Split(p, "/")
	depth := len(segments) - 1
	box := testRootRange
	for _, s := range segments[1:] {
		o, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		box = box.Octant(o)
	}

	textureIndex := 0
	if depth < l.placeholderDepth {
		textureIndex = models.PlaceholderTexture
	}
	if l.corrupt[p] {
		textureIndex = 3
	}

	res := &LoadResult{
		Batches: []*models.GeometryBatch{{
			Vertices:     []geom.Vector3f{box.Min, box.Center(), box.Max},
			Indices:      []uint32{0, 1, 2},
			TextureIndex: textureIndex,
		}},
		Textures: []*models.TextureResource{
			models.NewTextureResource(make([]byte, 16), false, 0),
		},
	}

	if depth < l.depth {
		for o := 0; o < 8; o++ {
			res.Children = append(res.Children, Descriptor{
				Name:   strconv.Itoa(o),
				Octant: o,
				Range:  box.Octant(o),
				DMax:   testDMax(depth+1, l.depth),
			})
		}
	}
	return res, nil
}

func (l *testLoader) loadCount(p string) int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.loads[p]
}

func newTestScene(depth int) Scene {
	return Scene{
		Name: "test",
		Roots: []Descriptor{{
			Name:  "root",
			Range: testRootRange,
			DMax:  testDMax(0, depth),
		}},
	}
}

// testStreamer queues requests in memory and loads them on process.
type testStreamer struct {
	queue      []*Node
	requesters []*Node
	removed    []*Node
	syncReads  int
}

func (s *testStreamer) QueueChildLoad(requester *Node, nodes []*Node, viewport any, transform geom.Matrix4) int {
	var queued int
	for _, n := range nodes {
		if n.IsLoaded() || n.IsQueued() || n.IsFailed() {
			continue
		}
		n.MarkQueued()
		s.queue = append(s.queue, n)
		queued++
	}

	if queued != 0 {
		s.requesters = append(s.requesters, requester)
	}
	return queued
}

func (s *testStreamer) SynchronousRead(ctx context.Context, n *Node, source Loader) bool {
	s.syncReads++

	res, err := n.ReadFrom(ctx, source)
	if err != nil {
		n.Fail(err)
		return false
	}
	n.Commit(res)
	return n.IsLoaded()
}

func (s *testStreamer) RemoveRequest(n *Node) {
	s.removed = append(s.removed, n)
}

func (s *testStreamer) LastPumpTick() uint64 {
	return 7
}

func (s *testStreamer) process(ctx context.Context) {
	for _, n := range s.queue {
		n.Load(ctx)
		n.MarkSettled()
	}
	for _, r := range s.requesters {
		r.ClearRequested()
	}
	s.queue = nil
	s.requesters = nil
}

type testDrawer struct {
	textures   int
	geometries int
	transforms []geom.Matrix4
}

func (d *testDrawer) DrawTexture(viewport any, texture *models.TextureResource) {
	d.textures++
}

func (d *testDrawer) DrawGeometry(viewport any, transform geom.Matrix4, batch *models.GeometryBatch) {
	d.geometries++
	d.transforms = append(d.transforms, transform)
}

type testFailures struct {
	names []string
	errs  []error
}

func (f *testFailures) handle(name string, err error) {
	f.names = append(f.names, name)
	f.errs = append(f.errs, err)
}

// viewFrom returns a view transform placing the viewer at eye.
func viewFrom(eye geom.Vector3f) geom.Matrix4 {
	return geom.Translation(geom.Mul(eye, -1))
}
