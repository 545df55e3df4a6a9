package tilestore

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
	"github.com/aukilabs/lodstream/tile"
)

const (
	ErrTypeSyntheticFailure = "synthetic_failure"

	// The name of the root of synthetic scenes.
	SyntheticRoot = "root"

	defaultSyntheticTextureSize = 256
	syntheticErrorRatio         = 32
)

// Synthetic is a procedural dataset: an octree of boxes whose tiles are
// generated on demand. It is used to exercise streaming without a dataset on
// disk.
type Synthetic struct {
	Name string

	// The range of the root tile. Defaults to a 64 units cube.
	Range geom.Box

	// The depth of the leaves. Leaves have no geometric error.
	Depth int

	// Tiles above this depth only hold placeholder geometry.
	DisplayableDepth int

	// The octants children are generated in. Defaults to an octree.
	Split tile.SplitPolicy

	// The number of texture bytes generated for each tile.
	TextureSize int

	CompressTextures bool

	// The latency added to each load.
	Delay time.Duration

	// Reports whether the load of a path must fail.
	Fail func(path string) bool

	loads atomic.Int64
}

var (
	_ tile.SceneReader = (*Synthetic)(nil)
	_ tile.Loader      = (*Synthetic)(nil)
)

// Loads returns the number of Load calls.
func (s *Synthetic) Loads() int64 {
	return s.loads.Load()
}

func (s *Synthetic) ReadScene(ctx context.Context) (tile.Scene, error) {
	name := s.Name
	if name == "" {
		name = "synthetic"
	}

	return tile.Scene{
		Name: name,
		Roots: []tile.Descriptor{{
			Name:  SyntheticRoot,
			Range: s.rootRange(),
			DMax:  s.dmax(0),
		}},
	}, nil
}

func (s *Synthetic) Load(ctx context.Context, tilePath string) (*tile.LoadResult, error) {
	s.loads.Add(1)

	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Fail != nil && s.Fail(tilePath) {
		return nil, errors.New("synthetic tile failure").
			WithType(ErrTypeSyntheticFailure).
			WithTag("path", tilePath)
	}

	box, depth, err := s.locate(tilePath)
	if err != nil {
		return nil, err
	}

	texture, err := s.texture(depth)
	if err != nil {
		return nil, err
	}

	batch := boxBatch(box)
	if depth < s.DisplayableDepth {
		batch.TextureIndex = models.PlaceholderTexture
	}

	res := &tile.LoadResult{
		Batches:  []*models.GeometryBatch{batch},
		Textures: []*models.TextureResource{texture},
	}

	if depth < s.Depth {
		split := s.split()
		for _, o := range split.Octants() {
			res.Children = append(res.Children, tile.Descriptor{
				Name:   strconv.Itoa(o),
				Octant: o,
				Range:  split.ChildRange(box, o),
				DMax:   s.dmax(depth + 1),
			})
		}
	}
	return res, nil
}

// locate returns the range and depth of the tile at the given path.
func (s *Synthetic) locate(tilePath string) (geom.Box, int, error) {
	segments := strings.Split(tilePath, "/")
	if segments[0] != SyntheticRoot {
		return geom.Box{}, 0, errors.New("unknown synthetic root").
			WithType(ErrTypeNotFound).
			WithTag("path", tilePath)
	}

	box := s.rootRange()
	split := s.split()
	for _, seg := range segments[1:] {
		o, err := strconv.Atoi(seg)
		if err != nil || !split.Allows(o) {
			return geom.Box{}, 0, errors.New("unknown synthetic tile").
				WithType(ErrTypeNotFound).
				WithTag("path", tilePath)
		}
		box = split.ChildRange(box, o)
	}

	depth := len(segments) - 1
	if depth > s.Depth {
		return geom.Box{}, 0, errors.New("synthetic tile is too deep").
			WithType(ErrTypeNotFound).
			WithTag("path", tilePath).
			WithTag("depth", depth)
	}
	return box, depth, nil
}

func (s *Synthetic) rootRange() geom.Box {
	if s.Range.Size() == (geom.Vector3f{}) {
		return geom.NewBox(geom.Vector3f{}, geom.Vector3f{X: 64, Y: 64, Z: 64})
	}
	return s.Range
}

func (s *Synthetic) split() tile.SplitPolicy {
	if s.Split == 0 {
		return tile.SplitOctree
	}
	return s.Split
}

// dmax returns the geometric error of the tiles at the given depth, halved at
// each level.
func (s *Synthetic) dmax(depth int) float32 {
	if depth >= s.Depth {
		return 0
	}

	size := s.rootRange().Size()
	edge := max(size.X, size.Y, size.Z)
	return edge / syntheticErrorRatio / float32(int(1)<<depth)
}

func (s *Synthetic) texture(depth int) (*models.TextureResource, error) {
	size := s.TextureSize
	if size <= 0 {
		size = defaultSyntheticTextureSize
	}

	pixels := make([]byte, size)
	for i := range pixels {
		pixels[i] = byte(i/16 + depth)
	}

	if s.CompressTextures {
		return models.NewCompressedTexture(pixels)
	}
	return models.NewTextureResource(pixels, false, 0), nil
}

// boxBatch returns the 12 triangles of a box with face normals and UVs.
func boxBatch(b geom.Box) *models.GeometryBatch {
	faces := []struct {
		normal  geom.Vector3f
		corners [4]geom.Vector3f
	}{
		{geom.Vector3f{X: -1}, [4]geom.Vector3f{{b.Min.X, b.Min.Y, b.Min.Z}, {b.Min.X, b.Min.Y, b.Max.Z}, {b.Min.X, b.Max.Y, b.Max.Z}, {b.Min.X, b.Max.Y, b.Min.Z}}},
		{geom.Vector3f{X: 1}, [4]geom.Vector3f{{b.Max.X, b.Min.Y, b.Max.Z}, {b.Max.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Max.Z}}},
		{geom.Vector3f{Y: -1}, [4]geom.Vector3f{{b.Min.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Min.Y, b.Min.Z}, {b.Max.X, b.Min.Y, b.Max.Z}, {b.Min.X, b.Min.Y, b.Max.Z}}},
		{geom.Vector3f{Y: 1}, [4]geom.Vector3f{{b.Min.X, b.Max.Y, b.Max.Z}, {b.Max.X, b.Max.Y, b.Max.Z}, {b.Max.X, b.Max.Y, b.Min.Z}, {b.Min.X, b.Max.Y, b.Min.Z}}},
		{geom.Vector3f{Z: -1}, [4]geom.Vector3f{{b.Max.X, b.Min.Y, b.Min.Z}, {b.Min.X, b.Min.Y, b.Min.Z}, {b.Min.X, b.Max.Y, b.Min.Z}, {b.Max.X, b.Max.Y, b.Min.Z}}},
		{geom.Vector3f{Z: 1}, [4]geom.Vector3f{{b.Min.X, b.Min.Y, b.Max.Z}, {b.Max.X, b.Min.Y, b.Max.Z}, {b.Max.X, b.Max.Y, b.Max.Z}, {b.Min.X, b.Max.Y, b.Max.Z}}},
	}

	uvs := [4]geom.Vector2f{{U: 0, V: 0}, {U: 1, V: 0}, {U: 1, V: 1}, {U: 0, V: 1}}

	batch := &models.GeometryBatch{
		Vertices: make([]geom.Vector3f, 0, 24),
		Normals:  make([]geom.Vector3f, 0, 24),
		UVs:      make([]geom.Vector2f, 0, 24),
		Indices:  make([]uint32, 0, 36),
	}

	for _, f := range faces {
		base := uint32(len(batch.Vertices))
		for i, c := range f.corners {
			batch.Vertices = append(batch.Vertices, c)
			batch.Normals = append(batch.Normals, f.normal)
			batch.UVs = append(batch.UVs, uvs[i])
		}
		batch.Indices = append(batch.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return batch
}
