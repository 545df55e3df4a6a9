package tilestore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/lodstream/models"
	"github.com/aukilabs/lodstream/tile"
	"github.com/segmentio/encoding/json"
	"golang.org/x/sync/errgroup"
)

const (
	ErrTypeWrite = "tile_write"
)

// WriteOptions configures WriteDir.
type WriteOptions struct {
	// Stores textures as zstd frames.
	CompressTextures bool

	// The number of tiles read and written concurrently. Defaults to 1.
	Concurrency int

	// Formats json files for humans.
	Indent bool
}

// WriteStats reports what WriteDir wrote.
type WriteStats struct {
	Tiles    int   `json:"tiles"`
	Textures int   `json:"textures"`
	Bytes    int64 `json:"bytes"`
}

type writer struct {
	dir    string
	source tile.Loader
	opts   WriteOptions
}

// WriteDir exports every tile of a dataset into dir with the layout read by
// DirStore. Tiles are written level by level.
func WriteDir(ctx context.Context, dir string, reader tile.SceneReader, source tile.Loader, opts WriteOptions) (WriteStats, error) {
	scene, err := reader.ReadScene(ctx)
	if err != nil {
		return WriteStats{}, errors.New("reading scene failed").Wrap(err)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	w := &writer{
		dir:    dir,
		source: source,
		opts:   opts,
	}

	f := sceneFile{
		Name:         scene.Name,
		Georeference: georeferenceValues(scene.Georeference),
	}
	paths := make([]string, 0, len(scene.Roots))
	for _, r := range scene.Roots {
		f.Roots = append(f.Roots, toDescriptorFile(r))
		paths = append(paths, r.Name)
	}

	var stats WriteStats
	bytes, err := w.writeJSON(SceneFile, f)
	if err != nil {
		return stats, err
	}
	stats.Bytes += bytes

	for len(paths) != 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)

		var mutex sync.Mutex
		var next []string

		for _, p := range paths {
			g.Go(func() error {
				children, s, err := w.writeTile(gctx, p)
				if err != nil {
					return err
				}

				mutex.Lock()
				defer mutex.Unlock()

				for _, c := range children {
					next = append(next, path.Join(p, c.Name))
				}
				stats.Tiles += s.Tiles
				stats.Textures += s.Textures
				stats.Bytes += s.Bytes
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return stats, err
		}
		paths = next
	}

	logs.WithTag("dir", dir).
		WithTag("scene", scene.Name).
		WithTag("tiles", stats.Tiles).
		WithTag("textures", stats.Textures).
		WithTag("bytes", stats.Bytes).
		Info("dataset written")
	return stats, nil
}

func (w *writer) writeTile(ctx context.Context, tilePath string) ([]tile.Descriptor, WriteStats, error) {
	var stats WriteStats

	res, err := w.source.Load(ctx, tilePath)
	if err != nil {
		return nil, stats, errors.New("loading tile failed").
			WithTag("path", tilePath).
			Wrap(err)
	}
	defer res.Release()

	f := tileFile{
		Batches:  make([]batchFile, len(res.Batches)),
		Children: make([]descriptorFile, len(res.Children)),
	}

	for i, b := range res.Batches {
		f.Batches[i] = toBatchFile(b)
	}

	for i, c := range res.Children {
		f.Children[i] = toDescriptorFile(c)
	}

	for i, t := range res.Textures {
		texture, bytes, err := w.writeTexture(tilePath, i, t)
		if err != nil {
			return nil, stats, err
		}
		f.Textures = append(f.Textures, texture)
		stats.Textures++
		stats.Bytes += bytes
	}

	bytes, err := w.writeJSON(path.Join(tilePath, TileFile), f)
	if err != nil {
		return nil, stats, err
	}
	stats.Tiles++
	stats.Bytes += bytes
	return res.Children, stats, nil
}

func (w *writer) writeTexture(tilePath string, index int, t *models.TextureResource) (textureFile, int64, error) {
	pixels, err := t.Pixels()
	if err != nil {
		return textureFile{}, 0, err
	}

	name := fmt.Sprintf(textureFileFmt, index)
	data := pixels
	if w.opts.CompressTextures {
		if data, err = models.CompressPixels(pixels); err != nil {
			return textureFile{}, 0, err
		}
		name += compressedExt
	}

	if err := w.writeFile(path.Join(tilePath, name), data); err != nil {
		return textureFile{}, 0, err
	}

	f := textureFile{
		File: name,
		Size: int64(len(pixels)),
	}
	return f, int64(len(data)), nil
}

func (w *writer) writeJSON(name string, v any) (int64, error) {
	var data []byte
	var err error
	if w.opts.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, errors.New("encoding json file failed").
			WithType(ErrTypeWrite).
			WithTag("file", name).
			Wrap(err)
	}

	if err := w.writeFile(name, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (w *writer) writeFile(name string, data []byte) error {
	filename := filepath.Join(w.dir, filepath.FromSlash(name))

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.New("creating directory failed").
			WithType(ErrTypeWrite).
			WithTag("file", filename).
			Wrap(err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.New("writing file failed").
			WithType(ErrTypeWrite).
			WithTag("file", filename).
			Wrap(err)
	}
	return nil
}
