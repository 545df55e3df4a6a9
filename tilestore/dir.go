package tilestore

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
	"github.com/aukilabs/lodstream/tile"
	"github.com/segmentio/encoding/json"
)

const (
	ErrTypeNotFound    = "tile_not_found"
	ErrTypeDecode      = "tile_decode"
	ErrTypeInvalidPath = "invalid_tile_path"
)

// DirStore reads a dataset laid out in a directory: the scene in SceneFile at
// the root and each tile in TileFile under the directory named after the tile
// path.
type DirStore struct {
	Root string
}

var (
	_ tile.SceneReader = DirStore{}
	_ tile.Loader      = DirStore{}
)

func (s DirStore) ReadScene(ctx context.Context) (tile.Scene, error) {
	var f sceneFile
	if err := s.readJSON(ctx, SceneFile, &f); err != nil {
		return tile.Scene{}, err
	}

	scene := tile.Scene{
		Name:  f.Name,
		Roots: make([]tile.Descriptor, len(f.Roots)),
	}

	if len(f.Georeference) != 0 {
		if len(f.Georeference) != len(scene.Georeference) {
			return tile.Scene{}, errors.New("georeference is not a 4x4 matrix").
				WithType(ErrTypeDecode).
				WithTag("values", len(f.Georeference))
		}
		copy(scene.Georeference[:], f.Georeference)
	}

	for i, r := range f.Roots {
		scene.Roots[i] = r.descriptor()
	}
	return scene, nil
}

func (s DirStore) Load(ctx context.Context, tilePath string) (*tile.LoadResult, error) {
	dir, err := cleanTilePath(tilePath)
	if err != nil {
		return nil, err
	}

	var f tileFile
	if err := s.readJSON(ctx, path.Join(dir, TileFile), &f); err != nil {
		return nil, err
	}

	res := &tile.LoadResult{
		Batches:  make([]*models.GeometryBatch, len(f.Batches)),
		Children: make([]tile.Descriptor, len(f.Children)),
	}

	for i, b := range f.Batches {
		res.Batches[i] = b.batch()
	}

	for i, c := range f.Children {
		res.Children[i] = c.descriptor()
	}

	for _, t := range f.Textures {
		texture, err := s.readTexture(ctx, dir, t)
		if err != nil {
			res.Release()
			return nil, err
		}
		res.Textures = append(res.Textures, texture)
	}
	return res, nil
}

func (s DirStore) readTexture(ctx context.Context, dir string, f textureFile) (*models.TextureResource, error) {
	name, err := cleanTilePath(f.File)
	if err != nil {
		return nil, err
	}

	data, err := s.readFile(ctx, path.Join(dir, name))
	if err != nil {
		return nil, err
	}

	compressed := strings.HasSuffix(name, compressedExt)
	return models.NewTextureResource(data, compressed, f.Size), nil
}

func (s DirStore) readJSON(ctx context.Context, name string, v any) error {
	data, err := s.readFile(ctx, name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.New("decoding json file failed").
			WithType(ErrTypeDecode).
			WithTag("file", name).
			Wrap(err)
	}
	return nil
}

func (s DirStore) readFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filename := filepath.Join(s.Root, filepath.FromSlash(name))
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.New("file not found").
			WithType(ErrTypeNotFound).
			WithTag("file", filename).
			Wrap(err)
	}
	if err != nil {
		return nil, errors.New("reading file failed").
			WithTag("file", filename).
			Wrap(err)
	}
	return data, nil
}

// cleanTilePath rejects paths escaping the dataset directory.
func cleanTilePath(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != p || strings.Contains(p, "\\") {
		return "", errors.New("invalid tile path").
			WithType(ErrTypeInvalidPath).
			WithTag("path", p)
	}
	return clean, nil
}

// georeferenceValues returns the values stored in a scene file, nil for the
// identity.
func georeferenceValues(m geom.Matrix4) []float32 {
	if m.IsZero() || m == geom.Identity() {
		return nil
	}
	return m[:]
}
