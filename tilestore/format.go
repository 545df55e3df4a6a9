package tilestore

import (
	"github.com/aukilabs/lodstream/geom"
	"github.com/aukilabs/lodstream/models"
	"github.com/aukilabs/lodstream/tile"
)

const (
	SceneFile      = "scene.json"
	TileFile       = "tile.json"
	compressedExt  = ".zst"
	textureFileFmt = "texture_%d.bin"
)

// The on-disk representation of a scene, stored in SceneFile at the root of
// a dataset directory.
type sceneFile struct {
	Name         string           `json:"name"`
	Georeference []float32        `json:"georeference,omitempty"`
	Roots        []descriptorFile `json:"roots"`
}

type descriptorFile struct {
	Name   string     `json:"name"`
	Octant int        `json:"octant,omitempty"`
	Min    [3]float32 `json:"min"`
	Max    [3]float32 `json:"max"`
	DMax   float32    `json:"dmax"`
}

// The on-disk representation of a tile, stored in TileFile in the tile
// directory. Texture files are relative to the tile directory.
type tileFile struct {
	Batches  []batchFile      `json:"batches"`
	Textures []textureFile    `json:"textures,omitempty"`
	Children []descriptorFile `json:"children,omitempty"`
}

type batchFile struct {
	Vertices [][3]float32 `json:"vertices"`
	Normals  [][3]float32 `json:"normals,omitempty"`
	Indices  []uint32     `json:"indices"`
	UVs      [][2]float32 `json:"uvs,omitempty"`
	Texture  int          `json:"texture"`
}

type textureFile struct {
	// The file holding the pixels. Files ending with .zst hold a zstd frame.
	File string `json:"file"`

	// The decoded size of the pixels.
	Size int64 `json:"size"`
}

func toDescriptorFile(d tile.Descriptor) descriptorFile {
	return descriptorFile{
		Name:   d.Name,
		Octant: d.Octant,
		Min:    [3]float32{d.Range.Min.X, d.Range.Min.Y, d.Range.Min.Z},
		Max:    [3]float32{d.Range.Max.X, d.Range.Max.Y, d.Range.Max.Z},
		DMax:   d.DMax,
	}
}

func (d descriptorFile) descriptor() tile.Descriptor {
	return tile.Descriptor{
		Name:   d.Name,
		Octant: d.Octant,
		Range: geom.NewBox(
			geom.Vector3f{X: d.Min[0], Y: d.Min[1], Z: d.Min[2]},
			geom.Vector3f{X: d.Max[0], Y: d.Max[1], Z: d.Max[2]},
		),
		DMax: d.DMax,
	}
}

func toBatchFile(b *models.GeometryBatch) batchFile {
	f := batchFile{
		Vertices: make([][3]float32, len(b.Vertices)),
		Indices:  b.Indices,
		Texture:  b.TextureIndex,
	}
	for i, v := range b.Vertices {
		f.Vertices[i] = [3]float32{v.X, v.Y, v.Z}
	}

	if len(b.Normals) != 0 {
		f.Normals = make([][3]float32, len(b.Normals))
		for i, n := range b.Normals {
			f.Normals[i] = [3]float32{n.X, n.Y, n.Z}
		}
	}

	if len(b.UVs) != 0 {
		f.UVs = make([][2]float32, len(b.UVs))
		for i, uv := range b.UVs {
			f.UVs[i] = [2]float32{uv.U, uv.V}
		}
	}
	return f
}

func (f batchFile) batch() *models.GeometryBatch {
	b := &models.GeometryBatch{
		Vertices:     make([]geom.Vector3f, len(f.Vertices)),
		Indices:      f.Indices,
		TextureIndex: f.Texture,
	}
	for i, v := range f.Vertices {
		b.Vertices[i] = geom.Vector3f{X: v[0], Y: v[1], Z: v[2]}
	}

	if len(f.Normals) != 0 {
		b.Normals = make([]geom.Vector3f, len(f.Normals))
		for i, n := range f.Normals {
			b.Normals[i] = geom.Vector3f{X: n[0], Y: n[1], Z: n[2]}
		}
	}

	if len(f.UVs) != 0 {
		b.UVs = make([]geom.Vector2f, len(f.UVs))
		for i, uv := range f.UVs {
			b.UVs[i] = geom.Vector2f{U: uv[0], V: uv[1]}
		}
	}
	return b
}
