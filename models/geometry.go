package models

import (
	"unsafe"

	"github.com/aukilabs/lodstream/geom"
)

// PlaceholderTexture is the texture index of a batch that only bounds the
// tile content and cannot be displayed on its own.
const PlaceholderTexture = -1

var (
	vector3Size = int64(unsafe.Sizeof(geom.Vector3f{}))
	vector2Size = int64(unsafe.Sizeof(geom.Vector2f{}))
	indexSize   = int64(unsafe.Sizeof(uint32(0)))
)

// GeometryBatch is a mesh owned by a loaded tile. It is not modified once the
// tile is committed.
type GeometryBatch struct {
	Vertices []geom.Vector3f
	Normals  []geom.Vector3f
	Indices  []uint32
	UVs      []geom.Vector2f

	// The index of the batch texture in the owning tile texture list, or
	// PlaceholderTexture.
	TextureIndex int
}

// Displayable reports whether the batch can be drawn as a standalone level of
// detail.
func (b *GeometryBatch) Displayable() bool {
	return b.TextureIndex != PlaceholderTexture && len(b.Indices) != 0
}

// MemorySize returns the number of bytes held by the batch arrays.
func (b *GeometryBatch) MemorySize() int64 {
	return int64(len(b.Vertices))*vector3Size +
		int64(len(b.Normals))*vector3Size +
		int64(len(b.Indices))*indexSize +
		int64(len(b.UVs))*vector2Size
}

// Clone returns a deep copy of the batch.
func (b *GeometryBatch) Clone() *GeometryBatch {
	return &GeometryBatch{
		Vertices:     cloneSlice(b.Vertices),
		Normals:      cloneSlice(b.Normals),
		Indices:      cloneSlice(b.Indices),
		UVs:          cloneSlice(b.UVs),
		TextureIndex: b.TextureIndex,
	}
}

// Bounds returns the box enclosing the batch vertices.
func (b *GeometryBatch) Bounds() geom.Box {
	box := geom.EmptyBox()
	for _, v := range b.Vertices {
		box = box.Union(geom.Box{Min: v, Max: v})
	}
	return box
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	c := make([]T, len(s))
	copy(c, s)
	return c
}
