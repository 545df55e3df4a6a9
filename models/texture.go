package models

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/klauspost/compress/zstd"
)

const (
	ErrTypeTextureDecode   = "texture_decode"
	ErrTypeTextureEncode   = "texture_encode"
	ErrTypeTextureReleased = "texture_released"
)

var (
	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error
)

func zstdDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

func zstdEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil)
	})
	return encoder, encoderErr
}

// CompressPixels returns pixels as a zstd frame.
func CompressPixels(pixels []byte) ([]byte, error) {
	e, err := zstdEncoder()
	if err != nil {
		return nil, errors.New("creating zstd encoder failed").
			WithType(ErrTypeTextureEncode).
			Wrap(err)
	}
	return e.EncodeAll(pixels, make([]byte, 0, len(pixels)/2)), nil
}

// NewCompressedTexture returns a texture holding one reference to the
// compressed pixels.
func NewCompressedTexture(pixels []byte) (*TextureResource, error) {
	data, err := CompressPixels(pixels)
	if err != nil {
		return nil, err
	}
	return NewTextureResource(data, true, int64(len(pixels))), nil
}

// TextureResource is an image payload owned by one or more tiles. Tiles that
// share a texture hold a reference each; the payload and the render handle
// are dropped when the last reference is released.
type TextureResource struct {
	// The raw image bytes, or a zstd frame when Compressed is set.
	Data       []byte
	Compressed bool

	// The size in bytes of the decoded image.
	Size int64

	refs atomic.Int32

	handleMutex sync.Mutex
	handle      any
}

// NewTextureResource returns a texture holding one reference.
func NewTextureResource(data []byte, compressed bool, size int64) *TextureResource {
	if !compressed && size == 0 {
		size = int64(len(data))
	}

	t := &TextureResource{
		Data:       data,
		Compressed: compressed,
		Size:       size,
	}
	t.refs.Store(1)
	instrumentTextureCreate(t)
	return t
}

// Retain adds a reference and returns the texture.
func (t *TextureResource) Retain() *TextureResource {
	t.refs.Add(1)
	return t
}

// Release drops a reference. The last release frees the payload and closes
// the render handle when it implements io.Closer.
func (t *TextureResource) Release() {
	if t.refs.Add(-1) != 0 {
		return
	}

	t.handleMutex.Lock()
	defer t.handleMutex.Unlock()

	if c, ok := t.handle.(io.Closer); ok {
		c.Close()
	}
	instrumentTextureFree(len(t.Data))
	t.handle = nil
	t.Data = nil
}

// Refs returns the number of live references.
func (t *TextureResource) Refs() int32 {
	return t.refs.Load()
}

// MemorySize returns the number of resident bytes.
func (t *TextureResource) MemorySize() int64 {
	return int64(len(t.Data))
}

// Pixels returns the decoded image bytes.
func (t *TextureResource) Pixels() ([]byte, error) {
	if t.refs.Load() <= 0 {
		return nil, errors.New("texture is released").
			WithType(ErrTypeTextureReleased)
	}

	if !t.Compressed {
		return t.Data, nil
	}

	pixels, err := t.decode()
	instrumentTextureDecode(pixels, err)
	return pixels, err
}

func (t *TextureResource) decode() ([]byte, error) {
	d, err := zstdDecoder()
	if err != nil {
		return nil, errors.New("creating zstd decoder failed").
			WithType(ErrTypeTextureDecode).
			Wrap(err)
	}

	pixels, err := d.DecodeAll(t.Data, make([]byte, 0, t.Size))
	if err != nil {
		return nil, errors.New("decoding texture failed").
			WithType(ErrTypeTextureDecode).
			WithTag("compressed_size", len(t.Data)).
			Wrap(err)
	}
	return pixels, nil
}

// Handle returns the render side handle, creating it with create on first
// use. A failed creation is retried on the next call.
func (t *TextureResource) Handle(create func(pixels []byte) (any, error)) (any, error) {
	t.handleMutex.Lock()
	defer t.handleMutex.Unlock()

	if t.handle != nil {
		return t.handle, nil
	}

	pixels, err := t.Pixels()
	if err != nil {
		return nil, err
	}

	h, err := create(pixels)
	if err != nil {
		return nil, err
	}
	t.handle = h
	return h, nil
}
