// Package image implements the owning handle over a pooled buffer that is
// the unit of flow between pipeline stages.
//
// An Image owns exactly one pooled buffer while valid; destruction (Release)
// returns that buffer to the pool it came from. Because Go has no
// destructors, an explicit-drop discipline is implemented literally: every
// stage that consumes an Image must call Release (directly, or indirectly
// via Take) before it goes out of scope. Relying on the garbage collector
// to return buffers would let the free list underflow under backpressure,
// which is exactly the failure mode the memory pool exists to prevent.
package image

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/mempool"
)

// Element is the set of element types that flow through the pipeline: u16
// for raw detector samples, f32 for everything after H2D widening.
type Element interface {
	~uint16 | ~float32
}

// Image[T] is the generic value type that flows between stages. The zero
// value is not valid (Valid() reports false); construct via Request.
type Image[T Element] struct {
	pool *mempool.Pool
	buf  *mempool.Buffer

	width, height int
	index         int64
	plane         int
	start         time.Time
	dev           device.ID
	traceID       string

	valid bool
}

// Request pulls a buffer from pool for reg, wraps it as an Image with
// uninitialised content, and stamps it with dimensions. This is the
// exported façade over mempool.Pool.Request that stage code actually calls;
// it blocks exactly like mempool.Pool.Request.
func Request[T Element](pool *mempool.Pool, reg mempool.Registration, width, height int) (Image[T], error) {
	buf, err := pool.Request(reg)
	if err != nil {
		return Image[T]{}, err
	}
	return Image[T]{
		pool:   pool,
		buf:    buf,
		width:  width,
		height: height,
		dev:    buf.Device,
		valid:  true,
	}, nil
}

// Valid reports whether the Image currently owns a buffer. An invalid Image
// carries no payload; in this codebase end-of-stream is signalled by
// pipeline.Message, not by an invalid Image, but Valid is kept as the
// low-level "does this handle own anything" check Release and Take rely on.
func (img *Image[T]) Valid() bool { return img.valid }

// Slice returns a zero-copy []T view over the backing buffer. The slice is
// only valid as long as the Image has not been Released or Taken from.
func (img *Image[T]) Slice() []T {
	if !img.valid {
		return nil
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	n := len(img.buf.Data) / elemSize
	return unsafe.Slice((*T)(unsafe.Pointer(&img.buf.Data[0])), n)
}

func (img *Image[T]) Width() int          { return img.width }
func (img *Image[T]) Height() int         { return img.height }
func (img *Image[T]) Index() int64        { return img.index }
func (img *Image[T]) Plane() int          { return img.plane }
func (img *Image[T]) Start() time.Time    { return img.start }
func (img *Image[T]) Device() device.ID   { return img.dev }
func (img *Image[T]) TraceID() string     { return img.traceID }
func (img *Image[T]) Registration() mempool.Registration {
	if !img.valid {
		return -1
	}
	return img.buf.Registration
}

// SetIdx, SetPlane, SetStart, SetDevice, SetTraceID, SetDims are the
// trivial metadata mutators stage code uses to stamp a freshly requested
// output Image with the input's identity.
func (img *Image[T]) SetIdx(idx int64)          { img.index = idx }
func (img *Image[T]) SetPlane(p int)            { img.plane = p }
func (img *Image[T]) SetStart(t time.Time)      { img.start = t }
func (img *Image[T]) SetDevice(d device.ID)     { img.dev = d }
func (img *Image[T]) SetTraceID(id string)      { img.traceID = id }
func (img *Image[T]) SetDims(width, height int) { img.width, img.height = width, height }

// Take transfers ownership from src to a newly returned Image, invalidating
// src (mirrors C++ move-construction). After Take, src.Valid() is false and
// must not be Released.
func Take[T Element](src *Image[T]) Image[T] {
	moved := *src
	*src = Image[T]{}
	return moved
}

// Clone allocates a fresh buffer from the same registration as img and
// copies img's data into it. img must remain valid; the clone is
// independently owned and must be Released separately.
func Clone[T Element](img *Image[T]) (Image[T], error) {
	if !img.valid {
		return Image[T]{}, fmt.Errorf("image: cannot clone an invalid image")
	}
	clone, err := Request[T](img.pool, img.buf.Registration, img.width, img.height)
	if err != nil {
		return Image[T]{}, err
	}
	copy(clone.buf.Data, img.buf.Data)
	clone.index = img.index
	clone.plane = img.plane
	clone.start = img.start
	clone.dev = img.dev
	clone.traceID = img.traceID
	return clone, nil
}

// Release returns the backing buffer to its pool if the Image is valid; a
// no-op on an already-invalid Image (double-release is safe, matching the
// original's "destructor only returns to pool if valid" contract).
func (img *Image[T]) Release() error {
	if !img.valid {
		return nil
	}
	err := img.pool.Return(img.buf)
	*img = Image[T]{}
	return err
}
