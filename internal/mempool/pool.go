// Package mempool implements the per-stage memory pool that recycles
// device- and host-resident buffers under sustained backpressure.
//
// Grounded on glados/include/glados/MemoryPool.h:
// registerStage/requestMemory/returnMemory/freeMemory, reimplemented with a
// mutex+condition-variable free list per registration (the same idiom
// MemoryPool.h and framebus/internal/bus.latestFrameHolder both use).
// Registrations are stable for the Pool's lifetime; there is no
// deregister-and-recreate.
//
// Unlike the C++ original's process-wide Singleton<MemoryPool<MemoryManager>>,
// Pool is an explicitly constructed value (New()). Go idiom — and every
// lifecycle-managed type in this style of codebase (framesupplier.New(),
// framebus.New()) — favors an explicit owner over package-level global
// state; the invariant that matters (registrations stable for the process
// lifetime, explicit init before pipeline construction, explicit teardown
// after all Images are released) is preserved by convention: one Pool is
// constructed in cmd/risad and threaded through every stage.
package mempool

import (
	"fmt"
	"sync"

	"github.com/e7canasta/risa/internal/device"
)

// Registration is the opaque handle returned by Register, passed to Request
// and Return. Stable for the lifetime of the Pool.
type Registration int

// Buffer is a typed byte region owned by exactly one registration's free
// list, or by exactly one live image.Image (see internal/image). Buffers are
// never allocated outside of Register; Request only ever pulls from the free
// list it was preallocated into.
type Buffer struct {
	Data         []byte
	Device       device.ID
	Registration Registration
	Elements     int
	ElementSize  int
}

type registration struct {
	mu       sync.Mutex
	cond     *sync.Cond
	free     []*Buffer
	device   device.ID
	elements int
	elemSize int
	total    int // number of buffers ever allocated for this registration
}

// Pool is the process-wide-in-spirit, explicitly-owned registry of
// per-registration free lists.
type Pool struct {
	// registrations is append-only and never shrinks; indices double as
	// Registration values and are therefore stable for the Pool's lifetime.
	mu            sync.Mutex
	registrations []*registration
}

// New creates an empty Pool. Call Register for every stage before starting
// the pipeline; Register is not safe to call concurrently with Request.
func New() *Pool {
	return &Pool{}
}

// Register reserves count buffers of elements*elementSize bytes each for dev
// and returns the registration index used by Request/Return/Free.
func (p *Pool) Register(dev device.ID, count, elements, elementSize int) Registration {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := &registration{
		device:   dev,
		elements: elements,
		elemSize: elementSize,
	}
	r.cond = sync.NewCond(&r.mu)
	for i := 0; i < count; i++ {
		r.free = append(r.free, &Buffer{
			Data:         make([]byte, elements*elementSize),
			Device:       dev,
			ElementSize:  elementSize,
			Elements:     elements,
		})
	}
	r.total = count

	idx := Registration(len(p.registrations))
	for i := range r.free {
		r.free[i].Registration = idx
	}
	p.registrations = append(p.registrations, r)
	return idx
}

// Request blocks until a buffer is available for reg and returns it. This is
// the pipeline's primary backpressure mechanism: it never allocates on the
// hot path, it only ever waits for a Return.
func (p *Pool) Request(reg Registration) (*Buffer, error) {
	r, err := p.registrationFor(reg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.free) == 0 {
		r.cond.Wait()
	}
	n := len(r.free)
	buf := r.free[n-1]
	r.free[n-1] = nil
	r.free = r.free[:n-1]
	return buf, nil
}

// Return places buf back on the free list of its registration, waking one
// blocked Request. Called by image.Image.Release, never directly by stage
// code.
func (p *Pool) Return(buf *Buffer) error {
	r, err := p.registrationFor(buf.Registration)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.free = append(r.free, buf)
	r.cond.Signal()
	r.mu.Unlock()
	return nil
}

// Free releases all buffers of a registration. Called once at pipeline
// teardown, after every Image referencing that registration has been
// released; calling it earlier leaks whatever buffers are still checked out.
func (p *Pool) Free(reg Registration) error {
	r, err := p.registrationFor(reg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.free = nil
	r.mu.Unlock()
	return nil
}

// Available reports the current free-list depth for reg. Diagnostics only.
func (p *Pool) Available(reg Registration) (int, error) {
	r, err := p.registrationFor(reg)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.free), nil
}

func (p *Pool) registrationFor(reg Registration) (*registration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if int(reg) < 0 || int(reg) >= len(p.registrations) {
		return nil, fmt.Errorf("mempool: registration %d: stage needs to be registered first", reg)
	}
	return p.registrations[reg], nil
}
