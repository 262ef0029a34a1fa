package image

import (
	"testing"
	"time"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/mempool"
)

func TestRequestReleaseRoundTrip(t *testing.T) {
	pool := mempool.New()
	reg := pool.Register(device.Host, 2, 16, 2)

	before, _ := pool.Available(reg)

	img, err := Request[uint16](pool, reg, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !img.Valid() {
		t.Fatal("requested image should be valid")
	}
	if got, _ := pool.Available(reg); got != before-1 {
		t.Fatalf("Available = %d, want %d", got, before-1)
	}

	if err := img.Release(); err != nil {
		t.Fatal(err)
	}
	if img.Valid() {
		t.Fatal("released image should be invalid")
	}
	if got, _ := pool.Available(reg); got != before {
		t.Fatalf("Available after release = %d, want %d", got, before)
	}

	// Double release is a no-op, not an error.
	if err := img.Release(); err != nil {
		t.Fatalf("double release returned error: %v", err)
	}
}

func TestTakeInvalidatesSource(t *testing.T) {
	pool := mempool.New()
	reg := pool.Register(device.Host, 1, 4, 4)
	img, err := Request[uint16](pool, reg, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	img.SetIdx(7)

	moved := Take(&img)
	if img.Valid() {
		t.Fatal("source should be invalid after Take")
	}
	if !moved.Valid() {
		t.Fatal("moved image should be valid")
	}
	if moved.Index() != 7 {
		t.Fatalf("moved.Index() = %d, want 7", moved.Index())
	}
	if err := moved.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestCloneCopiesData(t *testing.T) {
	pool := mempool.New()
	reg := pool.Register(device.Host, 2, 4, 4)
	img, err := Request[float32](pool, reg, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Release()

	src := img.Slice()
	for i := range src {
		src[i] = float32(i) + 0.5
	}

	clone, err := Clone(&img)
	if err != nil {
		t.Fatal(err)
	}
	defer clone.Release()

	cloned := clone.Slice()
	for i := range src {
		if cloned[i] != src[i] {
			t.Fatalf("clone[%d] = %v, want %v", i, cloned[i], src[i])
		}
	}

	// Mutating the clone must not affect the original (fresh buffer).
	cloned[0] = 99
	if src[0] == 99 {
		t.Fatal("clone shares backing storage with original")
	}
}

func TestMetadataMutators(t *testing.T) {
	pool := mempool.New()
	reg := pool.Register(device.ID(2), 1, 4, 4)
	img, err := Request[uint16](pool, reg, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Release()

	now := time.Now()
	img.SetIdx(42)
	img.SetPlane(1)
	img.SetStart(now)
	img.SetDevice(device.ID(5))
	img.SetTraceID("abc")

	if img.Index() != 42 || img.Plane() != 1 || img.Device() != device.ID(5) || img.TraceID() != "abc" {
		t.Fatalf("metadata mismatch: %+v", img)
	}
	if !img.Start().Equal(now) {
		t.Fatalf("Start() = %v, want %v", img.Start(), now)
	}
}
