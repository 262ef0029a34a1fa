package copy

import (
	"context"
	"testing"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
)

func TestH2DWidenConvertsAndReleasesSource(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.Host, 2, 4, 2)
	outReg := pool.Register(device.ID(0), 2, 4, 4)

	in, err := image.Request[uint16](pool, inReg, 2, 2)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	copy(in.Slice(), []uint16{1, 2, 3, 4})
	in.SetIdx(7)
	in.SetPlane(1)
	in.SetTraceID("trace-1")

	transform := H2DWiden(pool, outReg)
	out, err := transform(context.Background(), device.ID(0), &in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	defer out.Release()

	if in.Valid() {
		t.Fatal("H2DWiden did not release its source Image")
	}
	if out.Index() != 7 || out.Plane() != 1 || out.TraceID() != "trace-1" {
		t.Fatalf("metadata not carried across: index=%d plane=%d trace=%s", out.Index(), out.Plane(), out.TraceID())
	}
	if out.Device() != device.ID(0) {
		t.Fatalf("Device() = %v, want 0", out.Device())
	}
	want := []float32{1, 2, 3, 4}
	got := out.Slice()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestH2DRawPreservesType(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.Host, 2, 4, 2)
	outReg := pool.Register(device.ID(0), 2, 4, 2)

	in, err := image.Request[uint16](pool, inReg, 2, 2)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	copy(in.Slice(), []uint16{9, 8, 7, 6})

	transform := H2DRaw(pool, outReg)
	out, err := transform(context.Background(), device.ID(0), &in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	defer out.Release()

	want := []uint16{9, 8, 7, 6}
	got := out.Slice()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestH2DRoundRobinCyclesDevices(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.Host, 4, 4, 2)
	outReg := pool.Register(device.ID(0), 4, 4, 4)
	devices := device.Set{device.ID(0), device.ID(1)}

	transform := H2DRoundRobin(pool, outReg, devices)

	var got []device.ID
	for i := 0; i < 4; i++ {
		in, err := image.Request[uint16](pool, inReg, 2, 2)
		if err != nil {
			t.Fatalf("Request: %v", err)
		}
		out, err := transform(context.Background(), device.Host, &in)
		if err != nil {
			t.Fatalf("transform: %v", err)
		}
		got = append(got, out.Device())
		out.Release()
	}

	want := []device.ID{0, 1, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d routed to device %v, want %v", i, got[i], want[i])
		}
	}
}

func TestD2HForcesHostDevice(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.ID(0), 2, 4, 4)
	outReg := pool.Register(device.Host, 2, 4, 4)

	in, err := image.Request[float32](pool, inReg, 2, 2)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	copy(in.Slice(), []float32{1.5, 2.5, 3.5, 4.5})
	in.SetDevice(device.ID(3))

	transform := D2H(pool, outReg)
	out, err := transform(context.Background(), device.ID(3), &in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	defer out.Release()

	if out.Device() != device.Host {
		t.Fatalf("Device() = %v, want Host", out.Device())
	}
	want := []float32{1.5, 2.5, 3.5, 4.5}
	got := out.Slice()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
