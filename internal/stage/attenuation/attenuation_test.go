package attenuation

import (
	"context"
	"math"
	"testing"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
)

func TestAttenuationComputesLineIntegral(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.ID(0), 2, 4, 4)
	outReg := pool.Register(device.ID(0), 2, 4, 4)

	cfg := Config{
		Geometry: Geometry{
			XA: 0, XB: 0, XC: 0, XD: 4, XE: 4, XF: 4,
		},
		ThreshMin:           -10,
		ThreshMax:           10,
		Planes:              1,
		ProjectionsPerFrame: 2,
		TotalDetectors:      2,
	}
	avg := &Averages{
		Dark:      []float32{0, 0, 0, 0},
		Reference: []float32{100, 100, 100, 100},
	}

	in, err := image.Request[float32](pool, inReg, 2, 2)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	copy(in.Slice(), []float32{100, 50, 25, 100})

	transform := New(pool, outReg, cfg, avg)
	out, err := transform(context.Background(), device.ID(0), &in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	defer out.Release()

	got := out.Slice()
	want := []float32{
		float32(-math.Log(1.0)),
		float32(-math.Log(0.5)),
		float32(-math.Log(0.25)),
		float32(-math.Log(1.0)),
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAttenuationMasksOutsideRelevantArea(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.ID(0), 1, 8, 4)
	outReg := pool.Register(device.ID(0), 1, 8, 4)

	cfg := Config{
		Geometry: Geometry{
			XA: 1, XB: 1, XC: 1, XD: 2, XE: 2, XF: 2,
		},
		ThreshMin:           -10,
		ThreshMax:           10,
		Planes:              1,
		ProjectionsPerFrame: 2,
		TotalDetectors:      4,
	}
	avg := &Averages{
		Dark:      make([]float32, 8),
		Reference: func() []float32 { r := make([]float32, 8); for i := range r { r[i] = 100 }; return r }(),
	}

	in, err := image.Request[float32](pool, inReg, 4, 2)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	copy(in.Slice(), []float32{50, 50, 50, 50, 50, 50, 50, 50})

	transform := New(pool, outReg, cfg, avg)
	out, err := transform(context.Background(), device.ID(0), &in)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	defer out.Release()

	got := out.Slice()
	// Relevant area is detectors [1,2): only index 1 in each row survives.
	if got[0] != 0 || got[2] != 0 || got[3] != 0 {
		t.Fatalf("expected out-of-mask detectors zeroed, got %v", got)
	}
	if got[1] == 0 {
		t.Fatalf("expected in-mask detector to carry a value, got 0")
	}
}

func TestAttenuationShapeMismatchErrors(t *testing.T) {
	pool := mempool.New()
	inReg := pool.Register(device.ID(0), 1, 4, 4)
	outReg := pool.Register(device.ID(0), 1, 4, 4)

	cfg := Config{ProjectionsPerFrame: 99, TotalDetectors: 99}
	avg := &Averages{Dark: make([]float32, 4), Reference: make([]float32, 4)}

	in, err := image.Request[float32](pool, inReg, 2, 2)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	transform := New(pool, outReg, cfg, avg)
	if _, err := transform(context.Background(), device.ID(0), &in); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
