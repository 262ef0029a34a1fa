// Package copy implements the H2D and D2H stages: thin wrappers around a
// memory copy, with H2D optionally widening u16 samples to f32. They exist
// as stages in their own right, rather than being folded into the
// first/last compute stage, purely so copy latency pipelines with compute
// work on the surrounding stages.
//
// Grounded on internal/pipeline.Stage — H2D and D2H are ordinary Stage
// instantiations with a Transform that does a copy instead of a compute
// kernel; there is nothing copy-stage-specific about Stage itself.
package copy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

func stampMeta[T, U image.Element](in *image.Image[T], out *image.Image[U], dev device.ID) {
	out.SetDevice(dev)
	out.SetIdx(in.Index())
	out.SetPlane(in.Plane())
	out.SetStart(in.Start())
	out.SetTraceID(in.TraceID())
}

// H2DWiden builds the host-to-device Transform for the case where
// convertOnCopy is configured: every sample is widened u16 → f32 as it
// crosses, the way the original's Fan2Para kernels expect their input.
func H2DWiden(outPool *mempool.Pool, outReg mempool.Registration) pipeline.Transform[*image.Image[uint16], *image.Image[float32]] {
	return func(_ context.Context, dev device.ID, in *image.Image[uint16]) (*image.Image[float32], error) {
		defer in.Release()

		out, err := image.Request[float32](outPool, outReg, in.Width(), in.Height())
		if err != nil {
			return nil, fmt.Errorf("stage/copy: h2d request buffer: %w", err)
		}
		stampMeta(in, &out, dev)

		src, dst := in.Slice(), out.Slice()
		if len(src) != len(dst) {
			out.Release()
			return nil, fmt.Errorf("stage/copy: h2d element count mismatch: src=%d dst=%d", len(src), len(dst))
		}
		for i, v := range src {
			dst[i] = float32(v)
		}
		return &out, nil
	}
}

// H2DRaw builds the host-to-device Transform for the case where the run
// config leaves convertOnCopy off: the copy is type-preserving.
func H2DRaw(outPool *mempool.Pool, outReg mempool.Registration) pipeline.Transform[*image.Image[uint16], *image.Image[uint16]] {
	return func(_ context.Context, dev device.ID, in *image.Image[uint16]) (*image.Image[uint16], error) {
		defer in.Release()

		out, err := image.Request[uint16](outPool, outReg, in.Width(), in.Height())
		if err != nil {
			return nil, fmt.Errorf("stage/copy: h2d request buffer: %w", err)
		}
		stampMeta(in, &out, dev)

		src, dst := in.Slice(), out.Slice()
		if len(src) != len(dst) {
			out.Release()
			return nil, fmt.Errorf("stage/copy: h2d element count mismatch: src=%d dst=%d", len(src), len(dst))
		}
		copy(dst, src)
		return &out, nil
	}
}

// H2DRoundRobin builds an H2D Transform for a multi-accelerator run: it
// cycles the output device tag across devices on every call, so frames are
// distributed round-robin across whatever accelerators the run was
// configured with. The Receiver is always single-device (Host), so this is
// the one place device assignment actually happens; every downstream stage
// just routes on the tag H2D stamped.
func H2DRoundRobin(outPool *mempool.Pool, outReg mempool.Registration, devices device.Set) pipeline.Transform[*image.Image[uint16], *image.Image[float32]] {
	var next atomic.Uint64
	return func(_ context.Context, _ device.ID, in *image.Image[uint16]) (*image.Image[float32], error) {
		defer in.Release()

		idx := next.Add(1) - 1
		dev := devices[int(idx)%len(devices)]

		out, err := image.Request[float32](outPool, outReg, in.Width(), in.Height())
		if err != nil {
			return nil, fmt.Errorf("stage/copy: h2d request buffer: %w", err)
		}
		stampMeta(in, &out, dev)

		src, dst := in.Slice(), out.Slice()
		if len(src) != len(dst) {
			out.Release()
			return nil, fmt.Errorf("stage/copy: h2d element count mismatch: src=%d dst=%d", len(src), len(dst))
		}
		for i, v := range src {
			dst[i] = float32(v)
		}
		return &out, nil
	}
}

// D2H builds the device-to-host Transform, the terminal stage before the
// Writer. It always produces a host-resident (device.Host) Image.
func D2H(outPool *mempool.Pool, outReg mempool.Registration) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	return func(_ context.Context, _ device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		out, err := image.Request[float32](outPool, outReg, in.Width(), in.Height())
		if err != nil {
			return nil, fmt.Errorf("stage/copy: d2h request buffer: %w", err)
		}
		stampMeta(in, &out, device.Host)

		src, dst := in.Slice(), out.Slice()
		if len(src) != len(dst) {
			out.Release()
			return nil, fmt.Errorf("stage/copy: d2h element count mismatch: src=%d dst=%d", len(src), len(dst))
		}
		copy(dst, src)
		return &out, nil
	}
}
