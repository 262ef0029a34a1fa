// Package reordering implements the Reordering stage: a deterministic,
// element-wise rearrangement of detector samples within each projection
// row. Real detector-module wiring does not always deliver channels in
// ascending physical order; Reordering corrects that with a fixed
// permutation table computed once from configuration, before Attenuation
// sees the sinogram.
//
// The permutation itself is treated as opaque; what's in scope is the
// stage contract: one deterministic pass per Image, no cross-frame state
// beyond the table built at construction.
package reordering

import (
	"context"
	"fmt"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// Table maps each output detector slot to the input detector slot it reads
// from. len(Table) must equal the per-projection detector count.
type Table []int

// Identity returns the no-op permutation for n detectors.
func Identity(n int) Table {
	t := make(Table, n)
	for i := range t {
		t[i] = i
	}
	return t
}

// New builds the Reordering Transform. table is applied identically to
// every projection row of every Image.
func New(outPool *mempool.Pool, outReg mempool.Registration, table Table) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	return func(_ context.Context, dev device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		width, height := in.Width(), in.Height()
		if len(table) != width {
			return nil, fmt.Errorf("reordering: table length %d does not match detector width %d", len(table), width)
		}

		out, err := image.Request[float32](outPool, outReg, width, height)
		if err != nil {
			return nil, fmt.Errorf("reordering: request buffer: %w", err)
		}
		out.SetDevice(dev)
		out.SetIdx(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())
		out.SetTraceID(in.TraceID())

		src, dst := in.Slice(), out.Slice()
		for row := 0; row < height; row++ {
			base := row * width
			for d, srcD := range table {
				dst[base+d] = src[base+srcD]
			}
		}
		return &out, nil
	}
}
