// Package masking implements the Masking stage: the last
// compute stage before D2H, zeroing every pixel outside the scanner's
// circular field of view so reconstruction artifacts at the corners of the
// square output image don't reach the writer.
package masking

import (
	"context"
	"fmt"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// New builds the Masking Transform. radius is in pixels, measured from the
// image center; radius <= 0 means no masking (pass-through copy).
func New(outPool *mempool.Pool, outReg mempool.Registration, radius float64) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	return func(_ context.Context, dev device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		width, height := in.Width(), in.Height()
		if width != height {
			return nil, fmt.Errorf("masking: expected square image, got %dx%d", width, height)
		}

		out, err := image.Request[float32](outPool, outReg, width, height)
		if err != nil {
			return nil, fmt.Errorf("masking: request buffer: %w", err)
		}
		out.SetDevice(dev)
		out.SetIdx(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())
		out.SetTraceID(in.TraceID())

		src, dst := in.Slice(), out.Slice()
		if radius <= 0 {
			copy(dst, src)
			return &out, nil
		}

		cx := float64(width-1) / 2
		r2 := radius * radius
		for y := 0; y < height; y++ {
			dy := float64(y) - cx
			base := y * width
			for x := 0; x < width; x++ {
				dx := float64(x) - cx
				if dx*dx+dy*dy > r2 {
					dst[base+x] = 0
					continue
				}
				dst[base+x] = src[base+x]
			}
		}
		return &out, nil
	}
}
