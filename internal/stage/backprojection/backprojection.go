// Package backprojection implements the Backprojection stage: accumulate
// filtered projections into a 2-D reconstructed image. Unlike every other
// compute stage, its output has a different shape than its input (a square
// image of side numberOfPixels rather than a sinogram), but the stage
// contract is unchanged: deterministic, one pass per Image, no cross-frame
// state.
//
// The projection-to-pixel mapping below is a simplified parallel-beam sweep,
// not a faithful fan-beam reconstruction; what matters here is the stage
// shape (sinogram in, square image out, constant geometry computed once),
// not reconstruction fidelity.
package backprojection

import (
	"context"
	"fmt"
	"math"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// Config is the reconstruction geometry.
type Config struct {
	NumberOfPixels      int
	TotalDetectors      int
	ProjectionsPerFrame int
}

// New builds the Backprojection Transform.
func New(outPool *mempool.Pool, outReg mempool.Registration, cfg Config) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	n := cfg.NumberOfPixels
	cx := float64(n-1) / 2
	detCenter := float64(cfg.TotalDetectors-1) / 2
	angles := make([]float64, cfg.ProjectionsPerFrame)
	for r := range angles {
		angles[r] = 2 * math.Pi * float64(r) / float64(cfg.ProjectionsPerFrame)
	}

	return func(_ context.Context, dev device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		if in.Width() != cfg.TotalDetectors || in.Height() != cfg.ProjectionsPerFrame {
			return nil, fmt.Errorf("backprojection: sinogram shape %dx%d does not match config %dx%d",
				in.Width(), in.Height(), cfg.TotalDetectors, cfg.ProjectionsPerFrame)
		}

		out, err := image.Request[float32](outPool, outReg, n, n)
		if err != nil {
			return nil, fmt.Errorf("backprojection: request buffer: %w", err)
		}
		out.SetDevice(dev)
		out.SetIdx(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())
		out.SetTraceID(in.TraceID())

		src, dst := in.Slice(), out.Slice()
		weight := float32(1.0 / float64(cfg.ProjectionsPerFrame))

		for y := 0; y < n; y++ {
			Y := float64(y) - cx
			for x := 0; x < n; x++ {
				X := float64(x) - cx
				var acc float32
				for r, theta := range angles {
					t := X*math.Cos(theta) + Y*math.Sin(theta)
					detIdx := int(math.Round(detCenter + t))
					if detIdx < 0 || detIdx >= cfg.TotalDetectors {
						continue
					}
					acc += src[r*cfg.TotalDetectors+detIdx]
				}
				dst[y*n+x] = acc * weight
			}
		}
		return &out, nil
	}
}
