// Package filter implements the Filter stage: convolve each projection row
// with a fixed kernel (a Ram-Lak-style ramp filter by default) before
// Backprojection. Coefficients are constant initialisation data computed
// once at startup.
package filter

import (
	"context"
	"fmt"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// Coefficients is a symmetric convolution kernel applied to each projection
// row independently, with edges clamped (the row is treated as padded with
// its own edge value rather than zero, to avoid attenuating the boundary
// detectors).
type Coefficients []float64

// RamLak builds the classic discrete ramp filter of length n (odd), the
// default reconstruction filter when config names no other.
func RamLak(n int) Coefficients {
	if n%2 == 0 {
		n++
	}
	c := make(Coefficients, n)
	center := n / 2
	for i := range c {
		k := i - center
		switch {
		case k == 0:
			c[i] = 0.25
		case k%2 != 0:
			c[i] = -1 / (float64(k*k) * 3.14159265358979 * 3.14159265358979)
		default:
			c[i] = 0
		}
	}
	return c
}

// New builds the Filter Transform.
func New(outPool *mempool.Pool, outReg mempool.Registration, coeffs Coefficients) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	return func(_ context.Context, dev device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		width, height := in.Width(), in.Height()
		if len(coeffs) == 0 {
			return nil, fmt.Errorf("filter: empty coefficient set")
		}

		out, err := image.Request[float32](outPool, outReg, width, height)
		if err != nil {
			return nil, fmt.Errorf("filter: request buffer: %w", err)
		}
		out.SetDevice(dev)
		out.SetIdx(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())
		out.SetTraceID(in.TraceID())

		src, dst := in.Slice(), out.Slice()
		radius := len(coeffs) / 2
		for row := 0; row < height; row++ {
			base := row * width
			for d := 0; d < width; d++ {
				var acc float64
				for k, c := range coeffs {
					idx := d + (k - radius)
					idx = clampIndex(idx, width)
					acc += c * float64(src[base+idx])
				}
				dst[base+d] = float32(acc)
			}
		}
		return &out, nil
	}
}

func clampIndex(i, width int) int {
	if i < 0 {
		return 0
	}
	if i >= width {
		return width - 1
	}
	return i
}
