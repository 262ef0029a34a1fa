// Package detectorinterp implements the DetectorInterpolation stage:
// replace known-defective detector channels with a value linearly
// interpolated from their surviving neighbours in the same projection row,
// so a handful of dead channels per module don't leave holes in the
// sinogram that Filter/Backprojection would otherwise have to special-case.
//
// The defect list is constant initialisation data computed once at
// startup, here from the Attenuation-stage reference averages dipping
// below a sanity floor, rather than a hardcoded map.
package detectorinterp

import (
	"context"
	"fmt"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// DefectMask marks, per detector index, whether that channel is known
// defective and should be interpolated over instead of trusted.
type DefectMask []bool

// BuildDefectMask flags any detector whose reference average (summed across
// planes and projections) falls below minReference as defective.
func BuildDefectMask(reference []float32, planes, projectionsPerFrame, totalDetectors int, minReference float32) DefectMask {
	mask := make(DefectMask, totalDetectors)
	sums := make([]float32, totalDetectors)
	for p := 0; p < planes; p++ {
		for r := 0; r < projectionsPerFrame; r++ {
			base := p*projectionsPerFrame*totalDetectors + r*totalDetectors
			for d := 0; d < totalDetectors; d++ {
				sums[d] += reference[base+d]
			}
		}
	}
	count := float32(planes * projectionsPerFrame)
	for d, s := range sums {
		if count > 0 && s/count < minReference {
			mask[d] = true
		}
	}
	return mask
}

// New builds the DetectorInterpolation Transform.
func New(outPool *mempool.Pool, outReg mempool.Registration, mask DefectMask) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	return func(_ context.Context, dev device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		width, height := in.Width(), in.Height()
		if len(mask) != width {
			return nil, fmt.Errorf("detectorinterp: mask length %d does not match detector width %d", len(mask), width)
		}

		out, err := image.Request[float32](outPool, outReg, width, height)
		if err != nil {
			return nil, fmt.Errorf("detectorinterp: request buffer: %w", err)
		}
		out.SetDevice(dev)
		out.SetIdx(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())
		out.SetTraceID(in.TraceID())

		src, dst := in.Slice(), out.Slice()
		for row := 0; row < height; row++ {
			base := row * width
			copy(dst[base:base+width], src[base:base+width])
			for d := 0; d < width; d++ {
				if !mask[d] {
					continue
				}
				dst[base+d] = interpolate(dst[base:base+width], mask, d)
			}
		}
		return &out, nil
	}
}

// interpolate averages the nearest non-defective neighbours on either side
// of d within row; falls back to 0 if every channel in the row is
// defective.
func interpolate(row []float32, mask DefectMask, d int) float32 {
	var left, right float32
	var haveLeft, haveRight bool
	for i := d - 1; i >= 0; i-- {
		if !mask[i] {
			left, haveLeft = row[i], true
			break
		}
	}
	for i := d + 1; i < len(row); i++ {
		if !mask[i] {
			right, haveRight = row[i], true
			break
		}
	}
	switch {
	case haveLeft && haveRight:
		return (left + right) / 2
	case haveLeft:
		return left
	case haveRight:
		return right
	default:
		return 0
	}
}
