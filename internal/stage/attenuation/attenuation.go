// Package attenuation implements the Attenuation stage: convert raw
// widened samples into attenuation (line-integral) values using
// per-detector dark/reference averages, then zero anything outside the
// scanner's relevant-area mask.
//
// Grounded on risaLib/include/risa/Attenuation/Attenuation.h for the
// parameter set (source_offset, xa..xf, lower_lim_offset,
// upper_lim_offset, thresh_min, thresh_max); the mask geometry itself is a
// direct, documented simplification of the original's per-projection
// trapezoidal bound rather than a faithful reproduction of its fan
// geometry.
package attenuation

import (
	"context"
	"fmt"
	"math"

	"github.com/e7canasta/risa/internal/calibration"
	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// Geometry is the relevant-area mask's parameter set.
type Geometry struct {
	SourceOffset   float64
	XA, XB, XC, XD, XE, XF float64
	LowerLimOffset float64
	UpperLimOffset float64
}

// bounds returns the valid detector index range [lo, hi) for projection row
// r out of rows total, linearly sweeping from [XA,XD] at row 0 to [XC,XF] at
// the last row — a trapezoidal relevant area bounded by LowerLimOffset/
// UpperLimOffset, approximating the original's per-projection mask without
// claiming fan-beam accuracy.
func (g Geometry) bounds(row, rows, detectors int) (int, int) {
	t := 0.0
	if rows > 1 {
		t = float64(row) / float64(rows-1)
	}
	lo := g.XA + t*(g.XC-g.XA) + g.LowerLimOffset + g.SourceOffset
	hi := g.XD + t*(g.XF-g.XD) - g.UpperLimOffset + g.SourceOffset
	loi := clampInt(int(math.Round(lo)), 0, detectors)
	hii := clampInt(int(math.Round(hi)), 0, detectors)
	if hii < loi {
		hii = loi
	}
	return loi, hii
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Config is the per-run Attenuation parameter set.
type Config struct {
	Geometry           Geometry
	ThreshMin, ThreshMax float64
	Planes             int
	ProjectionsPerFrame int
	TotalDetectors     int
}

// Averages holds the dark/reference constant initialisation data, laid out
// [plane][projection][detector], built once at startup from calibration
// files — the only state Attenuation carries across frames.
type Averages struct {
	Dark      []float32
	Reference []float32
}

// BuildAverages loads every module's dark/reference calibration files and
// interleaves them into the sinogram's detector layout (module-concatenated
// per projection, matching internal/receiver's stitching order).
func BuildAverages(manifest *calibration.Manifest, modules, darkFrames, planes, projectionsPerFrame, detectorsPerModule int) (*Averages, error) {
	totalDetectors := modules * detectorsPerModule
	rest := planes * projectionsPerFrame * totalDetectors
	dark := make([]float32, rest)
	ref := make([]float32, rest)

	for m := 1; m <= modules; m++ {
		entry, err := manifest.Module(m)
		if err != nil {
			return nil, err
		}
		avg, err := calibration.Load(entry, darkFrames, planes, projectionsPerFrame, detectorsPerModule)
		if err != nil {
			return nil, err
		}
		for p := 0; p < planes; p++ {
			for r := 0; r < projectionsPerFrame; r++ {
				srcBase := p*projectionsPerFrame*detectorsPerModule + r*detectorsPerModule
				dstBase := p*projectionsPerFrame*totalDetectors + r*totalDetectors + (m-1)*detectorsPerModule
				copy(dark[dstBase:dstBase+detectorsPerModule], avg.Dark[srcBase:srcBase+detectorsPerModule])
				copy(ref[dstBase:dstBase+detectorsPerModule], avg.Reference[srcBase:srcBase+detectorsPerModule])
			}
		}
	}
	return &Averages{Dark: dark, Reference: ref}, nil
}

const epsilon = 1e-6

// New builds the Attenuation Transform.
func New(outPool *mempool.Pool, outReg mempool.Registration, cfg Config, avg *Averages) pipeline.Transform[*image.Image[float32], *image.Image[float32]] {
	return func(_ context.Context, dev device.ID, in *image.Image[float32]) (*image.Image[float32], error) {
		defer in.Release()

		width, height := in.Width(), in.Height()
		if width != cfg.TotalDetectors || height != cfg.ProjectionsPerFrame {
			return nil, fmt.Errorf("attenuation: image shape %dx%d does not match config %dx%d",
				width, height, cfg.TotalDetectors, cfg.ProjectionsPerFrame)
		}

		out, err := image.Request[float32](outPool, outReg, width, height)
		if err != nil {
			return nil, fmt.Errorf("attenuation: request buffer: %w", err)
		}
		out.SetDevice(dev)
		out.SetIdx(in.Index())
		out.SetPlane(in.Plane())
		out.SetStart(in.Start())
		out.SetTraceID(in.TraceID())

		planeBase := in.Plane() * height * width
		src, dst := in.Slice(), out.Slice()

		for row := 0; row < height; row++ {
			lo, hi := cfg.Geometry.bounds(row, height, width)
			rowBase := row * width
			avgBase := planeBase + rowBase
			for d := 0; d < width; d++ {
				if d < lo || d >= hi {
					dst[rowBase+d] = 0
					continue
				}
				dark := avg.Dark[avgBase+d]
				ref := avg.Reference[avgBase+d]
				num := float64(src[rowBase+d]) - float64(dark)
				denom := float64(ref) - float64(dark)
				if num < epsilon {
					num = epsilon
				}
				if denom < epsilon {
					denom = epsilon
				}
				v := -math.Log(num / denom)
				if v < cfg.ThreshMin {
					v = cfg.ThreshMin
				}
				if v > cfg.ThreshMax {
					v = cfg.ThreshMax
				}
				dst[rowBase+d] = float32(v)
			}
		}
		return &out, nil
	}
}
