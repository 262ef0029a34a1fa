package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/fatal"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
	"github.com/e7canasta/risa/internal/receiver"
	"github.com/e7canasta/risa/internal/stage/attenuation"
	"github.com/e7canasta/risa/internal/stage/backprojection"
	"github.com/e7canasta/risa/internal/stage/copy"
	"github.com/e7canasta/risa/internal/stage/detectorinterp"
	"github.com/e7canasta/risa/internal/stage/filter"
	"github.com/e7canasta/risa/internal/stage/masking"
	"github.com/e7canasta/risa/internal/stage/reordering"
	"github.com/e7canasta/risa/internal/writer"
	"github.com/e7canasta/risa/internal/writer/pgm"
)

// runtime is everything runPipeline needs to start, wait on, and tear down.
type runtime struct {
	pool *mempool.Pool
	recv *receiver.Receiver
	pl   *pipeline.Pipeline
	out  writer.Writer
}

// writerSink adapts a writer.Writer into pipeline.Consumer[*image.Image[float32]],
// the terminal stage of every run: it persists the frame, then releases it —
// the only place in the pipeline where an Image's life ends without being
// handed to another stage.
type writerSink struct {
	w      writer.Writer
	logger *slog.Logger
}

func (s *writerSink) Process(msg pipeline.Message[*image.Image[float32]]) {
	if msg.IsEnd() {
		return
	}
	img := msg.Value()
	defer img.Release()
	if err := s.w.Write(img); err != nil {
		s.logger.Error("writer: failed to persist frame", "index", img.Index(), "error", err)
	}
}

// build wires every stage named in the pipeline topology
// (Receiver → H2D → Reordering → Attenuation → DetectorInterpolation →
// Filter → Backprojection → Masking → D2H → Writer) from rc, sharing one
// mempool.Pool across all of them, exactly as the original's
// Singleton<MemoryPool> is shared process-wide.
func build(rc *runConfig, logger *slog.Logger, notifier *fatal.Notifier) (*runtime, error) {
	pool := mempool.New()

	sinoElems := rc.TotalDetectors * rc.ProjectionsPerFrame
	pixElems := rc.NumberOfPixels * rc.NumberOfPixels

	rawReg := pool.Register(device.Host, rc.MemPoolSize["receiver"], sinoElems, 2)
	h2dReg := pool.Register(device.Host, rc.MemPoolSize["h2d"], sinoElems, 4)
	reorderReg := pool.Register(device.Host, rc.MemPoolSize["reordering"], sinoElems, 4)
	attenReg := pool.Register(device.Host, rc.MemPoolSize["attenuation"], sinoElems, 4)
	interpReg := pool.Register(device.Host, rc.MemPoolSize["detectorinterp"], sinoElems, 4)
	filterReg := pool.Register(device.Host, rc.MemPoolSize["filter"], sinoElems, 4)
	backprojReg := pool.Register(device.Host, rc.MemPoolSize["backprojection"], pixElems, 4)
	maskReg := pool.Register(device.Host, rc.MemPoolSize["masking"], pixElems, 4)
	d2hReg := pool.Register(device.Host, rc.MemPoolSize["d2h"], pixElems, 4)

	manifest, err := loadCalibrationManifest(rc)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	avg, err := attenuation.BuildAverages(manifest, rc.Modules, rc.NumberOfReferenceFrames, rc.Planes, rc.ProjectionsPerFrame, rc.DetectorsPerModule)
	if err != nil {
		return nil, fmt.Errorf("calibration: build averages: %w", err)
	}
	defectMask := detectorinterp.BuildDefectMask(avg.Reference, rc.Planes, rc.ProjectionsPerFrame, rc.TotalDetectors, float32(rc.MinReference))
	coeffs := filter.RamLak(rc.FilterLength)

	recv := receiver.New(receiver.Config{
		Modules:             rc.Modules,
		DetectorsPerModule:  rc.DetectorsPerModule,
		ProjectionsPerFrame: rc.ProjectionsPerFrame,
		Planes:              rc.Planes,
		RingDepth:           rc.RingDepth,
		NotificationDepth:   rc.NotificationDepth,
		Protocol:            rc.Protocol,
		Addrs:               rc.Addrs,
	}, pool, rawReg, logger, notifier)

	var h2dTransform pipeline.Transform[*image.Image[uint16], *image.Image[float32]]
	if rc.ConvertOnCopy {
		if len(rc.Devices) > 1 {
			h2dTransform = copy.H2DRoundRobin(pool, h2dReg, rc.Devices)
		} else {
			h2dTransform = copy.H2DWiden(pool, h2dReg)
		}
	} else {
		return nil, fmt.Errorf("config: convertOnCopy=false is not supported downstream of H2D (every compute stage operates on f32)")
	}

	h2d := pipeline.NewStage("h2d", device.HostOnly(), rc.QueueDepth, h2dTransform, logger, notifier)
	h2d.Priority = 1

	reorderStage := pipeline.NewStage("reordering", rc.Devices, rc.QueueDepth,
		reordering.New(pool, reorderReg, reordering.Identity(rc.TotalDetectors)), logger, notifier)
	reorderStage.Priority = 2

	attenCfg := attenuation.Config{
		Geometry:            rc.Geometry,
		ThreshMin:           rc.ThreshMin,
		ThreshMax:           rc.ThreshMax,
		Planes:              rc.Planes,
		ProjectionsPerFrame: rc.ProjectionsPerFrame,
		TotalDetectors:      rc.TotalDetectors,
	}
	attenStage := pipeline.NewStage("attenuation", rc.Devices, rc.QueueDepth,
		attenuation.New(pool, attenReg, attenCfg, avg), logger, notifier)
	attenStage.Priority = 2

	interpStage := pipeline.NewStage("detectorinterp", rc.Devices, rc.QueueDepth,
		detectorinterp.New(pool, interpReg, defectMask), logger, notifier)
	interpStage.Priority = 2

	filterStage := pipeline.NewStage("filter", rc.Devices, rc.QueueDepth,
		filter.New(pool, filterReg, coeffs), logger, notifier)
	filterStage.Priority = 2

	backprojStage := pipeline.NewStage("backprojection", rc.Devices, rc.QueueDepth,
		backprojection.New(pool, backprojReg, backprojection.Config{
			NumberOfPixels:      rc.NumberOfPixels,
			TotalDetectors:      rc.TotalDetectors,
			ProjectionsPerFrame: rc.ProjectionsPerFrame,
		}), logger, notifier)
	backprojStage.Priority = 2

	maskStage := pipeline.NewStage("masking", rc.Devices, rc.QueueDepth,
		masking.New(pool, maskReg, rc.MaskingRadius), logger, notifier)
	maskStage.Priority = 2

	d2hStage := pipeline.NewStage("d2h", rc.Devices, rc.QueueDepth,
		copy.D2H(pool, d2hReg), logger, notifier)
	d2hStage.Priority = 3

	out, err := pgm.New(rc.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}

	recv.Output().Attach(h2d)
	h2d.Output().Attach(reorderStage)
	reorderStage.Output().Attach(attenStage)
	attenStage.Output().Attach(interpStage)
	interpStage.Output().Attach(filterStage)
	filterStage.Output().Attach(backprojStage)
	backprojStage.Output().Attach(maskStage)
	maskStage.Output().Attach(d2hStage)
	d2hStage.Output().Attach(&writerSink{w: out, logger: logger})

	pl := pipeline.NewPipeline()
	pl.Add(recv)
	pl.Add(h2d)
	pl.Add(reorderStage)
	pl.Add(attenStage)
	pl.Add(interpStage)
	pl.Add(filterStage)
	pl.Add(backprojStage)
	pl.Add(maskStage)
	pl.Add(d2hStage)

	return &runtime{pool: pool, recv: recv, pl: pl, out: out}, nil
}

// open dials the Receiver's per-module transports. Kept separate from build
// so tests can build a runtime and inject transports instead of dialing
// real sockets.
func (rt *runtime) open() error {
	return rt.recv.Open()
}

func (rt *runtime) start(ctx context.Context) {
	rt.pl.Start(ctx)
}

func (rt *runtime) wait() {
	rt.pl.Wait()
}

func (rt *runtime) close() error {
	return rt.out.Close()
}
