package main

import (
	"fmt"

	"github.com/e7canasta/risa/internal/calibration"
	"github.com/e7canasta/risa/internal/config"
	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/stage/attenuation"
)

// runConfig is everything cmd/risad reads out of the JSON run config before
// wiring the pipeline. Unlike internal/config's keyed lookups, this is a
// plain struct: cmd/risad is the one place in the repo allowed to collapse
// the document into named fields, since it is the only caller that needs
// every key at once.
type runConfig struct {
	Modules             int
	DetectorsPerModule  int
	TotalDetectors      int
	Planes              int
	ProjectionsPerFrame int
	RingDepth           int
	NotificationDepth   int
	Protocol            string
	Addrs               []string
	Devices             device.Set
	QueueDepth          int

	ConvertOnCopy bool

	Geometry                attenuation.Geometry
	ThreshMin, ThreshMax    float64
	NumberOfReferenceFrames int
	MinReference            float64

	NumberOfPixels int
	FilterLength   int
	MaskingRadius  float64

	CalibrationManifest string
	OutputDir           string

	MemPoolSize map[string]int

	calibrationReader *config.Reader
}

type inputEntry struct {
	InputType string `json:"inputtype"`
	InputPath string `json:"inputpath"`
}

// loadRunConfig reads the JSON document at path and assembles a runConfig,
// mirroring the per-stage readConfig calls of the original: every key is
// looked up individually through internal/config rather than unmarshalled
// wholesale, and a missing required key fails loudly here rather than
// surfacing as a nil-pointer deep inside a stage constructor.
func loadRunConfig(path string) (*runConfig, error) {
	r, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	rc := &runConfig{MemPoolSize: make(map[string]int)}

	rc.Modules, err = config.Value[int](r, "number_of_det_modules")
	if err != nil {
		return nil, err
	}
	fanDetectors, err := config.Value[int](r, "number_of_fan_detectors")
	if err != nil {
		return nil, err
	}
	if rc.Modules <= 0 || fanDetectors%rc.Modules != 0 {
		return nil, fmt.Errorf("config: number_of_fan_detectors (%d) not divisible by number_of_det_modules (%d)", fanDetectors, rc.Modules)
	}
	rc.DetectorsPerModule = fanDetectors / rc.Modules
	rc.TotalDetectors = fanDetectors

	rc.Planes, err = config.Value[int](r, "number_of_planes")
	if err != nil {
		return nil, err
	}

	samplingRate, err := config.Value[int](r, "sampling_rate")
	if err != nil {
		return nil, err
	}
	scanRate, err := config.Value[int](r, "scan_rate")
	if err != nil {
		return nil, err
	}
	if scanRate <= 0 {
		return nil, fmt.Errorf("config: scan_rate must be positive")
	}
	rc.ProjectionsPerFrame = samplingRate * 1_000_000 / scanRate

	rc.RingDepth, err = config.Value[int](r, "inputBufferSize")
	if err != nil {
		return nil, err
	}

	// 0 means DefaultNotificationDepth, resolved by internal/receiver itself.
	rc.NotificationDepth, _ = config.Value[int](r, "notificationDepth")

	rc.Protocol, err = config.Value[string](r, "transport_prot")
	if err != nil {
		rc.Protocol = "udp"
	}

	rc.Addrs, err = config.ListOf[string](r, "receiver_addrs")
	if err != nil || len(rc.Addrs) != rc.Modules {
		return nil, fmt.Errorf("config: receiver_addrs must list exactly %d addresses (one per module)", rc.Modules)
	}

	devIDs, err := config.ListOf[int](r, "devices")
	if err != nil || len(devIDs) == 0 {
		rc.Devices = device.HostOnly()
	} else {
		rc.Devices = make(device.Set, len(devIDs))
		for i, d := range devIDs {
			rc.Devices[i] = device.ID(d)
		}
	}

	rc.QueueDepth, err = config.Value[int](r, "queueDepth")
	if err != nil {
		rc.QueueDepth = 8
	}

	rc.ConvertOnCopy, err = config.Value[bool](r, "convertOnCopy")
	if err != nil {
		rc.ConvertOnCopy = true
	}

	rc.Geometry.SourceOffset, _ = config.Value[float64](r, "source_offset")
	rc.Geometry.XA, _ = config.Value[float64](r, "xa")
	rc.Geometry.XB, _ = config.Value[float64](r, "xb")
	rc.Geometry.XC, _ = config.Value[float64](r, "xc")
	rc.Geometry.XD, _ = config.Value[float64](r, "xd")
	rc.Geometry.XE, _ = config.Value[float64](r, "xe")
	rc.Geometry.XF, _ = config.Value[float64](r, "xf")
	rc.Geometry.LowerLimOffset, _ = config.Value[float64](r, "lower_lim_offset")
	rc.Geometry.UpperLimOffset, _ = config.Value[float64](r, "upper_lim_offset")

	rc.ThreshMin, err = config.Value[float64](r, "thresh_min")
	if err != nil {
		return nil, err
	}
	rc.ThreshMax, err = config.Value[float64](r, "thresh_max")
	if err != nil {
		return nil, err
	}

	rc.NumberOfReferenceFrames, err = config.Value[int](r, "number_of_reference_frames")
	if err != nil {
		rc.NumberOfReferenceFrames = calibration.DefaultReferenceFrames
	}
	minRef, err := config.Value[float64](r, "min_reference")
	if err != nil {
		minRef = 0
	}
	rc.MinReference = minRef

	rc.NumberOfPixels, err = config.Value[int](r, "number_of_pixels")
	if err != nil {
		return nil, err
	}

	rc.FilterLength, err = config.Value[int](r, "filter_length")
	if err != nil {
		rc.FilterLength = 21
	}
	rc.MaskingRadius, err = config.Value[float64](r, "masking_radius")
	if err != nil {
		rc.MaskingRadius = float64(rc.NumberOfPixels) / 2
	}

	rc.CalibrationManifest, _ = config.Value[string](r, "calibration_manifest")
	rc.OutputDir, err = config.Value[string](r, "output_dir")
	if err != nil {
		rc.OutputDir = "./output"
	}

	for _, stage := range mempoolStages {
		n, err := config.Value[int](r, "mempoolsize_"+stage)
		if err != nil {
			n = 4
		}
		rc.MemPoolSize[stage] = n
	}

	rc.calibrationReader = r
	return rc, nil
}

var mempoolStages = []string{
	"receiver", "h2d", "reordering", "attenuation",
	"detectorinterp", "filter", "backprojection", "masking", "d2h",
}

// loadCalibrationManifest resolves the per-module dark/reference file
// locations. The YAML manifest (calibration_manifest) is the primary path;
// when it is absent, the run config's inputs[] list is used to build a
// degenerate manifest where every module shares the same pair of
// calibration files — sufficient for bench/lab configurations that only
// have one dark/reference capture, not for a multi-module rig.
func loadCalibrationManifest(rc *runConfig) (*calibration.Manifest, error) {
	if rc.CalibrationManifest != "" {
		return calibration.LoadManifest(rc.CalibrationManifest)
	}

	inputs, err := config.ListOf[inputEntry](rc.calibrationReader, "inputs")
	if err != nil {
		return nil, fmt.Errorf("config: neither calibration_manifest nor inputs[] is usable: %w", err)
	}
	var dark, ref string
	for _, in := range inputs {
		switch in.InputType {
		case "dark":
			dark = in.InputPath
		case "reference":
			ref = in.InputPath
		}
	}
	if dark == "" || ref == "" {
		return nil, fmt.Errorf("config: inputs[] must list one dark and one reference entry")
	}

	m := &calibration.Manifest{}
	for i := 1; i <= rc.Modules; i++ {
		m.Modules = append(m.Modules, calibration.ModuleEntry{Index: i, Dark: dark, Reference: ref})
	}
	return m, nil
}
