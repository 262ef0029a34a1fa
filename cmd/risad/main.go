// Command risad is the RISA reconstruction pipeline's CLI driver: one
// positional argument (path to the JSON run configuration), wiring of the
// full Receiver → H2D → Reordering → Attenuation → DetectorInterpolation →
// Filter → Backprojection → Masking → D2H → Writer chain, and graceful
// shutdown on SIGINT/SIGTERM or a fatal stage error.
//
// Grounded on examples/orion-pipeline/main.go's shape: flag-based config,
// a slog.Logger built once in main, context+signal-driven cancellation, a
// startup banner, and a periodic stats reporter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/risa/internal/fatal"
	"github.com/e7canasta/risa/internal/queue"
)

const version = "v0.1.0"

type cliFlags struct {
	configPath    string
	debug         bool
	statsInterval time.Duration
}

func main() {
	flags := parseFlags()

	logLevel := slog.LevelInfo
	if flags.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	queue.SetHighWaterLogger(func(depth, limit int) {
		logger.Warn("queue depth reached new high-water mark", "depth", depth, "limit", limit)
	})

	rc, err := loadRunConfig(flags.configPath)
	if err != nil {
		logger.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	printBanner(flags, rc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, stopping gracefully")
		cancel()
	}()

	if err := run(ctx, rc, flags, logger); err != nil {
		logger.Error("pipeline run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("pipeline stopped cleanly")
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.BoolVar(&f.debug, "debug", false, "enable debug logging")
	var statsIntervalSec int
	flag.IntVar(&statsIntervalSec, "stats-interval", 5, "statistics reporting interval (seconds)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: risad <config.json>")
		os.Exit(1)
	}
	f.configPath = flag.Arg(0)
	f.statsInterval = time.Duration(statsIntervalSec) * time.Second
	return f
}

// run builds the pipeline, starts it, and waits for either a clean
// end-to-end sentinel shutdown or a fatal stage error. The two are raced
// deliberately: Pipeline.Wait() only ever returns on a clean sentinel drain
// (internal/pipeline.Pipeline's own doc comment says as much), and a fatal
// error can leave sibling per-device workers parked forever on an empty
// queue with nothing left to push a sentinel into them — so a fatal trigger
// must win the race and return immediately rather than wait for Wait() to
// unblock on its own.
func run(ctx context.Context, rc *runConfig, flags cliFlags, logger *slog.Logger) error {
	ctx, rootCancel := context.WithCancel(ctx)
	notifier := fatal.New(rootCancel)

	rt, err := build(rc, logger, notifier)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	if err := rt.open(); err != nil {
		return fmt.Errorf("open receiver transports: %w", err)
	}

	rt.start(ctx)
	go reportStats(ctx, rt.recv, flags.statsInterval, logger)

	waited := make(chan struct{})
	go func() {
		rt.wait()
		close(waited)
	}()

	select {
	case <-waited:
		// Clean sentinel shutdown reached the writer.
	case <-ctx.Done():
		if err := notifier.Err(); err != nil {
			rootCancel()
			if closeErr := rt.close(); closeErr != nil {
				logger.Error("writer close failed", "error", closeErr)
			}
			return err
		}
		// Context was cancelled by a signal, not a fatal error: still wait
		// for the sentinel to drain through so every Image gets released.
		<-waited
	}

	rootCancel()
	return rt.close()
}

func printBanner(flags cliFlags, rc *runConfig) {
	fmt.Println("============================================================")
	fmt.Printf("  RISA reconstruction pipeline %s\n", version)
	fmt.Println("============================================================")
	fmt.Printf("  Config:            %s\n", flags.configPath)
	fmt.Printf("  Modules:           %d (%d detectors each)\n", rc.Modules, rc.DetectorsPerModule)
	fmt.Printf("  Planes:            %d\n", rc.Planes)
	fmt.Printf("  Projections/frame: %d\n", rc.ProjectionsPerFrame)
	fmt.Printf("  Devices:           %v\n", rc.Devices)
	fmt.Printf("  Output pixels:     %dx%d\n", rc.NumberOfPixels, rc.NumberOfPixels)
	fmt.Printf("  Output dir:        %s\n", rc.OutputDir)
	fmt.Println("  Pipeline: Receiver -> H2D -> Reordering -> Attenuation ->")
	fmt.Println("            DetectorInterpolation -> Filter -> Backprojection ->")
	fmt.Println("            Masking -> D2H -> Writer")
	fmt.Println("  Press Ctrl+C to stop gracefully")
	fmt.Println("============================================================")
}
