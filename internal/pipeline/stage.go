package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/e7canasta/risa/internal/device"
	"github.com/e7canasta/risa/internal/fatal"
	"github.com/e7canasta/risa/internal/queue"
)

// Handle is the constraint on a Stage's input type: it must be able to
// report which accelerator currently owns it, so Process can route it to
// the right per-device worker queue.
type Handle interface {
	Device() device.ID
}

// Transform is the per-accelerator kernel a Stage wraps. It is handed the
// device it is running on (so the same Transform can branch on it if
// needed) and the input payload, and returns the output payload or a fatal
// error. A non-nil error is always treated as fatal — there is no
// distinction at this layer between "retryable" and "fatal"; compute
// stages do not retry.
type Transform[In Handle, Out any] func(ctx context.Context, dev device.ID, in In) (Out, error)

// Stage is the generic per-accelerator worker skeleton: one bounded input
// queue per accelerator, one worker goroutine per accelerator, and a single
// logical output reached through Port. Every concrete stage (H2D,
// Reordering, Attenuation, ...) is an instantiation of Stage with a
// specific Transform.
type Stage[In Handle, Out any] struct {
	Name    string
	Devices device.Set

	// Priority is a worker log-verbosity hint carried over from the
	// original design's per-stream scheduler priorities. There is no real
	// async-stream scheduler to bias in this CPU-only reimplementation, so
	// it does not affect scheduling or worker startup order; the worker
	// loop uses it only to pick Debug- vs Info-level logging on exit.
	// Defaults to 0.
	Priority int

	transform Transform[In, Out]
	logger    *slog.Logger
	fatal     *fatal.Notifier

	inputs map[device.ID]*queue.Queue[Message[In]]
	out    *Port[Out]

	wg   sync.WaitGroup
	done chan struct{}
}

// NewStage constructs a Stage with one bounded input queue (capacity
// queueDepth; 0 means unbounded) per device in devices.
func NewStage[In Handle, Out any](name string, devices device.Set, queueDepth int, transform Transform[In, Out], logger *slog.Logger, notifier *fatal.Notifier) *Stage[In, Out] {
	s := &Stage[In, Out]{
		Name:      name,
		Devices:   devices,
		transform: transform,
		logger:    logger,
		fatal:     notifier,
		inputs:    make(map[device.ID]*queue.Queue[Message[In]], len(devices)),
		out:       NewPort[Out](),
		done:      make(chan struct{}),
	}
	for _, d := range devices {
		s.inputs[d] = queue.New[Message[In]](queueDepth)
	}
	return s
}

// Output is the Port downstream stages attach to via Output().Attach(next).
func (s *Stage[In, Out]) Output() *Port[Out] { return s.out }

// Process implements Consumer[In]: it is what an upstream Port calls. A
// data message is routed to the worker queue of the device that owns it.
// The terminal sentinel is broadcast to every one of this stage's worker
// queues exactly once each — after this call returns, no further data
// message should be sent to this stage.
func (s *Stage[In, Out]) Process(msg Message[In]) {
	if msg.IsEnd() {
		for _, d := range s.Devices {
			s.inputs[d].Push(EndOfStream[In]())
		}
		return
	}

	dev := msg.Value().Device()
	q, ok := s.inputs[dev]
	if !ok {
		s.logger.Error("stage received input for unregistered device",
			"stage", s.Name, "device", dev.String())
		return
	}
	q.Push(msg)
}

// Start spawns one worker goroutine per device plus a supervisor goroutine
// that waits for every worker to drain its sentinel and then publishes
// exactly one sentinel downstream — ordered, lossless shutdown.
// Start returns immediately.
func (s *Stage[In, Out]) Start(ctx context.Context) {
	s.wg.Add(len(s.Devices))
	for _, d := range s.Devices {
		go s.worker(ctx, d)
	}
	go func() {
		s.wg.Wait()
		s.out.Send(EndOfStream[Out]())
		close(s.done)
	}()
}

// Done reports when this stage has forwarded its terminal sentinel and
// every worker has exited.
func (s *Stage[In, Out]) Done() <-chan struct{} { return s.done }

func (s *Stage[In, Out]) worker(ctx context.Context, dev device.ID) {
	defer s.wg.Done()
	q := s.inputs[dev]

	for {
		msg := q.Take()
		if msg.IsEnd() {
			if s.Priority > 0 {
				s.logger.Info("stage worker exiting on sentinel", "stage", s.Name, "device", dev.String(), "priority", s.Priority)
			} else {
				s.logger.Debug("stage worker exiting on sentinel", "stage", s.Name, "device", dev.String())
			}
			return
		}

		out, err := s.transform(ctx, dev, msg.Value())
		if err != nil {
			s.logger.Error("stage transform failed", "stage", s.Name, "device", dev.String(), "error", err)
			s.fatal.Trigger(s.Name, err)
			return
		}
		s.out.Send(Data(out))
	}
}
