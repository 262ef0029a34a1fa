package receiver

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/e7canasta/risa/internal/fatal"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// chanTransport is an in-memory Transport for tests: records are delivered
// one at a time over a channel, letting a test control exact packet arrival
// without a real socket.
type chanTransport struct {
	records chan []byte
	closed  chan struct{}
}

func newChanTransport() *chanTransport {
	return &chanTransport{records: make(chan []byte, 64), closed: make(chan struct{})}
}

func (t *chanTransport) ReadPacket(buf []byte) (int, error) {
	select {
	case rec, ok := <-t.records:
		if !ok {
			return 0, io.EOF
		}
		n := copy(buf, rec)
		return n, nil
	case <-t.closed:
		return 0, io.EOF
	}
}

func (t *chanTransport) Close() error {
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	return nil
}

func (t *chanTransport) send(rec []byte) { t.records <- rec }

func encodePacket(moduleID uint16, projectionIndex, sampleOffset uint32, payload []uint16) []byte {
	buf := make([]byte, packetHeaderSize+len(payload)*2)
	binary.NativeEndian.PutUint16(buf[0:2], moduleID)
	binary.NativeEndian.PutUint32(buf[2:6], projectionIndex)
	binary.NativeEndian.PutUint32(buf[6:10], sampleOffset)
	for i, v := range payload {
		binary.NativeEndian.PutUint16(buf[packetHeaderSize+i*2:], v)
	}
	return buf
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sink is a terminal pipeline.Consumer that forwards every frame it receives
// onto a channel, and closes a second channel on the terminal sentinel.
type sink struct {
	frames chan *image.Image[uint16]
	ended  chan struct{}
}

func newSink() *sink {
	return &sink{frames: make(chan *image.Image[uint16], 16), ended: make(chan struct{})}
}

func (s *sink) Process(msg pipeline.Message[*image.Image[uint16]]) {
	if msg.IsEnd() {
		close(s.ended)
		return
	}
	s.frames <- msg.Value()
}

func newTestReceiver(t *testing.T, cfg Config, modules int) (*Receiver, []*chanTransport) {
	t.Helper()
	pool := mempool.New()
	reg := pool.Register(0, 8, cfg.Modules*cfg.DetectorsPerModule*cfg.ProjectionsPerFrame, 2)
	notifier := fatal.New(func() {})
	r := New(cfg, pool, reg, testLogger(), notifier)

	transports := make([]*chanTransport, modules)
	ts := make([]Transport, modules)
	for i := range transports {
		transports[i] = newChanTransport()
		ts[i] = transports[i]
	}
	r.useTransports(ts)
	return r, transports
}

func TestReceiverAssemblesSingleModuleFrame(t *testing.T) {
	cfg := Config{
		Modules:             1,
		DetectorsPerModule:  4,
		ProjectionsPerFrame: 2,
		Planes:              2,
		RingDepth:           4,
		NotificationDepth:   8,
	}
	r, transports := newTestReceiver(t, cfg, 1)
	out := newSink()
	r.Output().Attach(out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	transports[0].send(encodePacket(0, 0, 0, []uint16{1, 2, 3, 4}))
	transports[0].send(encodePacket(0, 1, 0, []uint16{5, 6, 7, 8}))

	var got *image.Image[uint16]
	select {
	case got = <-out.frames:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembled frame")
	}

	if got.Index() != 0 {
		t.Fatalf("index = %d, want 0", got.Index())
	}
	if got.Plane() != 0 {
		t.Fatalf("plane = %d, want 0", got.Plane())
	}
	want := []uint16{1, 2, 3, 4, 5, 6, 7, 8}
	data := got.Slice()
	for i, v := range want {
		if data[i] != v {
			t.Fatalf("data[%d] = %d, want %d", i, data[i], v)
		}
	}
	got.Release()

	if r.Forwarded() != 1 {
		t.Fatalf("Forwarded() = %d, want 1", r.Forwarded())
	}

	cancel()
	select {
	case <-out.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never saw sentinel")
	}
}

func TestReceiverTwoModuleStitching(t *testing.T) {
	cfg := Config{
		Modules:             2,
		DetectorsPerModule:  2,
		ProjectionsPerFrame: 1,
		Planes:              2,
		RingDepth:           4,
		NotificationDepth:   8,
	}
	r, transports := newTestReceiver(t, cfg, 2)
	out := newSink()
	r.Output().Attach(out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	transports[0].send(encodePacket(0, 0, 0, []uint16{10, 20}))
	transports[1].send(encodePacket(1, 0, 0, []uint16{30, 40}))

	var got *image.Image[uint16]
	select {
	case got = <-out.frames:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assembled frame")
	}

	want := []uint16{10, 20, 30, 40}
	data := got.Slice()
	for i, v := range want {
		if data[i] != v {
			t.Fatalf("data[%d] = %d, want %d (module interleaving)", i, data[i], v)
		}
	}
	got.Release()
	cancel()
}

func TestReceiverLossOnStaleFrame(t *testing.T) {
	cfg := Config{
		Modules:             1,
		DetectorsPerModule:  2,
		ProjectionsPerFrame: 1,
		Planes:              2,
		RingDepth:           2,
		NotificationDepth:   8,
	}
	r, transports := newTestReceiver(t, cfg, 1)
	out := newSink()
	r.Output().Attach(out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	// Frame 0 completes, then frame 2 lands in the same ring slot (depth 2)
	// and may overwrite it before frame 0 is assembled; since the notification channel is
	// itself bounded and fed synchronously from ingest, force the overwrite
	// by sending frames 0..2 before draining any.
	transports[0].send(encodePacket(0, 0, 0, []uint16{1, 2}))
	transports[0].send(encodePacket(0, 1, 0, []uint16{3, 4}))
	transports[0].send(encodePacket(0, 2, 0, []uint16{5, 6}))

	// Drain whatever the receiver manages to forward; frame 0 may or may not
	// survive depending on scheduler timing, but Loss()+Forwarded() must
	// together account for every completed frame.
	deadline := time.After(2 * time.Second)
	received := 0
loop:
	for received < 1 {
		select {
		case <-out.frames:
			received++
		case <-deadline:
			break loop
		}
	}

	accounted := time.After(2 * time.Second)
	for r.Loss()+r.Forwarded() < 3 {
		select {
		case <-accounted:
			t.Fatalf("Loss()+Forwarded() = %d, want 3", r.Loss()+r.Forwarded())
		case <-time.After(time.Millisecond):
		}
	}
	if got := r.Loss() + r.Forwarded(); got != 3 {
		t.Fatalf("Loss()+Forwarded() = %d, want 3", got)
	}
	cancel()
}
