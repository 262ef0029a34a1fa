// Package receiver implements the UDP/TCP ingestion and sinogram assembly
// front end: one Transport per detector module, a per-module ring buffer,
// and a notification that publishes a frame index once every module has
// received it in full.
//
// Grounded on risaLib/src/UDPReceiver/{Receiver,ReceiverModule}.{h,cpp} for
// the ring-buffer/notification shape, and on the ctx.Done()-select
// read-loop idiom from stream-capture/internal/rtsp/reconnect.go for
// per-module goroutine lifecycle.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/risa/internal/fatal"
	"github.com/e7canasta/risa/internal/image"
	"github.com/e7canasta/risa/internal/mempool"
	"github.com/e7canasta/risa/internal/pipeline"
)

// Config is the subset of the run configuration the Receiver needs, read by
// cmd/risad out of internal/config and passed in explicitly.
type Config struct {
	Modules            int      // M: number of detector modules
	DetectorsPerModule int      // number_of_fan_detectors / Modules
	ProjectionsPerFrame int     // sampling_rate*1e6 / scan_rate
	Planes             int      // number_of_planes
	RingDepth          int      // B: inputBufferSize, in projection periods (frames)
	NotificationDepth  int      // 0 means DefaultNotificationDepth
	Protocol           string   // "udp" (default) or "tcp"
	Addrs              []string // one listen address per module, len == Modules
}

// Receiver is the pipeline's source stage: it has no upstream Port, only an
// Output().
type Receiver struct {
	cfg    Config
	pool   *mempool.Pool
	reg    mempool.Registration
	logger *slog.Logger
	fatal  *fatal.Notifier

	transports []Transport

	moduleMu  []sync.Mutex
	rings     [][]uint16 // one flat ring per module: RingDepth*ProjectionsPerFrame*DetectorsPerModule
	slotFrame [][]int64  // which frame index currently occupies each ring slot
	slotCount [][]int32  // samples received so far for that slot's occupant

	notif    *notification
	frontier atomic.Int64

	loss      atomic.Uint64
	forwarded atomic.Uint64
	highest   atomic.Int64

	out  *pipeline.Port[*image.Image[uint16]]
	wg   sync.WaitGroup
	done chan struct{}
}

// New constructs a Receiver. reg must be a mempool registration for u16
// buffers of size Modules*DetectorsPerModule*ProjectionsPerFrame elements.
func New(cfg Config, pool *mempool.Pool, reg mempool.Registration, logger *slog.Logger, notifier *fatal.Notifier) *Receiver {
	r := &Receiver{
		cfg:       cfg,
		pool:      pool,
		reg:       reg,
		logger:    logger,
		fatal:     notifier,
		moduleMu:  make([]sync.Mutex, cfg.Modules),
		rings:     make([][]uint16, cfg.Modules),
		slotFrame: make([][]int64, cfg.Modules),
		slotCount: make([][]int32, cfg.Modules),
		notif:     newNotification(cfg.Modules, cfg.NotificationDepth),
		out:       pipeline.NewPort[*image.Image[uint16]](),
		done:      make(chan struct{}),
	}
	r.highest.Store(-1)

	ringLen := cfg.RingDepth * cfg.ProjectionsPerFrame * cfg.DetectorsPerModule
	for m := 0; m < cfg.Modules; m++ {
		r.rings[m] = make([]uint16, ringLen)
		r.slotFrame[m] = make([]int64, cfg.RingDepth)
		for i := range r.slotFrame[m] {
			r.slotFrame[m][i] = -1
		}
		r.slotCount[m] = make([]int32, cfg.RingDepth)
	}
	return r
}

// Open dials every module's Transport. Dial failures here are configuration/
// startup errors: the caller should log and exit before Start.
func (r *Receiver) Open() error {
	r.transports = make([]Transport, r.cfg.Modules)
	for i := 0; i < r.cfg.Modules; i++ {
		t, err := Dial(r.cfg.Protocol, r.cfg.Addrs[i])
		if err != nil {
			return fmt.Errorf("receiver: module %d: %w", i, err)
		}
		r.transports[i] = t
	}
	return nil
}

// useTransports lets tests inject in-memory transports instead of dialing
// real sockets via Open.
func (r *Receiver) useTransports(ts []Transport) {
	r.transports = ts
}

// Output is the Port downstream (H2D) attaches to.
func (r *Receiver) Output() *pipeline.Port[*image.Image[uint16]] { return r.out }

// Done reports when the Receiver has forwarded its terminal sentinel.
func (r *Receiver) Done() <-chan struct{} { return r.done }

// Loss returns the running count of frames dropped because their ring slot
// was overwritten, or never filled completely, before assembly.
func (r *Receiver) Loss() uint64 { return r.loss.Load() }

// Forwarded returns the running count of Images published downstream.
func (r *Receiver) Forwarded() uint64 { return r.forwarded.Load() }

// Start launches one read goroutine per module plus the assembly loop.
// Open (or useTransports) must have been called first.
func (r *Receiver) Start(ctx context.Context) {
	for i := range r.transports {
		r.wg.Add(1)
		go r.moduleLoop(ctx, i)
	}
	go func() {
		r.assembleLoop(ctx)
		// assembleLoop only returns on cancellation; close every transport
		// (here only, not in moduleLoop) so module loops blocked in
		// ReadPacket wake up and exit.
		for _, t := range r.transports {
			t.Close()
		}
		r.wg.Wait()
		r.out.Send(pipeline.EndOfStream[*image.Image[uint16]]())
		close(r.done)
	}()
}

func (r *Receiver) moduleLoop(ctx context.Context, module int) {
	defer r.wg.Done()
	t := r.transports[module]

	recordSize := packetHeaderSize + r.cfg.DetectorsPerModule*2
	buf := make([]byte, recordSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.ReadPacket(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("receiver: module read error", "module", module, "error", err)
			continue
		}

		pkt, err := decodePacket(buf[:n])
		if err != nil {
			r.logger.Warn("receiver: malformed packet", "module", module, "error", err)
			continue
		}
		r.ingest(ctx, module, pkt)
	}
}

func (r *Receiver) ingest(ctx context.Context, module int, pkt Packet) {
	detectorsPerModule := r.cfg.DetectorsPerModule
	frameIdx := int64(pkt.ProjectionIndex) / int64(r.cfg.ProjectionsPerFrame)
	projInFrame := int(pkt.ProjectionIndex) % r.cfg.ProjectionsPerFrame
	slot := int(frameIdx % int64(r.cfg.RingDepth))

	atomicMax(&r.frontier, frameIdx)

	r.moduleMu[module].Lock()
	if r.slotFrame[module][slot] != frameIdx {
		r.slotFrame[module][slot] = frameIdx
		r.slotCount[module][slot] = 0
	}

	projBase := slot*r.cfg.ProjectionsPerFrame*detectorsPerModule + projInFrame*detectorsPerModule
	offset := int(pkt.SampleOffset)
	if offset < 0 || offset+len(pkt.Payload) > detectorsPerModule {
		r.moduleMu[module].Unlock()
		r.logger.Warn("receiver: packet payload out of range, dropped",
			"module", module, "offset", offset, "payload_len", len(pkt.Payload))
		return
	}
	copy(r.rings[module][projBase+offset:projBase+offset+len(pkt.Payload)], pkt.Payload)
	r.slotCount[module][slot] += int32(len(pkt.Payload))
	complete := int(r.slotCount[module][slot]) >= detectorsPerModule*r.cfg.ProjectionsPerFrame
	r.moduleMu[module].Unlock()

	if complete {
		r.notif.complete(ctx, module, frameIdx)
	}
}

func (r *Receiver) assembleLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case idx := <-r.notif.ready:
			img, err := r.assemble(idx)
			if err != nil {
				r.loss.Add(1)
				r.logger.Warn("receiver: frame dropped", "index", idx, "error", err)
				continue
			}
			atomicMax(&r.highest, idx)
			r.forwarded.Add(1)
			r.out.Send(pipeline.Data(img))
		}
	}
}

// assemble stitches one completed frame out of every module's ring buffer
// into a single sinogram Image — the original's loadImage operation.
func (r *Receiver) assemble(idx int64) (*image.Image[uint16], error) {
	if r.frontier.Load()-idx >= int64(r.cfg.RingDepth) {
		return nil, fmt.Errorf("frame %d is older than the ring depth, slot overwritten", idx)
	}

	totalDetectors := r.cfg.Modules * r.cfg.DetectorsPerModule
	img, err := image.Request[uint16](r.pool, r.reg, totalDetectors, r.cfg.ProjectionsPerFrame)
	if err != nil {
		return nil, err
	}
	out := img.Slice()
	slot := int(idx % int64(r.cfg.RingDepth))

	for m := 0; m < r.cfg.Modules; m++ {
		r.moduleMu[m].Lock()
		if r.slotFrame[m][slot] != idx || int(r.slotCount[m][slot]) < r.cfg.ProjectionsPerFrame*r.cfg.DetectorsPerModule {
			r.moduleMu[m].Unlock()
			img.Release()
			return nil, fmt.Errorf("frame %d incomplete or overwritten in module %d before assembly", idx, m)
		}
		base := slot * r.cfg.ProjectionsPerFrame * r.cfg.DetectorsPerModule
		moduleData := r.rings[m][base : base+r.cfg.ProjectionsPerFrame*r.cfg.DetectorsPerModule]
		r.moduleMu[m].Unlock()

		for p := 0; p < r.cfg.ProjectionsPerFrame; p++ {
			srcBase := p * r.cfg.DetectorsPerModule
			dstBase := p*totalDetectors + m*r.cfg.DetectorsPerModule
			copy(out[dstBase:dstBase+r.cfg.DetectorsPerModule], moduleData[srcBase:srcBase+r.cfg.DetectorsPerModule])
		}
	}

	img.SetIdx(idx)
	img.SetPlane(int(idx % int64(r.cfg.Planes)))
	img.SetStart(time.Now())
	img.SetTraceID(uuid.New().String())
	return &img, nil
}

func atomicMax(a *atomic.Int64, v int64) {
	for {
		cur := a.Load()
		if v <= cur {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}
