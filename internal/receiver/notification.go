package receiver

import (
	"context"
	"sync"
)

// notification tracks, per module, the highest frame index that module has
// fully received, and publishes, in order, every frame index below the
// lowest of those per-module marks. An index that some module skipped is
// published as well once that module completes a later frame;
// Receiver.assemble drops such a frame as a loss. Publication is through a
// bounded channel so a slow consumer
// applies backpressure to completion bookkeeping rather than growing
// without bound; the original's unexplained magic capacity (27) is resolved
// here by making it a constructor parameter, defaulting to
// DefaultNotificationDepth.
type notification struct {
	mu       sync.Mutex
	counters []int64 // per module, one past the highest completed frame index
	next     int64   // next frame index to publish once every counter clears it
	ready    chan int64
}

// DefaultNotificationDepth is the default notification ring capacity,
// carried over from the original implementation's unexplained constant.
const DefaultNotificationDepth = 27

func newNotification(modules, depth int) *notification {
	if depth <= 0 {
		depth = DefaultNotificationDepth
	}
	return &notification{
		counters: make([]int64, modules),
		ready:    make(chan int64, depth),
	}
}

// complete records that module has fully received frameIndex, and publishes
// every frame index that is now below every module's completion mark. It
// blocks (respecting ctx) only if the ready channel is full, i.e. the
// consumer (Receiver.assemble) has fallen behind the notification capacity.
func (n *notification) complete(ctx context.Context, module int, frameIndex int64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if frameIndex+1 > n.counters[module] {
		n.counters[module] = frameIndex + 1
	}

	for {
		min := n.counters[0]
		for _, c := range n.counters[1:] {
			if c < min {
				min = c
			}
		}
		if min <= n.next {
			return
		}
		idx := n.next
		select {
		case n.ready <- idx:
			n.next++
		case <-ctx.Done():
			return
		}
	}
}
