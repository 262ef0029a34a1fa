package pipeline

import "context"

// Runnable is the lifecycle every Stage (and the Receiver's stage-shaped
// adapter) exposes to Pipeline: start workers, report when fully drained.
type Runnable interface {
	Start(ctx context.Context)
	Done() <-chan struct{}
}

// Pipeline is the thin chain-of-stages runner: typed chaining, sentinel
// routing, lifecycle. It does not itself move data — that is entirely
// Port/Stage's job — it only starts every stage's workers and waits for the
// chain to finish draining.
//
// Grounded on glados/include/glados/pipeline/Pipeline.h: the same
// connect/run/wait shape, with std::thread joins replaced by Done() channel
// waits (no raw thread handles are ever exposed by Stage).
type Pipeline struct {
	stages []Runnable
}

// NewPipeline creates an empty Pipeline.
func NewPipeline() *Pipeline { return &Pipeline{} }

// Add registers a stage (or any Runnable) to be started and waited on. Add
// stages in upstream-to-downstream order so logs read naturally; order does
// not affect correctness since stages only communicate through the Ports
// they were Connect-ed with before Add.
func (p *Pipeline) Add(r Runnable) {
	p.stages = append(p.stages, r)
}

// Start launches every registered stage's workers. Connect stages (via
// Stage.Output().Attach(next)) before calling Start.
func (p *Pipeline) Start(ctx context.Context) {
	for _, s := range p.stages {
		s.Start(ctx)
	}
}

// Wait blocks until every stage has forwarded its terminal sentinel and
// drained. This only returns on a clean end-to-end sentinel shutdown; a
// fatal error (internal/fatal) is a separate, process-terminating path that
// callers should also be watching for and must not wait on Wait() to
// observe (see internal/fatal.Notifier and cmd/risad).
func (p *Pipeline) Wait() {
	for _, s := range p.stages {
		<-s.Done()
	}
}
