// Package pipeline implements the typed chaining, sentinel routing, and
// per-accelerator worker lifecycle that glues compute stages together.
//
// Grounded on glados/include/glados/pipeline/{Stage,Port,Pipeline,InputSide,
// OutputSide}.h, with one deliberate redesign: signalling end-of-stream via
// an invalid-flagged Image is a C++-ism; it is cleaner in Go to model the
// wire type as Message = Data(Image) | EndOfStream, eliminating the
// valid-bit invariant entirely. Message[T] is that wire type, flowing
// through every queue and Port and decoupling end-of-stream signalling from
// image.Image's own validity.
package pipeline

// Message[T] is either a data payload or the end-of-stream sentinel.
// Exactly one sentinel flows from a stage's logical source to each of its
// outputs per run.
type Message[T any] struct {
	value T
	end   bool
}

// Data wraps a payload as a regular (non-terminal) message.
func Data[T any](v T) Message[T] { return Message[T]{value: v} }

// EndOfStream constructs the terminal sentinel message for type T.
func EndOfStream[T any]() Message[T] { return Message[T]{end: true} }

// IsEnd reports whether m is the terminal sentinel.
func (m Message[T]) IsEnd() bool { return m.end }

// Value returns the payload. Calling Value on a sentinel message returns
// the zero value of T; callers must check IsEnd first.
func (m Message[T]) Value() T { return m.value }
