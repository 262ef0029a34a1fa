// Package writer defines the interface D2H's consumer writes reconstructed
// images through. On-disk result writers are out of scope for deep
// implementation; this package specifies only the interface at the
// pipeline's boundary.
package writer

import "github.com/e7canasta/risa/internal/image"

// Writer persists reconstructed images. Implementations own whatever
// buffering/batching they need; Write is called once per Image reaching the
// end of the pipeline, in whatever per-device FIFO order D2H delivers them;
// no global frame-index ordering is guaranteed downstream of the Receiver.
type Writer interface {
	Write(img *image.Image[float32]) error
	WriteVolume(v *image.Volume[float32]) error
	Close() error
}
