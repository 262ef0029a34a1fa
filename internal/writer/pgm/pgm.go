// Package pgm is the in-tree reference Writer implementation: one PGM
// ("P5", 16-bit greyscale) file per frame index, written to a configured
// output directory. It exists to exercise and test the pipeline end-to-end
// without pulling in an external image codec — PGM's ASCII header plus raw
// sample body needs nothing beyond encoding/binary and the standard
// library.
//
// Grounded on the original's glados/include/glados/imageSavers/TIFF/TIFF.h
// shape: a thin, format-specific writer behind a common interface
// (internal/writer.Writer), with one file per reconstructed image.
package pgm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/e7canasta/risa/internal/image"
)

// Writer writes each Image as a 16-bit PGM file named frame_<index>.pgm
// under Dir. f32 samples are linearly rescaled to [0, 65535] using the
// per-image min/max, since PGM has no native floating-point sample format.
type Writer struct {
	Dir string
}

// New creates a Writer rooted at dir, creating it if necessary.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pgm: create output dir %s: %w", dir, err)
	}
	return &Writer{Dir: dir}, nil
}

// Write persists one Image as P5 PGM.
func (w *Writer) Write(img *image.Image[float32]) error {
	path := filepath.Join(w.Dir, fmt.Sprintf("frame_%06d.pgm", img.Index()))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("pgm: create %s: %w", path, err)
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	if err := writePGM(buf, img.Slice(), img.Width(), img.Height()); err != nil {
		return fmt.Errorf("pgm: write %s: %w", path, err)
	}
	return buf.Flush()
}

// WriteVolume persists every slice of v as its own PGM file, named
// frame_<index>_<slot>.pgm.
func (w *Writer) WriteVolume(v *image.Volume[float32]) error {
	for i := 0; i < v.Len(); i++ {
		slice := v.Slice(i)
		path := filepath.Join(w.Dir, fmt.Sprintf("frame_%06d_%03d.pgm", slice.Index(), i))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("pgm: create %s: %w", path, err)
		}
		bw := bufio.NewWriter(f)
		err = writePGM(bw, slice.Slice(), slice.Width(), slice.Height())
		if err == nil {
			err = bw.Flush()
		}
		f.Close()
		if err != nil {
			return fmt.Errorf("pgm: write %s: %w", path, err)
		}
	}
	return nil
}

// Close is a no-op: Writer opens and closes one file per call, there is no
// persistent handle to release.
func (w *Writer) Close() error { return nil }

func writePGM(buf *bufio.Writer, data []float32, width, height int) error {
	if len(data) != width*height {
		return fmt.Errorf("element count %d does not match %dx%d", len(data), width, height)
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := float64(65535)
	span := float64(hi - lo)
	if span == 0 {
		span = 1
	}

	if _, err := fmt.Fprintf(buf, "P5\n%d %d\n65535\n", width, height); err != nil {
		return err
	}

	var sample [2]byte
	for _, v := range data {
		norm := (float64(v) - float64(lo)) / span
		u := uint16(math.Round(norm * scale))
		binary.BigEndian.PutUint16(sample[:], u)
		if _, err := buf.Write(sample[:]); err != nil {
			return err
		}
	}
	return nil
}
