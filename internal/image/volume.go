package image

import "fmt"

// Volume is the writer-only output aggregate: a stack of Images sharing
// width/height, with 2-D slice access by index. Volume does not
// participate in stage-to-stage flow; only writers build one, from Images
// already pulled off the pipeline's tail.
type Volume[T Element] struct {
	width, height int
	slices        []Image[T]
}

// NewVolume creates an empty Volume with the given per-slice dimensions.
func NewVolume[T Element](width, height int) *Volume[T] {
	return &Volume[T]{width: width, height: height}
}

// Append adds img to the volume. img's dimensions must match the volume's.
func (v *Volume[T]) Append(img Image[T]) error {
	if img.width != v.width || img.height != v.height {
		return fmt.Errorf("image: volume dimensions %dx%d, slice is %dx%d", v.width, v.height, img.width, img.height)
	}
	v.slices = append(v.slices, img)
	return nil
}

// Len returns the number of slices currently in the volume.
func (v *Volume[T]) Len() int { return len(v.slices) }

// Slice returns a pointer to the i-th 2-D slice for in-place access.
func (v *Volume[T]) Slice(i int) *Image[T] { return &v.slices[i] }

// Width and Height report the shared dimensions of every slice.
func (v *Volume[T]) Width() int  { return v.width }
func (v *Volume[T]) Height() int { return v.height }

// Release releases every slice's backing buffer. Call once the volume has
// been fully written out.
func (v *Volume[T]) Release() error {
	var firstErr error
	for i := range v.slices {
		if err := v.slices[i].Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	v.slices = nil
	return firstErr
}
