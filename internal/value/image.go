package value

import (
	"fmt"
	"slices"
)

// ImageReloc is the serialisable form of a relocation. Only static and
// function targets can be serialised.
type ImageReloc struct {
	Offset int         `msgpack:"off"`
	Size   int         `msgpack:"size"`
	Kind   PointerKind `msgpack:"kind"`
	Path   string      `msgpack:"path"`
}

// Image is the serialisable form of an allocation used by module images
// and static initialisers.
type Image struct {
	Bytes  []byte       `msgpack:"bytes"`
	Align  int          `msgpack:"align,omitempty"`
	Relocs []ImageReloc `msgpack:"relocs,omitempty"`
}

// Image returns the serialisable form of a. Pointers into heap or stack
// allocations have no stable name and are rejected.
func (a *Allocation) Image() (Image, error) {
	if a.freed {
		return Image{}, accessErr(ErrUseAfterFree, 0, 0, len(a.bytes))
	}
	img := Image{Bytes: slices.Clone(a.bytes), Align: a.align}
	for _, r := range a.relocs {
		if r.Target.Kind != PointerStatic && r.Target.Kind != PointerFunction {
			return Image{}, fmt.Errorf("relocation at %d targets %s: not serialisable", r.Offset, r.Target.Kind)
		}
		img.Relocs = append(img.Relocs, ImageReloc{
			Offset: r.Offset,
			Size:   r.Size,
			Kind:   r.Target.Kind,
			Path:   r.Target.Path,
		})
	}
	return img, nil
}

// FromImage materialises an image into a fresh allocation.
func FromImage(img Image) (*Allocation, error) {
	a := NewAllocation(len(img.Bytes), img.Align)
	copy(a.bytes, img.Bytes)
	prevEnd := 0
	for i, r := range img.Relocs {
		if r.Kind != PointerStatic && r.Kind != PointerFunction {
			return nil, fmt.Errorf("relocation %d: unsupported target kind %s", i, r.Kind)
		}
		if !validScalar(r.Size) || r.Offset < prevEnd || r.Offset+r.Size > len(a.bytes) {
			return nil, fmt.Errorf("relocation %d: %w", i, accessErr(ErrSplitPointer, r.Offset, r.Size, len(a.bytes)))
		}
		prevEnd = r.Offset + r.Size
		a.relocs = append(a.relocs, Relocation{
			Offset: r.Offset,
			Size:   r.Size,
			Target: Pointer{Kind: r.Kind, Path: r.Path},
		})
	}
	return a, nil
}
