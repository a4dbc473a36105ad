package value_test

import (
	"errors"
	"testing"

	"miri/internal/value"
)

func TestAllocation_ZeroInitialised(t *testing.T) {
	a := value.NewAllocation(16, 8)
	b, err := a.ReadBytes(0, 16)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	for i, c := range b {
		if c != 0 {
			t.Fatalf("byte %d = %d, want 0", i, c)
		}
	}
}

func TestAllocation_Bounds(t *testing.T) {
	a := value.Zeroed(8)
	tests := []struct {
		name string
		fn   func() error
	}{
		{"read past end", func() error { _, err := a.ReadBytes(4, 8); return err }},
		{"negative offset", func() error { _, err := a.ReadUint(-1, 1); return err }},
		{"write past end", func() error { return a.WriteUint(6, 4, 1) }},
		{"odd scalar size", func() error { return a.WriteUint(0, 3, 1) }},
		{"pointer past end", func() error { _, err := a.ReadPointer(4, 8); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, value.ErrInvalidAccess) {
				t.Fatalf("expected ErrInvalidAccess, got %v", err)
			}
			var aerr *value.AccessError
			if !errors.As(err, &aerr) || aerr.Size != 8 {
				t.Fatalf("expected *AccessError with size 8, got %#v", err)
			}
		})
	}
}

func TestAllocation_ScalarRoundTrip(t *testing.T) {
	a := value.Zeroed(16)
	if err := a.WriteUint(0, 2, 0xfffe); err != nil {
		t.Fatal(err)
	}
	got, err := a.ReadInt(0, 2)
	if err != nil || got != -2 {
		t.Fatalf("ReadInt = %d, %v; want -2", got, err)
	}
	if err := a.WriteFloat64(8, 1.5); err != nil {
		t.Fatal(err)
	}
	f, err := a.ReadFloat64(8)
	if err != nil || f != 1.5 {
		t.Fatalf("ReadFloat64 = %v, %v", f, err)
	}
	raw, _ := a.ReadBytes(0, 2)
	if raw[0] != 0xfe || raw[1] != 0xff {
		t.Fatalf("expected little-endian bytes, got %x", raw)
	}
}

func TestAllocation_SplitPointerRejected(t *testing.T) {
	target := value.Zeroed(4)
	a := value.Zeroed(16)
	if err := a.WritePointer(0, 8, value.AllocPointer(target).Add(2)); err != nil {
		t.Fatal(err)
	}

	if _, err := a.ReadBytes(4, 4); !errors.Is(err, value.ErrSplitPointer) {
		t.Fatalf("raw read over relocation: got %v, want ErrSplitPointer", err)
	}
	if _, err := a.ReadUint(0, 8); !errors.Is(err, value.ErrSplitPointer) {
		t.Fatalf("integer read of pointer: got %v, want ErrSplitPointer", err)
	}
	if _, err := a.ReadPointer(4, 8); !errors.Is(err, value.ErrSplitPointer) {
		t.Fatalf("misaligned pointer read: got %v, want ErrSplitPointer", err)
	}
	if _, err := a.ReadValue(4, 8); !errors.Is(err, value.ErrSplitPointer) {
		t.Fatalf("partial value copy: got %v, want ErrSplitPointer", err)
	}

	p, err := a.ReadPointer(0, 8)
	if err != nil {
		t.Fatalf("ReadPointer: %v", err)
	}
	if p.Kind != value.PointerAlloc || p.Alloc != target || p.Offset != 2 {
		t.Fatalf("unexpected pointer %v", p)
	}
}

func TestAllocation_OverwriteKillsProvenance(t *testing.T) {
	a := value.Zeroed(8)
	if err := a.WritePointer(0, 8, value.StaticPointer("FOO")); err != nil {
		t.Fatal(err)
	}
	if err := a.WriteBytes(3, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if n := len(a.Relocations()); n != 0 {
		t.Fatalf("expected relocation removed, have %d", n)
	}
	p, err := a.ReadPointer(0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if p.Kind != value.PointerNone || p.Offset != 1<<24 {
		t.Fatalf("expected raw address 0x1000000, got %v", p)
	}
}

func TestAllocation_ValueCopyRebasesRelocations(t *testing.T) {
	target := value.Zeroed(1)
	src := value.Zeroed(24)
	if err := src.WritePointer(8, 8, value.AllocPointer(target)); err != nil {
		t.Fatal(err)
	}
	part, err := src.ReadValue(8, 16)
	if err != nil {
		t.Fatal(err)
	}
	rel := part.Relocations()
	if len(rel) != 1 || rel[0].Offset != 0 {
		t.Fatalf("expected relocation rebased to 0, got %+v", rel)
	}

	dst := value.Zeroed(32)
	if err := dst.WriteValue(16, part); err != nil {
		t.Fatal(err)
	}
	p, err := dst.ReadPointer(16, 8)
	if err != nil || p.Alloc != target {
		t.Fatalf("ReadPointer after copy = %v, %v", p, err)
	}

	if err := dst.CopyWithin(0, 16, 16); err != nil {
		t.Fatal(err)
	}
	if got := len(dst.Relocations()); got != 2 {
		t.Fatalf("expected 2 relocations after CopyWithin, got %d", got)
	}
}

func TestAllocation_UseAfterFree(t *testing.T) {
	a := value.Zeroed(4)
	if err := a.Free(); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ReadUint(0, 4); !errors.Is(err, value.ErrUseAfterFree) {
		t.Fatalf("got %v, want ErrUseAfterFree", err)
	}
	if err := a.Free(); !errors.Is(err, value.ErrUseAfterFree) {
		t.Fatalf("double free: got %v", err)
	}
}

func TestEqual(t *testing.T) {
	t1 := value.Zeroed(1)
	t2 := value.Zeroed(1)
	mk := func(target *value.Allocation) *value.Allocation {
		a := value.Zeroed(8)
		_ = a.WritePointer(0, 8, value.AllocPointer(target))
		return a
	}
	if !value.Equal(mk(t1), mk(t1)) {
		t.Fatal("same target should be equal")
	}
	if value.Equal(mk(t1), mk(t2)) {
		t.Fatal("different provenance should not be equal")
	}
	if value.Equal(mk(t1), value.Zeroed(8)) {
		t.Fatal("pointer vs raw zero should not be equal")
	}
	c := mk(t1).Clone()
	if !value.Equal(c, mk(t1)) {
		t.Fatal("clone should be equal")
	}
}

func TestImage_RoundTrip(t *testing.T) {
	a := value.Zeroed(16)
	_ = a.WriteUint(0, 4, 42)
	_ = a.WritePointer(8, 8, value.FunctionPointer("main"))
	img, err := a.Image()
	if err != nil {
		t.Fatal(err)
	}
	b, err := value.FromImage(img)
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(a, b) {
		t.Fatal("image round trip changed the value")
	}

	heap := value.Zeroed(8)
	_ = heap.WritePointer(0, 8, value.AllocPointer(value.Zeroed(1)))
	if _, err := heap.Image(); err == nil {
		t.Fatal("expected error serialising an allocation pointer")
	}
}
