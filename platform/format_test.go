package platform

import "testing"

func TestIntersectPreservesOrderOfA(t *testing.T) {
	a := []uint64{5, 1, 2, 3}
	b := []uint64{3, 2, 9}
	got := Intersect(a, b)
	want := []uint64{2, 3}
	if len(got) != len(want) {
		t.Fatalf("Intersect(%v, %v) = %v, want %v", a, b, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Intersect(%v, %v) = %v, want %v", a, b, got, want)
		}
	}
}

func TestIntersectEmpty(t *testing.T) {
	if got := Intersect(nil, []uint64{1, 2}); len(got) != 0 {
		t.Errorf("Intersect(nil, ...) = %v, want empty", got)
	}
	if got := Intersect([]uint64{1, 2}, nil); len(got) != 0 {
		t.Errorf("Intersect(..., nil) = %v, want empty", got)
	}
}

func TestContains(t *testing.T) {
	list := []uint64{ModifierLinear, 7, 9}
	if !Contains(list, ModifierLinear) {
		t.Error("Contains: expected true for present element")
	}
	if Contains(list, 42) {
		t.Error("Contains: expected false for absent element")
	}
	if Contains(nil, 0) {
		t.Error("Contains(nil, ...) should be false")
	}
}

func TestFormatAllModifiers(t *testing.T) {
	f := Format{
		RenderableModifiers:   []uint64{1, 2},
		ExternalOnlyModifiers: []uint64{3},
	}
	got := f.AllModifiers()
	want := []uint64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("AllModifiers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AllModifiers() = %v, want %v", got, want)
		}
	}
}

func TestRegistryLookupAndFourccs(t *testing.T) {
	r := NewRegistry([]Format{
		{Fourcc: FourccXRGB8888, BitsPerPixel: 32},
		{Fourcc: 0x1, BitsPerPixel: 16},
	})
	f, ok := r.Lookup(FourccXRGB8888)
	if !ok || f.BitsPerPixel != 32 {
		t.Fatalf("Lookup(XRGB8888) = %+v, %v", f, ok)
	}
	if _, ok := r.Lookup(0xdeadbeef); ok {
		t.Error("Lookup: expected miss for unregistered fourcc")
	}
	fourccs := r.Fourccs()
	if len(fourccs) != 2 {
		t.Fatalf("Fourccs() returned %d entries, want 2", len(fourccs))
	}
}

func TestRegistryLastWriteWinsOnDuplicateFourcc(t *testing.T) {
	r := NewRegistry([]Format{
		{Fourcc: FourccXRGB8888, BitsPerPixel: 32},
		{Fourcc: FourccXRGB8888, BitsPerPixel: 24},
	})
	f, ok := r.Lookup(FourccXRGB8888)
	if !ok || f.BitsPerPixel != 24 {
		t.Fatalf("Lookup after duplicate registration = %+v, want BitsPerPixel 24", f)
	}
	if len(r.Fourccs()) != 1 {
		t.Errorf("Fourccs() = %v, want exactly one entry for a duplicated fourcc", r.Fourccs())
	}
}
