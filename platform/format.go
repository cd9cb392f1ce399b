// Package platform implements the display-scoped state this bridge
// keeps from eglInitialize to eglTerminate: the wire connection, the
// GPU device selection, the format/modifier catalog, and the derived
// capability flags (spec.md §2 "Display instance", §3, §4.1).
package platform

// Format describes one driver-supported fourcc pixel layout and the
// modifiers it can be used with, split the way spec.md §3 ("X driver
// format") requires: modifiers the driver can itself render into
// versus modifiers it can only consume as an external (PRIME) source.
type Format struct {
	Fourcc           uint32
	BitsPerPixel     int
	RedWidth, RedOffset     int
	GreenWidth, GreenOffset int
	BlueWidth, BlueOffset   int
	AlphaWidth, AlphaOffset int
	RenderableModifiers []uint64
	ExternalOnlyModifiers []uint64
}

// AllModifiers returns the union of renderable and external-only
// modifiers, in that order, used by modifier-negotiation's driver-side
// set D (spec.md §4.7).
func (f Format) AllModifiers() []uint64 {
	out := make([]uint64, 0, len(f.RenderableModifiers)+len(f.ExternalOnlyModifiers))
	out = append(out, f.RenderableModifiers...)
	out = append(out, f.ExternalOnlyModifiers...)
	return out
}

// Registry is the catalog of formats the driver supports, keyed by
// fourcc for lookup during config building (spec.md §4.2).
type Registry struct {
	byFourcc map[uint32]Format
	ordered  []uint32
}

// NewRegistry builds a registry from the driver-queried format list
// (spec.md §4.1 step 8: "Build the format registry by iterating
// driver-queried formats and modifiers; split each format's modifier
// list into renderable and external-only").
func NewRegistry(formats []Format) *Registry {
	r := &Registry{byFourcc: make(map[uint32]Format, len(formats))}
	for _, f := range formats {
		if _, dup := r.byFourcc[f.Fourcc]; !dup {
			r.ordered = append(r.ordered, f.Fourcc)
		}
		r.byFourcc[f.Fourcc] = f
	}
	return r
}

// Lookup returns the format for fourcc, if the driver supports it.
func (r *Registry) Lookup(fourcc uint32) (Format, bool) {
	f, ok := r.byFourcc[fourcc]
	return f, ok
}

// Fourccs returns every fourcc in the registry, in registration order.
func (r *Registry) Fourccs() []uint32 {
	out := make([]uint32, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// FourccXRGB8888 is the probe format spec.md §4.1 step 9 queries the
// server about ("a probe format (XRGB8888)").
const FourccXRGB8888 = 0x34325258 // 'X' 'R' '2' '4' little-endian fourcc

// ModifierLinear is DRM_FORMAT_MOD_LINEAR.
const ModifierLinear uint64 = 0

// Intersect returns the elements common to a and b, preserving a's
// order — the core operation of modifier negotiation (spec.md §4.7)
// and of the §4.1 step 9 "client/server modifier sets intersect" check.
func Intersect(a, b []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(b))
	for _, m := range b {
		set[m] = struct{}{}
	}
	var out []uint64
	for _, m := range a {
		if _, ok := set[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Contains reports whether list contains m.
func Contains(list []uint64, m uint64) bool {
	for _, x := range list {
		if x == m {
			return true
		}
	}
	return false
}
