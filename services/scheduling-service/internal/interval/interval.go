// Package interval implements set arithmetic over half-open time ranges.
package interval

import (
	"sort"
	"time"
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Empty() bool {
	return !r.Start.Before(r.End)
}

func (r Range) Duration() time.Duration {
	if r.Empty() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Overlaps is symmetric intersection: r.Start < o.End && o.Start < r.End.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r Range) Contains(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Normalize drops empty ranges, sorts by start and merges overlapping or touching ranges.
// The result is pairwise disjoint and ordered.
func Normalize(rs []Range) []Range {
	out := make([]Range, 0, len(rs))
	for _, r := range rs {
		if !r.Empty() {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Start.Before(out[j].Start)
	})

	merged := out[:1]
	for _, r := range out[1:] {
		last := &merged[len(merged)-1]
		if !r.Start.After(last.End) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Union merges two sets.
func Union(a, b []Range) []Range {
	all := make([]Range, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Normalize(all)
}

// Subtract removes cut from every range in set. Each overlapped range yields zero,
// one or two remainders.
func Subtract(set []Range, cut Range) []Range {
	if cut.Empty() {
		return Normalize(set)
	}
	var out []Range
	for _, r := range Normalize(set) {
		if !r.Overlaps(cut) {
			out = append(out, r)
			continue
		}
		if r.Start.Before(cut.Start) {
			out = append(out, Range{Start: r.Start, End: cut.Start})
		}
		if cut.End.Before(r.End) {
			out = append(out, Range{Start: cut.End, End: r.End})
		}
	}
	return out
}

func SubtractAll(set []Range, cuts []Range) []Range {
	out := Normalize(set)
	for _, c := range cuts {
		out = Subtract(out, c)
	}
	return out
}

// ClipBefore drops everything earlier than t. A clipped start takes the
// location of the range's end so both bounds read in the same zone.
func ClipBefore(set []Range, t time.Time) []Range {
	var out []Range
	for _, r := range Normalize(set) {
		if !r.End.After(t) {
			continue
		}
		if r.Start.Before(t) {
			r.Start = t.In(r.End.Location())
		}
		out = append(out, r)
	}
	return out
}

// In expresses every bound of set in loc.
func In(set []Range, loc *time.Location) []Range {
	if len(set) == 0 {
		return set
	}
	out := make([]Range, len(set))
	for i, r := range set {
		out[i] = Range{Start: r.Start.In(loc), End: r.End.In(loc)}
	}
	return out
}

// Covers reports whether some range in set fully contains r.
func Covers(set []Range, r Range) bool {
	for _, s := range Normalize(set) {
		if s.Contains(r) {
			return true
		}
	}
	return false
}
