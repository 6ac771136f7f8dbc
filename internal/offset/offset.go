// Package offset defines half-open character ranges over a document's canonical text.
//
// Offsets are byte positions into the canonical text string. A Range covers
// [Start, End): Start is included and End is not, so two ranges that merely
// touch (a.End == b.Start) do not overlap.
package offset

import "github.com/hyperjump/manabu/internal/apperr"

// Range is a half-open [Start, End) span.
type Range struct {
	Start int `json:"startOffset"`
	End   int `json:"endOffset"`
}

// New returns the range [start, end).
func New(start, end int) Range {
	return Range{Start: start, End: end}
}

// Len returns the number of bytes covered.
func (r Range) Len() int {
	return r.End - r.Start
}

// Validate checks 0 <= Start < End <= textLen and returns an InvalidRange error otherwise.
func (r Range) Validate(textLen int) error {
	if r.Start < 0 || r.Start >= r.End || r.End > textLen {
		return apperr.InvalidRange(r.Start, r.End, textLen)
	}
	return nil
}

// Overlaps reports whether a and b share at least one position.
func Overlaps(a, b Range) bool {
	return a.Start < b.End && b.Start < a.End
}

// Contains reports whether outer fully covers inner.
func Contains(outer, inner Range) bool {
	return outer.Start <= inner.Start && inner.End <= outer.End
}

// Slice returns text[r.Start:r.End], or an InvalidRange error if r does not fit text.
func Slice(text string, r Range) (string, error) {
	if err := r.Validate(len(text)); err != nil {
		return "", err
	}
	return text[r.Start:r.End], nil
}
