package semver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRange is returned for malformed range notation or bounds that
// cannot contain their own low end.
var ErrInvalidRange = errors.New("semver: invalid version range")

// Range is an interval of versions.
//
// The low bound is always present (DefaultVersion when unspecified). The high
// bound may be absent, meaning the range is unbounded above. The zero Range
// contains every version.
type Range struct {
	low           Version
	lowInclusive  bool
	high          Version
	hasHigh       bool
	highInclusive bool
	cmp           Comparator
	set           bool
}

// AllVersions returns the range that contains every version.
func AllVersions() Range {
	return Range{low: DefaultVersion(), lowInclusive: true, set: true}
}

// Exactly returns the singleton range [v,v].
func Exactly(v Version) Range {
	return Range{low: v, lowInclusive: true, high: v, hasHigh: true, highInclusive: true, set: true}
}

// AtLeast returns [v,∞).
func AtLeast(v Version) Range {
	return Range{low: v, lowInclusive: true, set: true}
}

// NewRange builds a range. A nil high means unbounded above.
func NewRange(low Version, lowInclusive bool, high *Version, highInclusive bool) (Range, error) {
	r := Range{low: low, lowInclusive: lowInclusive, set: true}
	if high != nil {
		r.high = *high
		r.hasHigh = true
		r.highInclusive = highInclusive
	}
	if err := r.validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// WithComparator returns a copy of r that orders versions with cmp.
func (r Range) WithComparator(cmp Comparator) Range {
	r.cmp = cmp
	return r
}

func (r Range) compare(a, b Version) int {
	if r.cmp != nil {
		return r.cmp(a, b)
	}
	return Compare(a, b)
}

func (r Range) validate() error {
	if !r.hasHigh {
		return nil
	}
	c := r.compare(r.low, r.high)
	if c > 0 {
		return fmt.Errorf("%w: low %s is above high %s", ErrInvalidRange, r.low, r.high)
	}
	if c == 0 && !(r.lowInclusive && r.highInclusive) {
		return fmt.Errorf("%w: equal bounds %s must both be inclusive", ErrInvalidRange, r.low)
	}
	return nil
}

// Low returns the lower bound and whether it is inclusive.
func (r Range) Low() (Version, bool) {
	if !r.set {
		return DefaultVersion(), true
	}
	return r.low, r.lowInclusive
}

// High returns the upper bound, whether it is inclusive, and whether it exists.
func (r Range) High() (Version, bool, bool) {
	return r.high, r.highInclusive, r.hasHigh
}

func (r Range) isZero() bool {
	return !r.set
}

// IsInRange reports whether v lies within r.
func (r Range) IsInRange(v Version) bool {
	if r.isZero() {
		return true
	}
	c := r.compare(v, r.low)
	if c < 0 || (c == 0 && !r.lowInclusive) {
		return false
	}
	if !r.hasHigh {
		return true
	}
	c = r.compare(v, r.high)
	return c < 0 || (c == 0 && r.highInclusive)
}

// IsConsistent reports whether r and other overlap.
func (r Range) IsConsistent(other Range) bool {
	if r.isZero() || other.isZero() {
		return true
	}
	return !r.below(other) && !other.below(r)
}

// below reports whether r's upper bound lies strictly under other's lower bound.
func (r Range) below(other Range) bool {
	if !r.hasHigh {
		return false
	}
	c := r.compare(r.high, other.low)
	if c < 0 {
		return true
	}
	return c == 0 && !(r.highInclusive && other.lowInclusive)
}

func (r Range) String() string {
	if r.isZero() {
		return "[0.0.0,)"
	}
	var b strings.Builder
	if r.lowInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	b.WriteString(r.low.String())
	b.WriteByte(',')
	if r.hasHigh {
		b.WriteString(r.high.String())
		if r.highInclusive {
			b.WriteByte(']')
		} else {
			b.WriteByte(')')
		}
	} else {
		b.WriteByte(')')
	}
	return b.String()
}

// ParseRange parses range notation.
//
// Examples:
// - ""            every version
// - "1.2.0"       exactly [1.2.0,1.2.0]
// - "[1.0,2.0)"   1.0 inclusive up to 2.0 exclusive
// - "(1.0,]"      anything above 1.0
func ParseRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return AllVersions(), nil
	}

	first := s[0]
	if first != '[' && first != '(' {
		if strings.ContainsAny(s, "[](),") {
			return Range{}, fmt.Errorf("%w: %q", ErrInvalidRange, raw)
		}
		v, err := ParseVersion(s)
		if err != nil {
			return Range{}, err
		}
		return Exactly(v), nil
	}

	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return Range{}, fmt.Errorf("%w: %q is missing a closing bracket", ErrInvalidRange, raw)
	}
	body := s[1 : len(s)-1]
	parts := strings.Split(body, ",")
	if len(parts) != 2 {
		return Range{}, fmt.Errorf("%w: %q must have exactly one comma", ErrInvalidRange, raw)
	}
	if strings.ContainsAny(body, "[]()") {
		return Range{}, fmt.Errorf("%w: %q has nested brackets", ErrInvalidRange, raw)
	}

	low, err := ParseVersion(parts[0])
	if err != nil {
		return Range{}, err
	}
	var high *Version
	if hs := strings.TrimSpace(parts[1]); hs != "" {
		h, err := ParseVersion(hs)
		if err != nil {
			return Range{}, err
		}
		high = &h
	}
	r, err := NewRange(low, first == '[', high, last == ']')
	if err != nil {
		return Range{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	return r, nil
}

func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}
