// Package pad converts sequence numbers to fixed-width, zero-padded strings
// whose lexicographic order equals their numeric order, and back.
//
// Padded strings are used as aggregate-version ids and as stream positions,
// so backends that can only compare strings still order events correctly.
package pad

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidMax = errors.New("pad: invalid max")
	ErrOutOfRange = errors.New("pad: number out of range")
	ErrMalformed  = errors.New("pad: malformed id")
)

const maxLimit int64 = 1e18

var (
	// Default pads aggregate versions, width 9.
	Default = MustNew(1e9)
	// Wide pads stream positions, width 18.
	Wide = MustNew(maxLimit)
)

// Padder pads numbers in [0, max) to a fixed width.
type Padder struct {
	max   int64
	width int
}

// New creates a Padder for numbers below max. The width is the number of
// digits of max-1.
func New(max int64) (*Padder, error) {
	if max <= 1 || max > maxLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMax, max)
	}
	return &Padder{max: max, width: len(strconv.FormatInt(max-1, 10))}, nil
}

func MustNew(max int64) *Padder {
	p, err := New(max)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Padder) Width() int { return p.width }
func (p *Padder) Max() int64 { return p.max }

// Check reports whether n can be padded without losing ordering.
func (p *Padder) Check(n int64) error {
	if n < 0 || n >= p.max {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, n, p.max)
	}
	return nil
}

// Pad left-pads n with zeros. Values outside [0, max) are returned unpadded
// and break the ordering guarantee; use Check first when n is untrusted.
func (p *Padder) Pad(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) >= p.width {
		return s
	}
	return strings.Repeat("0", p.width-len(s)) + s
}

// Unpad parses the last Width characters of s. Prefixes such as an
// aggregate id or timestamp are ignored.
func (p *Padder) Unpad(s string) (int64, error) {
	if len(s) < p.width {
		return 0, fmt.Errorf("%w: %q shorter than %d", ErrMalformed, s, p.width)
	}
	n, err := strconv.ParseInt(s[len(s)-p.width:], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return n, nil
}
