package model

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSegmentKey is returned when a transfer tries to insert a
	// metadata entry under a filename that already exists in the map.
	ErrDuplicateSegmentKey = errors.New("duplicate segment filename in metadata map")

	// ErrSegmentSequenceOverflow is returned when a sequence number would
	// require more digits than the configured pattern allows.
	ErrSegmentSequenceOverflow = errors.New("segment sequence exceeds configured digit width")
)

// Segment is one ordered transcoded chunk belonging to a version.
type Segment struct {
	Sequence int
	Prefix   string
	// NumDigits is the zero-padding width of the numeric pattern, e.g. 4
	// for "data_seg_%04d".
	NumDigits int
}

// Filename renders the segment's on-disk name from its prefix and
// zero-padded sequence number.
func (s Segment) Filename() (string, error) {
	if s.NumDigits <= 0 {
		return "", errors.New("segment digit width must be positive")
	}
	maxSeq := 1
	for i := 0; i < s.NumDigits; i++ {
		maxSeq *= 10
	}
	if s.Sequence < 0 || s.Sequence >= maxSeq {
		return "", ErrSegmentSequenceOverflow
	}
	format := fmt.Sprintf("%%s%%0%dd", s.NumDigits)
	return fmt.Sprintf(format, s.Prefix, s.Sequence), nil
}
