package position

import (
	"errors"
	"fmt"
)

// Alignment is the byte alignment applied when advancing a position.
const Alignment = 8

// ErrOverflow is returned when a position computation overflows 32 bits.
var ErrOverflow = errors.New("position overflow")

// Position identifies a byte within a stream as a (term id, term offset) pair.
type Position struct {
	TermID     uint32
	TermOffset uint32
}

// String returns the position as "term/offset".
func (p Position) String() string {
	return fmt.Sprintf("%d/%d", p.TermID, p.TermOffset)
}

// RoundUp returns the next multiple of Alignment that is >= offset.
// The result wraps to a smaller value when offset is within Alignment of 2^32.
func RoundUp(offset uint32) uint32 {
	return (offset + (Alignment - 1)) &^ (Alignment - 1)
}

// Compare orders two positions by term id, then term offset.
// It returns -1, 0 or 1.
func Compare(a, b Position) int {
	switch {
	case a.TermID < b.TermID:
		return -1
	case a.TermID > b.TermID:
		return 1
	case a.TermOffset < b.TermOffset:
		return -1
	case a.TermOffset > b.TermOffset:
		return 1
	default:
		return 0
	}
}

// Delta returns the byte distance between two positions, truncated to 32 bits
// to match the receiver window arithmetic used on the wire.
func Delta(a, b Position, termLength uint32) uint32 {
	absA := uint64(a.TermID)*uint64(termLength) + uint64(a.TermOffset)
	absB := uint64(b.TermID)*uint64(termLength) + uint64(b.TermOffset)
	if absA >= absB {
		return uint32(absA - absB)
	}
	return uint32(absB - absA)
}

// AddLength advances p by length bytes, aligned to Alignment. Reaching
// termLength rolls over to offset 0 of the next term. A termLength of 0 means
// the term length is not known yet and never triggers a rollover.
func AddLength(p Position, length uint32, termLength uint32) (Position, error) {
	next := p.TermOffset + length
	if next < p.TermOffset {
		return p, ErrOverflow
	}
	rounded := RoundUp(next)
	if rounded < next {
		return p, ErrOverflow
	}
	if termLength > 0 && rounded >= termLength {
		return Position{TermID: p.TermID + 1, TermOffset: 0}, nil
	}
	return Position{TermID: p.TermID, TermOffset: rounded}, nil
}
