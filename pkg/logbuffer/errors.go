package logbuffer

import (
	"errors"
	"fmt"
)

var (
	// ErrExceedsCapacity is matched by every *CapacityError.
	ErrExceedsCapacity = errors.New("fragment length exceeds remaining capacity")
	ErrNotClaimed      = errors.New("no claimed fragment")
	ErrInvalidState    = errors.New("invalid batch state")
	ErrBufferTooSmall  = errors.New("raw buffer too small for partitions")
	ErrInvalidLayout   = errors.New("invalid log buffer layout")
)

// CapacityError reports a batch fragment that does not fit the remaining
// reservation.
type CapacityError struct {
	Offset   int
	Length   int
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("the given fragment length is greater than the remaining capacity. offset: %d, length: %d, capacity: %d",
		e.Offset, e.Length, e.Capacity)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrExceedsCapacity
}
