package dispatcher

import "sync/atomic"

// AtomicPosition is a log position shared between goroutines.
type AtomicPosition struct {
	v atomic.Int64
}

func NewAtomicPosition(initial int64) *AtomicPosition {
	p := &AtomicPosition{}
	p.v.Store(initial)
	return p
}

func (p *AtomicPosition) Get() int64 { return p.v.Load() }

func (p *AtomicPosition) Set(pos int64) { p.v.Store(pos) }

// ProposeMax stores pos if it is greater than the current value and reports
// whether it did. The value never decreases under concurrent callers.
func (p *AtomicPosition) ProposeMax(pos int64) bool {
	for {
		cur := p.v.Load()
		if pos <= cur {
			return false
		}
		if p.v.CompareAndSwap(cur, pos) {
			return true
		}
	}
}
