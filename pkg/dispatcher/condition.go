package dispatcher

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Condition is woken when new data or new space becomes available. Signal
// must not block. Implementations must be comparable so they can be removed
// again.
type Condition interface {
	Signal()
}

// Notifier is a Condition backed by an edge-coalesced channel: any number of
// signals between two receives collapse into one wake up.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

func (n *Notifier) Signal() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C returns the channel that receives one value per coalesced wake up.
func (n *Notifier) C() <-chan struct{} { return n.ch }

// conditions is a copy-on-write set of wake conditions. Signalling never
// takes the lock.
type conditions struct {
	mu   sync.Mutex
	list atomic.Pointer[[]Condition]
}

func (c *conditions) register(cond Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next []Condition
	if cur := c.list.Load(); cur != nil {
		next = slices.Clone(*cur)
	}
	next = append(next, cond)
	c.list.Store(&next)
}

func (c *conditions) remove(cond Condition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.list.Load()
	if cur == nil {
		return
	}
	next := slices.DeleteFunc(slices.Clone(*cur), func(x Condition) bool { return x == cond })
	c.list.Store(&next)
}

func (c *conditions) signal() {
	cur := c.list.Load()
	if cur == nil {
		return
	}
	for _, cond := range *cur {
		cond.Signal()
	}
}

func (c *conditions) size() int {
	if cur := c.list.Load(); cur != nil {
		return len(*cur)
	}
	return 0
}
