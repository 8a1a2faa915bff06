package dispatcher_test

import (
	"sync"
	"testing"

	"github.com/downfa11-org/go-dispatcher/pkg/dispatcher"
)

func TestAtomicPosition_ProposeMax(t *testing.T) {
	p := dispatcher.NewAtomicPosition(10)

	if p.ProposeMax(5) {
		t.Fatalf("smaller value must be rejected")
	}
	if p.ProposeMax(10) {
		t.Fatalf("equal value must be rejected")
	}
	if !p.ProposeMax(11) || p.Get() != 11 {
		t.Fatalf("expected 11, got %d", p.Get())
	}
}

func TestAtomicPosition_ProposeMaxConcurrent(t *testing.T) {
	p := dispatcher.NewAtomicPosition(0)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := int64(0)
			for i := range int64(1000) {
				p.ProposeMax(i*8 + int64(w))
				cur := p.Get()
				if cur < last {
					t.Errorf("position went backwards: %d after %d", cur, last)
					return
				}
				last = cur
			}
		}()
	}
	wg.Wait()

	if got := p.Get(); got != 999*8+7 {
		t.Fatalf("expected max %d, got %d", 999*8+7, got)
	}
}
