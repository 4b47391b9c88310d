package admission

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestController(limit int, window time.Duration) (*Controller, *time.Time) {
	c := New(limit, window)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestAllowWindow(t *testing.T) {
	c, now := newTestController(8, 10*time.Second)

	for i := 0; i < 8; i++ {
		*now = now.Add(100 * time.Millisecond)
		if !c.Allow("203.0.113.5") {
			t.Fatalf("call %d within the window was refused", i+1)
		}
	}

	if c.Allow("203.0.113.5") {
		t.Fatal("ninth call within the window was allowed")
	}

	// a different identity is unaffected
	if !c.Allow("203.0.113.6") {
		t.Fatal("fresh identity was refused")
	}

	*now = now.Add(11 * time.Second)
	if !c.Allow("203.0.113.5") {
		t.Fatal("call after the window lapsed was refused")
	}
}

func TestAllowConcurrent(t *testing.T) {
	c := New(50, 10*time.Second)

	var wg sync.WaitGroup
	allowed := make([]int, 32)
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			identity := fmt.Sprintf("198.51.100.%d", g%4)
			for i := 0; i < 100; i++ {
				if c.Allow(identity) {
					allowed[g]++
				}
			}
		}(g)
	}
	wg.Wait()

	// 4 identities, 50 allowed each
	total := 0
	for _, n := range allowed {
		total += n
	}
	if total != 4*50 {
		t.Fatalf("wanted 200 total allowed calls, got: %d", total)
	}
}

func TestSweep(t *testing.T) {
	c, now := newTestController(8, 10*time.Second)

	c.Allow("old")
	*now = now.Add(25 * time.Second)
	c.Allow("fresh")

	c.Sweep()

	if c.Len() != 1 {
		t.Fatalf("wanted 1 tracked identity after sweep, got: %d", c.Len())
	}
}
