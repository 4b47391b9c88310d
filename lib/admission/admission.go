// Package admission rate-limits challenge issuance per client identity.
package admission

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/habuha/captcha/internal"
)

var refused = promauto.NewCounter(prometheus.CounterOpts{
	Name: "captcha_admission_refused",
	Help: "The total number of challenge requests refused by the admission controller",
})

type record struct {
	windowStart time.Time
	count       int
}

// Controller is a window-reset limiter: the first request from an identity
// opens a window, requests within it count against the limit, and a request
// after the window has lapsed resets the count. This is deliberately not a
// token bucket; a client can burst the full limit at the start of every
// window, which is accepted as good enough for challenge issuance.
type Controller struct {
	limit  int
	window time.Duration

	lock    sync.Mutex
	records map[string]*record

	now func() time.Time
}

// New creates a Controller allowing limit requests per identity per window.
func New(limit int, window time.Duration) *Controller {
	return &Controller{
		limit:   limit,
		window:  window,
		records: map[string]*record{},
		now:     time.Now,
	}
}

// Allow reports whether identity may obtain another challenge right now, and
// counts the issuance if so. Identities are hashed before use as map keys so
// raw client addresses are not held resident.
func (c *Controller) Allow(identity string) bool {
	key := internal.FastHash(identity)
	now := c.now()

	c.lock.Lock()
	defer c.lock.Unlock()

	rec, ok := c.records[key]
	if !ok {
		c.records[key] = &record{windowStart: now, count: 1}
		return true
	}

	if now.Sub(rec.windowStart) > c.window {
		rec.windowStart = now
		rec.count = 0
	}

	if rec.count >= c.limit {
		refused.Add(1)
		return false
	}

	rec.count++
	return true
}

// Sweep drops records whose window lapsed long ago. The admission decision is
// unaffected (a lapsed window resets on next use anyway); this only bounds
// memory against a large population of one-off clients.
func (c *Controller) Sweep() {
	now := c.now()

	c.lock.Lock()
	defer c.lock.Unlock()

	for key, rec := range c.records {
		if now.Sub(rec.windowStart) > 2*c.window {
			delete(c.records, key)
		}
	}
}

// Len reports how many identities are currently tracked.
func (c *Controller) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.records)
}
