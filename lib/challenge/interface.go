package challenge

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
)

var (
	registry map[string]Impl = map[string]Impl{}
	regLock  sync.RWMutex
)

func Register(name string, impl Impl) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Impl, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}

type Impl interface {
	// Issue fills in the variant's secret payload on c and returns the
	// client-visible render payload.
	Issue(lg *slog.Logger, rng *rand.Rand, c *Challenge) (RenderPayload, error)

	// Verify checks a submission against c's secret payload. A nil return is
	// a pass; any other return is a *Error whose public reason is safe to
	// surface to the client.
	Verify(lg *slog.Logger, c *Challenge, sub *Submission) error
}
