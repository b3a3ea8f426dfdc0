package app

import (
	"slices"
	"sync"

	"claimrelay/internal/eventbus"
	logx "claimrelay/pkg/logx"
)

// eventTally counts bus events per type for the stop summary.
type eventTally struct {
	mu sync.Mutex
	n  map[string]int
}

func (t *eventTally) observe(e eventbus.Event) {
	t.mu.Lock()
	if t.n == nil {
		t.n = map[string]int{}
	}
	t.n[e.Type]++
	t.mu.Unlock()
}

func (t *eventTally) count(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n[kind]
}

// fields renders one "events.<type>" field per seen type, sorted by type.
func (t *eventTally) fields() []logx.Field {
	t.mu.Lock()
	defer t.mu.Unlock()
	kinds := make([]string, 0, len(t.n))
	for k := range t.n {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	out := make([]logx.Field, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, logx.Int("events."+k, t.n[k]))
	}
	return out
}
