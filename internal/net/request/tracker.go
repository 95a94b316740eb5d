package request

import (
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

// Info describes a live facade
type Info struct {
	ID       string    `json:"id"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Redirect string    `json:"redirect"`
	Started  time.Time `json:"started"`
}

// Tracker holds live facades from their first write until Close, so a
// facade stays reachable while events are still due even if its creator
// dropped it
type Tracker struct {
	mu   sync.RWMutex
	live map[id.RequestID]entry
}

type entry struct {
	facade *Facade
	info   Info
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{live: make(map[id.RequestID]entry)}
}

func (t *Tracker) pin(f *Facade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[f.id] = entry{
		facade: f,
		info: Info{
			ID:       f.id.String(),
			Method:   f.loader.Method(),
			URL:      f.loader.URL().Redacted(),
			Redirect: f.loader.Mode().String(),
			Started:  time.Now(),
		},
	}
}

func (t *Tracker) unpin(f *Facade) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.live, f.id)
}

// Has reports whether the facade with rid is pinned
func (t *Tracker) Has(rid id.RequestID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.live[rid]
	return ok
}

// Len returns the number of live facades
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.live)
}

// List returns live facades ordered by start time
func (t *Tracker) List() []Info {
	t.mu.RLock()
	out := make([]Info, 0, len(t.live))
	for _, e := range t.live {
		out = append(out, e.info)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}
