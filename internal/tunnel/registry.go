package tunnel

import (
	"sync"

	"ssrgate/internal/shared/types"
)

// Registry is the per-environment set of live tunnels (spec.md §2.5),
// used for fleet shutdown and the fleet traffic rollup. Mutated from many
// tunnel goroutines (add in Run, remove in Shutdown), so ShutdownAll must
// tolerate concurrent removal as each tunnel's
// own shutdown calls remove from its own event-loop goroutine (§5
// "iteration MUST tolerate concurrent removal").
type Registry struct {
	mu      sync.Mutex
	tunnels map[string]*Tunnel
}

func NewRegistry() *Registry {
	return &Registry{tunnels: make(map[string]*Tunnel)}
}

func (r *Registry) add(t *Tunnel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunnels[t.id] = t
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tunnels, id)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tunnels)
}

// ShutdownAll triggers shutdown on every tunnel currently registered. It
// snapshots the id set first so that a tunnel's own dying callback
// removing itself mid-iteration never corrupts the walk (§5 P5).
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	snapshot := make([]*Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		snapshot = append(snapshot, t)
	}
	r.mu.Unlock()

	for _, t := range snapshot {
		t.Shutdown()
	}
}

// GetTrafficStats aggregates uplink/downlink counters across every
// tunnel currently registered, mirroring the teacher's
// state.Instance.GetTrafficStats() fleet rollup.
func (r *Registry) GetTrafficStats() types.TrafficStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total types.TrafficStats
	for _, t := range r.tunnels {
		s := t.TrafficStats()
		total.Uplink += s.Uplink
		total.Downlink += s.Downlink
	}
	return total
}
