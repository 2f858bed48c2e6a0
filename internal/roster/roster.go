// Package roster tracks the set of users the server reports as online.
package roster

import (
	"sort"
	"strings"
	"sync"
)

// Roster always holds exactly the most recent snapshot. Snapshots are
// never merged.
type Roster struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func New() *Roster {
	return &Roster{names: make(map[string]struct{})}
}

// Replace swaps in a new snapshot and returns it sorted. Blank and
// duplicate names are dropped.
func (r *Roster) Replace(names []string) []string {
	next := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		next[name] = struct{}{}
	}

	r.mu.Lock()
	r.names = next
	r.mu.Unlock()
	return sortedNames(next)
}

func (r *Roster) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.names)
}

func (r *Roster) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.names[name]
	return ok
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
