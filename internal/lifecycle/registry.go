package lifecycle

import "sync"

// MountedRegistry is the node-local set of currently mounted bots. It
// is injected into the coordinator rather than held as package state so
// its lifetime is scoped to application start and stop.
type MountedRegistry struct {
	mu   sync.RWMutex
	bots map[string]struct{}
}

// NewMountedRegistry creates an empty registry
func NewMountedRegistry() *MountedRegistry {
	return &MountedRegistry{bots: make(map[string]struct{})}
}

// Add marks a bot as mounted on this node
func (r *MountedRegistry) Add(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[botID] = struct{}{}
}

// Remove marks a bot as no longer mounted
func (r *MountedRegistry) Remove(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bots, botID)
}

// Contains reports whether a bot is mounted on this node
func (r *MountedRegistry) Contains(botID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bots[botID]
	return ok
}

// List returns the IDs of all mounted bots
func (r *MountedRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.bots))
	for id := range r.bots {
		ids = append(ids, id)
	}
	return ids
}
