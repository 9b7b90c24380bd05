// Package presence tracks which users currently have at least one live
// connection and how many. It is process-local: the single server process
// owns every live connection, so no cross-process coordination is needed.
package presence

import "sync"

// Registry holds per-user live connection counts. All mutation goes through
// the registry mutex, so two events for the same user are never applied
// concurrently.
type Registry struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counts: make(map[string]int)}
}

// Connect records one more live connection for the user and returns the new
// count. A return of 1 marks the offline-to-online transition; intermediate
// counts must not produce a status broadcast.
func (r *Registry) Connect(userID string) int {
	r.mu.Lock()
	r.counts[userID]++
	n := r.counts[userID]
	r.mu.Unlock()
	return n
}

// Disconnect records one fewer live connection for the user and returns the
// remaining count. The entry is removed exactly when the count reaches zero;
// a return of 0 marks the online-to-offline transition. Disconnecting a user
// with no tracked connections is a no-op returning 0.
func (r *Registry) Disconnect(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.counts[userID]
	if !ok {
		return 0
	}
	n--
	if n <= 0 {
		delete(r.counts, userID)
		return 0
	}
	r.counts[userID] = n
	return n
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.counts[userID]
	r.mu.RUnlock()
	return ok
}

// Connections returns the live connection count for the user.
func (r *Registry) Connections(userID string) int {
	r.mu.RLock()
	n := r.counts[userID]
	r.mu.RUnlock()
	return n
}

// OnlineCount returns the number of distinct users currently online.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	n := len(r.counts)
	r.mu.RUnlock()
	return n
}

// Online returns a snapshot of the user ids currently online.
func (r *Registry) Online() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.counts))
	for id := range r.counts {
		users = append(users, id)
	}
	r.mu.RUnlock()
	return users
}
