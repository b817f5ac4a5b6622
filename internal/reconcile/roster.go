package reconcile

import (
	"sort"
	"sync"
)

// Roster tracks which users are online from user-online and user-offline events.
type Roster struct {
	mu     sync.Mutex
	online map[string]struct{}
}

func NewRoster() *Roster {
	return &Roster{online: make(map[string]struct{})}
}

func (r *Roster) Set(userID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if online {
		r.online[userID] = struct{}{}
	} else {
		delete(r.online, userID)
	}
}

// Reset replaces the whole roster with online. Events missed while
// disconnected are never replayed, so the roster starts over on every connect.
func (r *Roster) Reset(online ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = make(map[string]struct{}, len(online))
	for _, id := range online {
		r.online[id] = struct{}{}
	}
}

func (r *Roster) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.online[userID]
	return ok
}

// Online lists online users, sorted.
func (r *Roster) Online() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.online))
	for id := range r.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
