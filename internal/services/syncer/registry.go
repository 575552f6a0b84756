package syncer

import "sync"

// registry tracks the running session per account and keeps a bounded history of finished
// ones so that late subscribers can still replay them.
type registry struct {
	mu      sync.Mutex
	active  map[string]*Session
	byID    map[string]*Session
	history []string
	limit   int
}

func newRegistry(limit int) *registry {
	return &registry{
		active: make(map[string]*Session),
		byID:   make(map[string]*Session),
		limit:  limit,
	}
}

func (r *registry) reserve(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[s.AccountID]; ok && !cur.Terminal() {
		return false
	}
	r.active[s.AccountID] = s
	r.byID[s.ID] = s
	return true
}

// release frees the account slot and moves the session into history.
func (r *registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[s.AccountID]; ok && cur == s {
		delete(r.active, s.AccountID)
	}
	r.history = append(r.history, s.ID)
	for len(r.history) > r.limit {
		delete(r.byID, r.history[0])
		r.history = r.history[1:]
	}
}

// drop forgets a reservation that never started running.
func (r *registry) drop(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[s.AccountID]; ok && cur == s {
		delete(r.active, s.AccountID)
	}
	delete(r.byID, s.ID)
}

func (r *registry) get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *registry) activeFor(accountID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[accountID]
	return s, ok
}

func (r *registry) running() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, s)
	}
	return out
}
