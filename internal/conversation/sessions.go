package conversation

import "sync"

// Sessions holds the in-memory session of every active user. Each entry
// carries a generation counter that Reset bumps, so work started before a
// reset can tell that its result is stale.
type Sessions struct {
	mu      sync.Mutex
	entries map[int64]*sessionEntry
}

type sessionEntry struct {
	session Session
	gen     uint64
}

func NewSessions() *Sessions {
	return &Sessions{entries: map[int64]*sessionEntry{}}
}

// Get returns the user's session and its generation.
func (ss *Sessions) Get(userID int64) (Session, uint64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	e, ok := ss.entries[userID]
	if !ok {
		return Session{}, 0
	}
	return e.session, e.gen
}

// Generation returns the user's current generation.
func (ss *Sessions) Generation(userID int64) uint64 {
	_, gen := ss.Get(userID)
	return gen
}

// CompareAndSet stores s only if the user's generation still equals gen.
func (ss *Sessions) CompareAndSet(userID int64, gen uint64, s Session) bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	e, ok := ss.entries[userID]
	if !ok {
		if gen != 0 {
			return false
		}
		e = &sessionEntry{}
		ss.entries[userID] = e
	}
	if e.gen != gen {
		return false
	}
	e.session = s
	return true
}

// Reset puts the user back in Idle and invalidates work in flight.
func (ss *Sessions) Reset(userID int64) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	e, ok := ss.entries[userID]
	if !ok {
		e = &sessionEntry{}
		ss.entries[userID] = e
	}
	e.session = Session{}
	e.gen++
}

// Len returns the number of tracked users.
func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.entries)
}
