package hook

import "sync"

// Subscription is returned by every On* registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the callback. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

type entry[F any] struct {
	id uint64
	fn F
}

// slot is an ordered list of callbacks of one signature.
type slot[F any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[F]
}

func (s *slot[F]) add(fn F) *Subscription {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, entry[F]{id: id, fn: fn})
	s.mu.Unlock()

	return &Subscription{cancel: func() { s.remove(id) }}
}

func (s *slot[F]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// snapshot copies the callbacks so they run without the lock held.
func (s *slot[F]) snapshot() []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]F, len(s.entries))
	for i, e := range s.entries {
		fns[i] = e.fn
	}
	return fns
}

func (s *slot[F]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
