package session

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// timerSet tracks every callback scheduled for the active mode. All methods run on the
// controller loop; a timer that fires after cancel or stopAll finds no entry and is dropped.
type timerSet struct {
	clock  clockwork.Clock
	post   func(func()) bool
	nextID uint64
	active map[uint64]clockwork.Timer
}

func newTimerSet(clock clockwork.Clock, post func(func()) bool) *timerSet {
	return &timerSet{
		clock:  clock,
		post:   post,
		active: make(map[uint64]clockwork.Timer),
	}
}

// schedule runs fn on the loop after d and returns its cancel func.
func (s *timerSet) schedule(d time.Duration, fn func()) func() {
	s.nextID++
	id := s.nextID
	s.active[id] = s.clock.AfterFunc(d, func() {
		s.post(func() {
			if _, ok := s.active[id]; !ok {
				return
			}
			delete(s.active, id)
			fn()
		})
	})
	return func() { s.cancel(id) }
}

func (s *timerSet) cancel(id uint64) {
	if t, ok := s.active[id]; ok {
		t.Stop()
		delete(s.active, id)
	}
}

func (s *timerSet) stopAll() {
	for id, t := range s.active {
		t.Stop()
		delete(s.active, id)
	}
}

func (s *timerSet) len() int {
	return len(s.active)
}
