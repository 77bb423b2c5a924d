package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Name identifies an event on the bus.
type Name string

const (
	// Intents emitted by the active mode; the session controller turns them into backend requests.
	AnswerSubmit  Name = "answer-submit"
	NextQuestion  Name = "next-question"
	Timeout       Name = "timeout"
	Buzz          Name = "buzz"
	Challenge     Name = "challenge"
	TurnResolved  Name = "turn-resolved"
	BoardComplete Name = "board-complete"
	SelectCell    Name = "select-cell"
	TimerUpdate   Name = "timer-update"
	GameOver      Name = "game-over"

	// Lifecycle and notification events emitted by the controller.
	GameStart      Name = "game-start"
	GameClose      Name = "game-close"
	GameExit       Name = "game-exit"
	GameWon        Name = "game-won"
	QuestionsReady Name = "questions-ready"
	StateChanged   Name = "state-changed"
	AnswerResult   Name = "answer-result"
	AnswerFailed   Name = "answer-failed"
	Reveal         Name = "reveal"
	Banner         Name = "banner"
	ConnectionLost Name = "connection-lost"
	Reconnected    Name = "reconnected"
)

// Event is a small payload carried on the bus.
type Event struct {
	Name       Name
	SessionID  uuid.UUID
	QuestionID uuid.UUID
	UserID     uuid.UUID
	Answer     string
	Index      int
	Value      int64
	Points     int // awarded on a correct answer
	Penalty    int // awarded on an incorrect answer, usually <= 0
	Flag       bool
	Message    string
	At         time.Time
}

// Handler receives events.
type Handler func(Event)

// Subscription is an explicit handle; Unsubscribe is idempotent.
type Subscription struct {
	bus  *Bus
	name Name
	id   uint64
	once sync.Once
}

// Unsubscribe removes the handler from the bus.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.name, s.id)
	})
}

type entry struct {
	id      uint64
	handler Handler
}

// Bus is an in-process publish/subscribe medium. Handlers run synchronously on the
// publisher's goroutine, in registration order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Name][]entry
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[Name][]entry),
	}
}

// Subscribe registers h for events called name.
func (b *Bus) Subscribe(name Name, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[name] = append(b.subs[name], entry{id: b.nextID, handler: h})
	return &Subscription{bus: b, name: name, id: b.nextID}
}

// HasSubscribers reports whether anything listens for name.
func (b *Bus) HasSubscribers(name Name) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name]) > 0
}

// Publish delivers ev to every handler registered for ev.Name.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Name]))
	for _, e := range b.subs[ev.Name] {
		handlers = append(handlers, e.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(ev, h)
	}
}

func dispatch(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(ev.Name)).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(ev)
}

func (b *Bus) remove(name Name, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.subs[name]
	for i, e := range entries {
		if e.id == id {
			b.subs[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}
