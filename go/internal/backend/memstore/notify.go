package memstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
)

const (
	kindSession   = "session"
	kindQuestions = "questions"
	kindScores    = "scores"
)

// ErrChannelBroken is the loss reason used by BreakSubscriptions.
var ErrChannelBroken = errors.New("memstore: notification channel broken")

type subscription struct {
	store     *Store
	id        int
	kind      string
	sessionID uuid.UUID
	fn        func(any)
	signal    *backend.LossSignal
}

func (s *subscription) Unsubscribe() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.subs, s.id)
	return nil
}

func (s *subscription) Lost() <-chan error {
	return s.signal.Lost()
}

// collect snapshots the live subscribers for a session and kind. Caller holds s.mu.
func (s *Store) collect(sessionID uuid.UUID, kind string) []*subscription {
	if s.dropPush {
		return nil
	}
	var out []*subscription
	for _, sub := range s.subs {
		if sub.sessionID == sessionID && sub.kind == kind {
			out = append(out, sub)
		}
	}
	return out
}

func deliver(subs []*subscription, payload any) {
	for _, sub := range subs {
		sub.fn(payload)
	}
}

// BreakSubscriptions drops every live subscription and reports err on its Lost channel.
func (s *Store) BreakSubscriptions(err error) {
	if err == nil {
		err = ErrChannelBroken
	}
	s.mu.Lock()
	broken := make([]*subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		broken = append(broken, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, sub := range broken {
		sub.signal.Fire(err)
	}
	log.Debug().Int("count", len(broken)).Msg("memstore subscriptions broken")
}

// Subscribers reports how many live subscriptions exist for a session.
func (s *Store) Subscribers(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sub := range s.subs {
		if sub.sessionID == sessionID {
			n++
		}
	}
	return n
}

func (s *Store) subscribe(kind string, sessionID uuid.UUID, fn func(any)) (backend.Subscription, error) {
	s.mu.Lock()
	if err := s.enter("Subscribe"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if _, err := s.record(sessionID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.nextSubID++
	sub := &subscription{
		store:     s,
		id:        s.nextSubID,
		kind:      kind,
		sessionID: sessionID,
		fn:        fn,
		signal:    backend.NewLossSignal(),
	}
	s.subs[sub.id] = sub
	hook := s.onSubscribe
	s.mu.Unlock()

	if hook != nil {
		hook(kind, sessionID)
	}
	return sub, nil
}

func (s *Store) SubscribeSession(ctx context.Context, sessionID uuid.UUID, fn func(backend.SessionChange)) (backend.Subscription, error) {
	return s.subscribe(kindSession, sessionID, func(v any) {
		if ev, ok := v.(backend.SessionChange); ok {
			fn(ev)
		}
	})
}

func (s *Store) SubscribeQuestions(ctx context.Context, sessionID uuid.UUID, fn func(backend.QuestionInsert)) (backend.Subscription, error) {
	return s.subscribe(kindQuestions, sessionID, func(v any) {
		if ev, ok := v.(backend.QuestionInsert); ok {
			fn(ev)
		}
	})
}

func (s *Store) SubscribeScores(ctx context.Context, sessionID uuid.UUID, fn func(backend.ScoreInsert)) (backend.Subscription, error) {
	return s.subscribe(kindScores, sessionID, func(v any) {
		if ev, ok := v.(backend.ScoreInsert); ok {
			fn(ev)
		}
	})
}
