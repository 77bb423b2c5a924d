package natsfeed

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
)

type subscription struct {
	f       *Feed
	id      int
	kind    string
	subject string
	fn      func(any)
	signal  *backend.LossSignal
	cc      jetstream.ConsumeContext
}

func (s *subscription) Unsubscribe() error {
	s.f.remove(s.id)
	s.stop()
	return nil
}

func (s *subscription) stop() {
	s.f.mu.Lock()
	cc := s.cc
	s.f.mu.Unlock()
	if cc != nil {
		cc.Stop()
	}
}

func (s *subscription) Lost() <-chan error {
	return s.signal.Lost()
}

// handle decodes one message and hands it to the subscriber. Malformed events are skipped.
func (s *subscription) handle(data []byte) {
	ev, err := decode(s.kind, data)
	if err != nil {
		log.Error().Err(err).Str("subject", s.subject).Msg("failed to process message")
		return
	}
	s.fn(ev)
}

// fail drops the subscription and reports reason once.
func (s *subscription) fail(reason error) {
	s.f.remove(s.id)
	s.stop()
	s.signal.Fire(reason)
}

func (f *Feed) register(kind string, sessionID uuid.UUID, fn func(any)) *subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	sub := &subscription{
		f:       f,
		id:      f.nextID,
		kind:    kind,
		subject: f.cfg.Subject(kind, sessionID),
		fn:      fn,
		signal:  backend.NewLossSignal(),
	}
	f.subs[sub.id] = sub
	return sub
}

func (f *Feed) remove(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

// dropAll fails every live subscription; subscribers resubscribe and refetch.
func (f *Feed) dropAll(reason error) {
	f.mu.Lock()
	dropped := make([]*subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		dropped = append(dropped, sub)
	}
	f.mu.Unlock()

	for _, sub := range dropped {
		sub.fail(reason)
	}
	if len(dropped) > 0 {
		log.Warn().Err(reason).Int("count", len(dropped)).Msg("subscriptions dropped")
	}
}

// terminal reports whether a consume error means the consumer will not deliver again.
func terminal(err error) bool {
	return errors.Is(err, jetstream.ErrConsumerDeleted) ||
		errors.Is(err, jetstream.ErrConsumerNotFound) ||
		errors.Is(err, nats.ErrConnectionClosed)
}

func (f *Feed) subscribe(ctx context.Context, kind string, sessionID uuid.UUID, fn func(any)) (backend.Subscription, error) {
	sub := f.register(kind, sessionID, fn)

	// Only events published after the subscription matter; the caller refetches current state.
	cons, err := f.js.OrderedConsumer(ctx, f.cfg.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{sub.subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		f.remove(sub.id)
		return nil, backend.Transient(fmt.Errorf("create ordered consumer: %w", err))
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		sub.handle(msg.Data())
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		if !terminal(err) {
			log.Warn().Err(err).Str("subject", sub.subject).Msg("consumer error")
			return
		}
		sub.fail(lossReason(err))
	}))
	if err != nil {
		f.remove(sub.id)
		return nil, backend.Transient(fmt.Errorf("start consumer: %w", err))
	}

	f.mu.Lock()
	sub.cc = cc
	f.mu.Unlock()

	log.Debug().Str("subject", sub.subject).Msg("subscribed")
	return sub, nil
}

func (f *Feed) SubscribeSession(ctx context.Context, sessionID uuid.UUID, fn func(backend.SessionChange)) (backend.Subscription, error) {
	return f.subscribe(ctx, KindSession, sessionID, func(v any) {
		if ev, ok := v.(backend.SessionChange); ok {
			fn(ev)
		}
	})
}

func (f *Feed) SubscribeQuestions(ctx context.Context, sessionID uuid.UUID, fn func(backend.QuestionInsert)) (backend.Subscription, error) {
	return f.subscribe(ctx, KindQuestions, sessionID, func(v any) {
		if ev, ok := v.(backend.QuestionInsert); ok {
			fn(ev)
		}
	})
}

func (f *Feed) SubscribeScores(ctx context.Context, sessionID uuid.UUID, fn func(backend.ScoreInsert)) (backend.Subscription, error) {
	return f.subscribe(ctx, KindScores, sessionID, func(v any) {
		if ev, ok := v.(backend.ScoreInsert); ok {
			fn(ev)
		}
	})
}
