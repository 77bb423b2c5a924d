package backend

import "sync"

// LossSignal delivers a single connection-loss error to whoever watches Lost.
type LossSignal struct {
	once sync.Once
	ch   chan error
}

func NewLossSignal() *LossSignal {
	return &LossSignal{ch: make(chan error, 1)}
}

// Fire records err as the loss reason. Only the first call has an effect.
func (s *LossSignal) Fire(err error) {
	s.once.Do(func() {
		s.ch <- err
	})
}

func (s *LossSignal) Lost() <-chan error {
	return s.ch
}
