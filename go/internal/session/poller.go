package session

import (
	"context"

	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/backend"
	"github.com/lmdrew96/ScribeCat-v2-sub004/go/internal/models"
)

type pollKind int

const (
	pollNone pollKind = iota
	pollWaiting
	pollActive
)

func (k pollKind) String() string {
	switch k {
	case pollWaiting:
		return "waiting poll"
	case pollActive:
		return "in-progress poll"
	default:
		return "none"
	}
}

// poller re-fetches the session row on a fixed cadence and feeds it through the same
// reconciliation as notifications. It is a fallback for dropped pushes.
type poller struct {
	kind   pollKind
	cancel context.CancelFunc
}

// wantPoller picks the poller for the current state. Loop only.
func (c *Controller) wantPoller() pollKind {
	if c.closed || c.cfg.DisablePolling || c.st.ConnectionLost {
		return pollNone
	}
	switch c.st.Session.Status {
	case models.GameStatusWaiting:
		return pollWaiting
	case models.GameStatusInProgress:
		return pollActive
	default:
		return pollNone
	}
}

// syncPoller starts, switches or stops the poller to match the session status. Loop only.
func (c *Controller) syncPoller() {
	want := c.wantPoller()
	if c.poll != nil && c.poll.kind == want {
		return
	}
	c.stopPoller()
	if want == pollNone {
		return
	}

	interval := c.cfg.ActivePollInterval
	if want == pollWaiting {
		interval = c.cfg.WaitingPollInterval
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.poll = &poller{kind: want, cancel: cancel}
	c.logger.Debug().Str("poller", want.String()).Dur("interval", interval).Msg("poller started")

	c.goRun(func() {
		ticker := c.clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s, err := backend.RetryRead(ctx, c.clock, c.cfg.Read, "poll session", func(ctx context.Context) (*models.GameSession, error) {
					return c.gw.FetchSession(ctx, c.sessionID)
				})
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Warn().Err(err).Str("poller", want.String()).Msg("session poll failed")
					}
					continue
				}
				c.post(func() { c.reconcile(*s, want.String()) })
			}
		}
	})
}

func (c *Controller) stopPoller() {
	if c.poll == nil {
		return
	}
	c.poll.cancel()
	c.logger.Debug().Str("poller", c.poll.kind.String()).Msg("poller stopped")
	c.poll = nil
}
