package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Prober returns the trusted server clock.
type Prober interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Config holds clock synchronization settings.
type Config struct {
	SamplesPerProbe int           `yaml:"samples_per_probe"` // round trips per Initialize call
	MaxSamples      int           `yaml:"max_samples"`       // samples kept across calls
	ResyncInterval  time.Duration `yaml:"resync_interval"`   // how often Run refreshes the estimate
}

// DefaultConfig returns default clock sync settings.
func DefaultConfig() Config {
	return Config{
		SamplesPerProbe: 3,
		MaxSamples:      16,
		ResyncInterval:  60 * time.Second,
	}
}

type sample struct {
	offset time.Duration
	rtt    time.Duration
}

// Service keeps a process-wide offset between the local and server clock.
// Every countdown must read time through Now.
type Service struct {
	clock  clockwork.Clock
	prober Prober
	cfg    Config

	mu          sync.RWMutex
	offset      time.Duration
	samples     []sample
	initialized bool
}

// NewService creates a clock sync service.
func NewService(clock clockwork.Clock, prober Prober, cfg Config) *Service {
	if cfg.SamplesPerProbe <= 0 {
		cfg.SamplesPerProbe = 1
	}
	if cfg.MaxSamples < cfg.SamplesPerProbe {
		cfg.MaxSamples = cfg.SamplesPerProbe
	}
	return &Service{
		clock:  clock,
		prober: prober,
		cfg:    cfg,
	}
}

// Now returns the local clock corrected by the current offset.
func (s *Service) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now().Add(s.offset)
}

// Offset returns the current server-minus-local estimate.
func (s *Service) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Initialized reports whether at least one probe succeeded.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Initialize probes the server clock and refines the offset estimate.
// Safe to call repeatedly: earlier samples are kept and the lowest-latency ones win.
func (s *Service) Initialize(ctx context.Context) error {
	var (
		fresh   []sample
		lastErr error
	)
	for i := 0; i < s.cfg.SamplesPerProbe; i++ {
		smp, err := s.probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		fresh = append(fresh, smp)
	}
	if len(fresh) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no samples")
		}
		return fmt.Errorf("clock probe failed: %w", lastErr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, fresh...)
	if len(s.samples) > s.cfg.MaxSamples {
		s.samples = s.samples[len(s.samples)-s.cfg.MaxSamples:]
	}
	s.offset = estimate(s.samples)
	s.initialized = true

	log.Debug().
		Dur("offset", s.offset).
		Int("samples", len(s.samples)).
		Msg("clock offset updated")
	return nil
}

// Run refreshes the estimate every ResyncInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.ResyncInterval <= 0 {
		return
	}
	ticker := s.clock.NewTicker(s.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := s.Initialize(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("clock resync failed")
			}
		}
	}
}

// probe performs one round trip: offset = serverTime - (sendTime + rtt/2).
func (s *Service) probe(ctx context.Context) (sample, error) {
	sent := s.clock.Now()
	serverTime, err := s.prober.ServerTime(ctx)
	if err != nil {
		return sample{}, err
	}
	rtt := s.clock.Since(sent)
	if rtt < 0 {
		rtt = 0
	}
	return sample{
		offset: serverTime.Sub(sent.Add(rtt / 2)),
		rtt:    rtt,
	}, nil
}

// estimate averages the offsets of the samples with the smallest round trip.
// Asymmetric latency bounds the error of a sample by rtt/2, so fast samples are the trustworthy ones.
func estimate(samples []sample) time.Duration {
	sorted := make([]sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].rtt < sorted[j].rtt })

	best := sorted[0].rtt
	var (
		sum time.Duration
		n   time.Duration
	)
	for _, smp := range sorted {
		if smp.rtt > best*2 && n > 0 {
			break
		}
		sum += smp.offset
		n++
	}
	return sum / n
}
