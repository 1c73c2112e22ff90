// Package syncsched drives the polling loop that keeps a booking session in
// sync with the backend. It owns cadence only: what a fetch does and how its
// result is classified belongs to the caller.
package syncsched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CarsonDev1/carpooling-app-sub000/internal/observability"
)

// Outcome classifies one fetch so the scheduler can adjust its cadence.
type Outcome int

const (
	// OutcomeQuiet is a successful fetch with no new pending offers.
	OutcomeQuiet Outcome = iota
	// OutcomeActive is a successful fetch that surfaced new pending offers;
	// the scheduler drops to the fast floor to keep negotiation snappy.
	OutcomeActive
	// OutcomeTransient is a retryable failure; the interval doubles up to cap.
	OutcomeTransient
	// OutcomeRateLimited pauses fetching for the cool-down window, then
	// resumes at the backed-off interval rather than the base one.
	OutcomeRateLimited
	// OutcomeStop ends the loop: the booking reached a final state or the
	// resource is permanently gone.
	OutcomeStop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQuiet:
		return "quiet"
	case OutcomeActive:
		return "active"
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Fetch performs one synchronization round and reports how it went.
type Fetch func(ctx context.Context) Outcome

// Policy holds the cadence tuning knobs.
type Policy struct {
	Base     time.Duration // steady-state interval
	Floor    time.Duration // fast interval while offers are arriving
	Max      time.Duration // backoff cap
	Cooldown time.Duration // rate-limit pause, longer than Max
}

func (p Policy) withDefaults() Policy {
	if p.Base <= 0 {
		p.Base = 30 * time.Second
	}
	if p.Floor <= 0 || p.Floor > p.Base {
		p.Floor = 10 * time.Second
	}
	if p.Max < p.Base {
		p.Max = 4 * p.Base
	}
	if p.Cooldown <= p.Max {
		p.Cooldown = 2 * p.Max
	}
	return p
}

// Scheduler runs one fetch at a time on an adaptive timer. Because the next
// tick is armed only after the previous fetch returns, a tick that would
// have fired mid-fetch is skipped, never queued.
type Scheduler struct {
	policy Policy
	log    *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	failures int
	resume   chan struct{} // non-nil while paused, closed on resume
	started  bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(policy Policy, log *slog.Logger) *Scheduler {
	p := policy.withDefaults()
	return &Scheduler{
		policy:   p,
		log:      log,
		interval: p.Base,
		done:     make(chan struct{}),
	}
}

// Start launches the polling loop. The first fetch happens immediately.
// Start is one-shot; restarting a stopped scheduler is not supported.
func (s *Scheduler) Start(ctx context.Context, fetch Fetch) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx, fetch)
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once, but must not be called from inside a Fetch; a fetch that decides
// polling should end returns OutcomeStop instead.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-s.done
}

// Done is closed when the polling loop has exited, whether through Stop, a
// cancelled context or a fetch returning OutcomeStop.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// SetPaused gates fetching without touching backoff state. Resuming
// triggers an immediate fetch.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused && s.resume == nil {
		s.resume = make(chan struct{})
	} else if !paused && s.resume != nil {
		close(s.resume)
		s.resume = nil
	}
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume != nil
}

// Interval is the delay the scheduler will use after the next successful
// arming of the timer.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Failures is the consecutive transient/rate-limit failure count.
func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *Scheduler) run(ctx context.Context, fetch Fetch) {
	defer close(s.done)

	timer := time.NewTimer(0) // first fetch immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if gate := s.pauseGate(); gate != nil {
			select {
			case <-ctx.Done():
				return
			case <-gate:
			}
		}

		out := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		observability.SyncFetchesTotal.WithLabelValues(out.String()).Inc()

		next, stop := s.apply(out)
		if stop {
			return
		}
		observability.SyncPollInterval.Set(next.Seconds())
		timer.Reset(next)
	}
}

func (s *Scheduler) pauseGate() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume
}

// apply folds a fetch outcome into the cadence state and returns the delay
// before the next fetch.
func (s *Scheduler) apply(out Outcome) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch out {
	case OutcomeStop:
		return 0, true
	case OutcomeActive:
		s.failures = 0
		s.interval = s.policy.Floor
	case OutcomeQuiet:
		s.failures = 0
		s.interval = s.policy.Base
	case OutcomeTransient:
		s.failures++
		s.interval = s.backoff()
		s.log.Debug("fetch failed, backing off", "failures", s.failures, "interval", s.interval)
	case OutcomeRateLimited:
		s.failures++
		s.interval = s.backoff()
		s.log.Warn("rate limited, cooling down", "cooldown", s.policy.Cooldown, "resume_interval", s.interval)
		return s.policy.Cooldown, false
	}
	return s.interval, false
}

func (s *Scheduler) backoff() time.Duration {
	d := s.interval * 2
	if d > s.policy.Max {
		d = s.policy.Max
	}
	if d < s.policy.Base {
		d = s.policy.Base
	}
	return d
}
