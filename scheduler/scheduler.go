package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Clock is the scheduler's view of time. Sleep returns early with the context's error on cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JitterFunc returns an offset in [-max, +max]
type JitterFunc func(max time.Duration) time.Duration

// UniformJitter draws whole seconds uniformly from [-max, +max]
func UniformJitter(r *rand.Rand) JitterFunc {
	var mu sync.Mutex
	return func(max time.Duration) time.Duration {
		seconds := int64(max / time.Second)
		if seconds <= 0 {
			return 0
		}

		mu.Lock()
		offset := r.Int63n(2*seconds+1) - seconds
		mu.Unlock()

		return time.Duration(offset) * time.Second
	}
}

// Due reports whether an account last checked at lastCheck should be checked at now.
// An account that was never checked is always due.
func Due(lastCheck time.Time, interval, jitter time.Duration, now time.Time) bool {
	if lastCheck.IsZero() {
		return true
	}
	return now.Sub(lastCheck) >= interval+jitter
}

// State holds the time each account was last attempted, successful or not
type State struct {
	mu        sync.Mutex
	lastCheck map[string]time.Time
}

// NewState seeds the state from persisted check times so a restart does not recheck everyone at once
func NewState(accounts []sectionsense.Account) *State {
	state := &State{lastCheck: make(map[string]time.Time, len(accounts))}
	for _, account := range accounts {
		if !account.LastCheck.IsZero() {
			state.lastCheck[account.ID] = account.LastCheck
		}
	}
	return state
}

func (s *State) LastCheck(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastCheck[id]
	return t, ok
}

func (s *State) Record(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck[id] = t
}

// Retain drops every account not in ids
func (s *State) Retain(ids map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.lastCheck {
		if _, ok := ids[id]; !ok {
			delete(s.lastCheck, id)
		}
	}
}

type Scheduler struct {
	store   sectionsense.AccountStore
	checker sectionsense.CheckerService
	cfg     config.Scheduler

	state  *State
	clock  Clock
	jitter JitterFunc
	logger zerolog.Logger
}

type Option func(*Scheduler)

func WithClock(clock Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithJitter(jitter JitterFunc) Option {
	return func(s *Scheduler) { s.jitter = jitter }
}

func WithState(state *State) Option {
	return func(s *Scheduler) { s.state = state }
}

func NewScheduler(store sectionsense.AccountStore, checker sectionsense.CheckerService, cfg config.Scheduler, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		checker: checker,
		cfg:     cfg,
		state:   NewState(nil),
		clock:   realClock{},
		jitter:  UniformJitter(rand.New(rand.NewSource(time.Now().UnixNano()))),
		logger:  log.With().Str("module", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps immediately, then once per tick until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.logger.Info().Dur("tick", s.cfg.Tick).Msg("scheduler started")
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler received context cancellation")
			return nil
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	checked, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep failed")
		return
	}
	if checked > 0 {
		s.logger.Debug().Int("checked", checked).Msg("sweep complete")
	}
}

// Sweep checks every due account once, sequentially, pausing between checks.
// A failing or panicking check never stops the sweep. Returns the number of accounts checked.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	accounts, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	ids := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		ids[account.ID] = struct{}{}
	}
	s.state.Retain(ids)

	checked := 0
	for _, account := range accounts {
		if ctx.Err() != nil {
			break
		}

		interval := account.Interval()
		if interval <= 0 {
			interval = time.Duration(s.cfg.DefaultInterval) * time.Second
		}

		lastCheck, ok := s.state.LastCheck(account.ID)
		if !ok {
			lastCheck = account.LastCheck
		}

		if !Due(lastCheck, interval, s.jitter(s.cfg.Jitter), s.clock.Now()) {
			continue
		}

		if checked > 0 {
			if err := s.clock.Sleep(ctx, s.cfg.Pacing); err != nil {
				break
			}
		}

		s.state.Record(account.ID, s.clock.Now())
		s.check(ctx, account.ID)
		checked++
	}

	return checked, nil
}

func (s *Scheduler) check(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("account", id).Interface("panic", r).Msg("recovered from panic during check")
		}
	}()

	if _, err := s.checker.Check(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("account", id).Msg("check failed")
	}
}
