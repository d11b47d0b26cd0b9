package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/checker"
	"github.com/jacobmichels/Section-Sense-Go/config"
	"github.com/rs/zerolog/log"
)

// Service implements MonitorService
var _ sectionsense.MonitorService = &Service{}

type Service struct {
	checker *checker.Checker
	store   sectionsense.AccountStore
	cfg     config.Scheduler
	now     func() time.Time
}

func NewService(c *checker.Checker, s sectionsense.AccountStore, cfg config.Scheduler) *Service {
	return &Service{c, s, cfg, time.Now}
}

// Onboard verifies the credentials with a live fetch and stores the account with that first snapshot.
// Nothing is stored when the fetch fails. Onboarding an existing account replaces its credentials and
// snapshot and keeps its counters and interval.
func (s *Service) Onboard(ctx context.Context, id, username string, password sectionsense.Secret) (sectionsense.Snapshot, error) {
	// Onboarding steps
	// 1. Validate input
	// 2. Ensure the credentials work by fetching the current sections
	// 3. Persist the account with the fetched snapshot

	username = strings.TrimSpace(username)
	if id == "" {
		return nil, &sectionsense.ValidationError{Field: "id", Value: id, Message: "must not be empty"}
	}
	if username == "" {
		return nil, &sectionsense.ValidationError{Field: "username", Value: username, Message: "must not be empty"}
	}
	if password.Reveal() == "" {
		return nil, &sectionsense.ValidationError{Field: "password", Value: password, Message: "must not be empty"}
	}

	snapshot, err := s.checker.Snapshot(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credentials for %s: %w", id, err)
	}

	unlock := s.checker.Locks().Lock(id)
	defer unlock()

	account, err := s.store.Get(ctx, id)
	if errors.Is(err, sectionsense.ErrAccountNotFound) {
		account = sectionsense.Account{
			ID:              id,
			IntervalSeconds: s.cfg.DefaultInterval,
			RegisteredAt:    s.now(),
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	account.Username = username
	account.Password = password
	account.Sections = snapshot

	if err := s.store.Put(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to persist account %s: %w", id, err)
	}

	log.Info().Str("module", "monitor").Str("account", id).Int("sections", len(snapshot)).Msg("account onboarded")

	return snapshot.Clone(), nil
}

// CheckNow runs a check outside the schedule
func (s *Service) CheckNow(ctx context.Context, id string) (sectionsense.Diff, error) {
	return s.checker.Check(ctx, id)
}

// SetInterval changes how often the account is checked. Values below the configured minimum or above
// MaxIntervalSeconds are rejected.
func (s *Service) SetInterval(ctx context.Context, id string, seconds int) error {
	if seconds > sectionsense.MaxIntervalSeconds {
		return &sectionsense.ValidationError{
			Field:   "interval",
			Value:   seconds,
			Message: fmt.Sprintf("must be at most %d seconds (%d days)", sectionsense.MaxIntervalSeconds, sectionsense.MaxIntervalSeconds/(24*60*60)),
		}
	}
	if seconds < s.cfg.MinInterval {
		return &sectionsense.ValidationError{
			Field:   "interval",
			Value:   seconds,
			Message: fmt.Sprintf("must be at least %d seconds (%d minutes)", s.cfg.MinInterval, s.cfg.MinInterval/60),
		}
	}

	unlock := s.checker.Locks().Lock(id)
	defer unlock()

	account, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", id, err)
	}

	account.IntervalSeconds = seconds
	if err := s.store.Put(ctx, account); err != nil {
		return fmt.Errorf("failed to persist account %s: %w", id, err)
	}

	return nil
}

// Unregister removes the account, reporting whether it existed
func (s *Service) Unregister(ctx context.Context, id string) (bool, error) {
	unlock := s.checker.Locks().Lock(id)
	defer unlock()

	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete account %s: %w", id, err)
	}

	if deleted {
		log.Info().Str("module", "monitor").Str("account", id).Msg("account unregistered")
	}

	return deleted, nil
}

func (s *Service) Account(ctx context.Context, id string) (sectionsense.Account, error) {
	return s.store.Get(ctx, id)
}

// Sections fetches the current sections and stores them as the account's snapshot without notifying
func (s *Service) Sections(ctx context.Context, id string) (sectionsense.Snapshot, error) {
	return s.checker.Refresh(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]sectionsense.Account, error) {
	return s.store.List(ctx)
}
