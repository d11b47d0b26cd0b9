package checker

import (
	"context"
	"fmt"
	"time"

	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"github.com/jacobmichels/Section-Sense-Go/diff"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Checker implements CheckerService
var _ sectionsense.CheckerService = &Checker{}

type Checker struct {
	navigator sectionsense.Navigator
	extractor sectionsense.Extractor
	store     sectionsense.AccountStore
	handlers  []sectionsense.EventHandler

	locks    *Locks
	sessions *semaphore.Weighted
	now      func() time.Time
}

// NewChecker wires a checker. maxSessions caps concurrent portal sessions across all callers.
func NewChecker(n sectionsense.Navigator, e sectionsense.Extractor, s sectionsense.AccountStore, locks *Locks, maxSessions int64, h ...sectionsense.EventHandler) *Checker {
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &Checker{
		navigator: n,
		extractor: e,
		store:     s,
		handlers:  h,
		locks:     locks,
		sessions:  semaphore.NewWeighted(maxSessions),
		now:       time.Now,
	}
}

// WithClock replaces the time source used for LastCheck
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

func (c *Checker) Locks() *Locks {
	return c.locks
}

// Check fetches a fresh snapshot for the account, records the diff against the stored one and emits events.
// A failed fetch leaves the stored account untouched.
func (c *Checker) Check(ctx context.Context, id string) (sectionsense.Diff, error) {
	// Check steps
	// 1. Load the account under its lock
	// 2. Fetch and extract the current snapshot
	// 3. Diff against the stored snapshot and persist the updated account
	// 4. Emit events for gained and lost sections

	unlock := c.locks.Lock(id)
	defer unlock()

	logger := log.With().Str("module", "checker").Str("account", id).Logger()

	account, err := c.store.Get(ctx, id)
	if err != nil {
		return sectionsense.Diff{}, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	current, err := c.Snapshot(ctx, account.Username, account.Password)
	if err != nil {
		if sectionsense.IsTransient(err) {
			logger.Warn().Err(err).Msg("check failed")
		} else {
			logger.Info().Err(err).Msg("check failed")
		}
		c.emit(ctx, sectionsense.Event{Kind: sectionsense.EventCheckFailed, AccountID: id, Err: err})
		return sectionsense.Diff{}, fmt.Errorf("failed to check account %s: %w", id, err)
	}

	result := diff.Compute(account.Sections, current)

	account.Sections = current
	account.TotalChecks++
	account.TotalGained += len(result.Added)
	account.TotalLost += len(result.Removed)
	account.LastCheck = c.now()

	if err := c.store.Put(ctx, account); err != nil {
		return sectionsense.Diff{}, fmt.Errorf("failed to save account %s: %w", id, err)
	}

	logger.Info().
		Int("sections", len(current)).
		Int("added", len(result.Added)).
		Int("removed", len(result.Removed)).
		Msg("check complete")

	if len(result.Added) > 0 {
		c.emit(ctx, sectionsense.Event{Kind: sectionsense.EventSectionsAdded, AccountID: id, Sections: result.Added})
	}
	if len(result.Removed) > 0 {
		c.emit(ctx, sectionsense.Event{Kind: sectionsense.EventSectionsRemoved, AccountID: id, Sections: result.Removed})
	}

	return result, nil
}

// Refresh replaces the stored snapshot with a fresh one without diffing or emitting events
func (c *Checker) Refresh(ctx context.Context, id string) (sectionsense.Snapshot, error) {
	unlock := c.locks.Lock(id)
	defer unlock()

	account, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", id, err)
	}

	current, err := c.Snapshot(ctx, account.Username, account.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh account %s: %w", id, err)
	}

	account.Sections = current
	if err := c.store.Put(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save account %s: %w", id, err)
	}

	return current.Clone(), nil
}

// Snapshot logs in with the given credentials and extracts the available sections.
// Waits for a free portal session first.
func (c *Checker) Snapshot(ctx context.Context, username string, password sectionsense.Secret) (sectionsense.Snapshot, error) {
	if err := c.sessions.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire portal session: %w", err)
	}
	defer c.sessions.Release(1)

	markup, err := c.navigator.Navigate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	snapshot, err := c.extractor.Extract(markup)
	if err != nil {
		return nil, &sectionsense.ProtocolError{Step: "extract", Reason: "sections page could not be parsed", Err: err}
	}

	return snapshot, nil
}

func (c *Checker) emit(ctx context.Context, event sectionsense.Event) {
	for _, handler := range c.handlers {
		if err := handler.Handle(ctx, event); err != nil {
			log.Error().Err(err).
				Str("module", "checker").
				Str("account", event.AccountID).
				Stringer("event", event.Kind).
				Msg("failed to handle event")
		}
	}
}
