package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/mailsync/internal/db"
	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/notify"
	"github.com/cybertec-postgresql/mailsync/internal/patch"
	"github.com/cybertec-postgresql/mailsync/internal/retry"
)

// ErrLockLost is returned by Start when the account lock lease expires
var ErrLockLost = errors.New("account lock lost")

// Store persists the account mirror
type Store interface {
	EnsureAccount(ctx context.Context, login string) (db.AccountMetadata, error)
	ApplyPatch(ctx context.Context, login string, p patch.Patch, cursor events.Cursor) error
	ResetAccount(ctx context.Context, login string) error
}

// Observer streams live raw change events
type Observer interface {
	Observe(ctx context.Context) <-chan events.RawChangeEvent
}

// Locker guards the account against concurrent workers
type Locker interface {
	Lock(ctx context.Context) error
	TryLock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Lost() <-chan struct{}
}

// Service keeps one account mirror in sync with the remote feed
type Service struct {
	config     Config
	store      Store
	transport  events.Transport
	fetcher    *events.Fetcher
	builder    events.PatchBuilder
	controller *retry.Controller
	observer   Observer
	lock       Locker
	logger     *logrus.Entry
}

// Option configures optional collaborators of the service
type Option func(*Service)

// WithObserver enables live triggers from observed raw events
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLock makes the service hold l while running
func WithLock(l Locker) Option {
	return func(s *Service) { s.lock = l }
}

// NewService creates a new synchronization service
func NewService(config Config, store Store, transport events.Transport, builder events.PatchBuilder, logger *logrus.Entry, opts ...Option) *Service {
	config = config.withDefaults()
	s := &Service{
		config:     config,
		store:      store,
		transport:  transport,
		fetcher:    events.NewFetcher(transport, logger),
		builder:    builder,
		controller: retry.NewController(config.Patch, Classify, logger),
		logger:     logger.WithField("component", "sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs an initial sync cycle and then a cycle on every tick or live trigger
// until ctx is done or a cycle fails fatally.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting mailbox synchronization")

	var lost <-chan struct{}
	if s.lock != nil {
		acquire := s.lock.Lock
		if s.config.NoWait {
			acquire = s.lock.TryLock
		}
		if err := acquire(ctx); err != nil {
			return err
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithError(err).Warn("Failed to release account lock")
			}
		}()
		lost = s.lock.Lost()
	}

	if err := s.SyncOnce(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	}

	var notifications <-chan notify.Notification
	if s.observer != nil {
		batcher := notify.NewBatcher(s.builder, s.config.Debounce,
			notify.NewUnreadTracker(notify.AlmostAllMailLabelID), s.logger)
		notifications = batcher.Run(ctx, s.observer.Observe(ctx))
	}

	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Synchronization stopped due to context cancellation")
			return ctx.Err()
		case <-lost:
			return ErrLockLost
		case <-ticker.C:
			if err := s.cycle(ctx); err != nil {
				return err
			}
		case n, ok := <-notifications:
			if !ok {
				notifications = nil
				if ctx.Err() == nil {
					s.logger.Warn("Live events stopped, continuing with polling only")
				}
				continue
			}
			if n.Unread != nil {
				s.logger.WithField("unread", *n.Unread).Info("Unread count changed")
			}
			if n.BatchEntityUpdatesCounter > 0 {
				if err := s.cycle(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// cycle runs one catch-up cycle; only cancellation and bootstrap failures stop the service
func (s *Service) cycle(ctx context.Context) error {
	err := s.SyncOnce(ctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, retry.ErrNotBootstrapped):
		return err
	}
	s.logger.WithError(err).Error("Sync cycle failed")
	return nil
}

// SyncOnce bootstraps the account or fetches and persists the events missed since its cursor
func (s *Service) SyncOnce(ctx context.Context) error {
	meta, err := s.store.EnsureAccount(ctx, s.config.Account)
	if err != nil {
		return err
	}
	if !meta.IsBootstrapped() {
		return s.bootstrap(ctx, meta)
	}

	result, err := s.fetcher.FetchEvents(ctx, meta.LatestEventID)
	if err != nil {
		return err
	}
	if result.Refresh {
		return s.refresh(ctx)
	}

	p, err := s.builder.BuildPatch(ctx, result.Events)
	if err != nil {
		return fmt.Errorf("failed to build patch: %w", err)
	}
	if !patch.IsNonEmpty(p) && result.Cursor == meta.LatestEventID {
		s.logger.Debug("Mirror is up to date")
		return nil
	}

	// a skipped patch still moves the cursor past the events it was built from
	return s.controller.DoOrSkip(ctx, meta, func(ctx context.Context) error {
		return s.store.ApplyPatch(ctx, s.config.Account, p, result.Cursor)
	}, func(ctx context.Context) error {
		return s.store.ApplyPatch(ctx, s.config.Account, patch.Empty(), result.Cursor)
	})
}
