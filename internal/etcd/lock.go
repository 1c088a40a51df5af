package etcd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// DefaultLockTTL is the lease TTL in seconds backing an account lock
const DefaultLockTTL = 10

// ErrAccountLocked is returned by TryLock when another worker holds the account
var ErrAccountLocked = errors.New("account is synced by another worker")

// LockKey returns the etcd key guarding an account
func LockKey(prefix, login string) string {
	return path.Join("/", prefix, "mailsync", "accounts", login)
}

// AccountLock is a lease-backed mutex over one account
type AccountLock struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
	key     string
	logger  *logrus.Entry
}

// NewAccountLock opens a session with the given TTL in seconds and prepares the account mutex
func NewAccountLock(ctx context.Context, c *Client, login string, ttl int, logger *logrus.Entry) (*AccountLock, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	session, err := concurrency.NewSession(c.client, concurrency.WithTTL(ttl), concurrency.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}
	key := LockKey(c.prefix, login)
	return &AccountLock{
		session: session,
		mutex:   concurrency.NewMutex(session, key),
		key:     key,
		logger:  logger.WithField("lock", key),
	}, nil
}

// Lock blocks until the account is acquired or ctx is done
func (l *AccountLock) Lock(ctx context.Context) error {
	start := time.Now()
	if err := l.mutex.Lock(ctx); err != nil {
		return fmt.Errorf("failed to acquire %s: %w", l.key, err)
	}
	l.logger.WithField("waited", time.Since(start)).Info("Account lock acquired")
	return nil
}

// TryLock acquires the account without waiting
func (l *AccountLock) TryLock(ctx context.Context) error {
	if err := l.mutex.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return ErrAccountLocked
		}
		return fmt.Errorf("failed to acquire %s: %w", l.key, err)
	}
	l.logger.Info("Account lock acquired")
	return nil
}

// Unlock releases the account and closes the session
func (l *AccountLock) Unlock(ctx context.Context) error {
	err := l.mutex.Unlock(ctx)
	if closeErr := l.session.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", l.key, err)
	}
	l.logger.Info("Account lock released")
	return nil
}

// Lost is closed when the session lease expires and the lock can no longer be trusted
func (l *AccountLock) Lost() <-chan struct{} {
	return l.session.Done()
}
