package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// ErrNotBootstrapped wraps failures surfaced because the account never completed its initial sync
var ErrNotBootstrapped = errors.New("account is not bootstrapped")

// Classification is the decision input derived from a raw failure
type Classification struct {
	Err       error
	Retriable bool
	Skippable bool
}

// Classifier maps a raw failure to a Classification
type Classifier func(err error) Classification

// Metadata answers whether the account has completed its initial full sync
type Metadata interface {
	IsBootstrapped() bool
}

// PatchConfig configures the patch persistence controller
type PatchConfig struct {
	RetriesDelay time.Duration
	RetriesLimit uint64
}

// PatchDefaults returns the defaults for patch persistence
func PatchDefaults() PatchConfig {
	return PatchConfig{
		RetriesDelay: 5 * time.Second,
		RetriesLimit: 3,
	}
}

// CreateBackoff creates a fixed-delay backoff from config
func (c PatchConfig) CreateBackoff() retry.Backoff {
	delay := c.RetriesDelay
	if delay <= 0 {
		delay = PatchDefaults().RetriesDelay
	}
	return retry.WithMaxRetries(c.RetriesLimit, retry.NewConstant(delay))
}

// Controller decides per failed patch application whether to retry, skip or fail
type Controller struct {
	config     PatchConfig
	classify   Classifier
	logger     *logrus.Entry
	newBackoff func() retry.Backoff
}

// NewController creates a new controller
func NewController(config PatchConfig, classify Classifier, logger *logrus.Entry) *Controller {
	return &Controller{
		config:     config,
		classify:   classify,
		logger:     logger.WithField("component", "retry"),
		newBackoff: config.CreateBackoff,
	}
}

// Do runs apply and handles its failures. A skipped failure makes Do return nil
// without invoking apply again.
func (c *Controller) Do(ctx context.Context, meta Metadata, apply func(ctx context.Context) error) error {
	return c.DoOrSkip(ctx, meta, apply, nil)
}

// DoOrSkip is Do with a hook run once when the failure is skipped. The hook
// error, if any, is returned as is and never retried.
func (c *Controller) DoOrSkip(ctx context.Context, meta Metadata, apply, skip func(ctx context.Context) error) error {
	var attempt uint64

	return retry.Do(ctx, c.newBackoff(), func(ctx context.Context) error {
		rawErr := apply(ctx)
		if rawErr == nil {
			return nil
		}

		index := attempt
		attempt++

		decision := c.classify(rawErr)
		if decision.Err == nil {
			decision.Err = rawErr
		}
		logger := c.logger.WithFields(logrus.Fields{
			"attempt":   index,
			"retriable": decision.Retriable,
			"skippable": decision.Skippable,
		})

		// no retrying for the initial/bootstrap sync
		if meta == nil || !meta.IsBootstrapped() {
			logger.WithError(decision.Err).Error("Patch persistence failed during bootstrap")
			return fmt.Errorf("%w: %w", ErrNotBootstrapped, decision.Err)
		}

		if index >= c.config.RetriesLimit {
			if decision.Skippable {
				logger.WithError(decision.Err).Warn("Skipping patch persistence")
				if skip == nil {
					return nil
				}
				if err := skip(ctx); err != nil {
					return fmt.Errorf("failed to skip patch: %w", err)
				}
				return nil
			}
			logger.WithError(decision.Err).Error("Patch persistence failed after retries")
			return decision.Err
		}

		if decision.Retriable {
			logger.WithError(decision.Err).Warn("Retrying patch persistence")
			return retry.RetryableError(decision.Err)
		}

		logger.WithError(decision.Err).Error("Patch persistence failed with non-retriable error")
		return decision.Err
	})
}
