// Package sync runs the per-account mailbox sync: bootstrap, catch-up cycles and live triggers.
package sync

import (
	"time"

	"github.com/cybertec-postgresql/mailsync/internal/notify"
	"github.com/cybertec-postgresql/mailsync/internal/retry"
)

// DefaultPollingInterval is how often a catch-up cycle runs without live triggers
const DefaultPollingInterval = time.Minute

// Config represents the per-account sync configuration
type Config struct {
	Account         string
	PollingInterval time.Duration
	Debounce        time.Duration
	Patch           retry.PatchConfig
	// NoWait makes Start fail instead of waiting when another worker holds the account
	NoWait          bool
}

func (c Config) withDefaults() Config {
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = notify.DefaultQuietPeriod
	}
	// a zero limit is valid on its own, so it only defaults along with the delay
	if c.Patch == (retry.PatchConfig{}) {
		c.Patch.RetriesLimit = retry.PatchDefaults().RetriesLimit
	}
	if c.Patch.RetriesDelay <= 0 {
		c.Patch.RetriesDelay = retry.PatchDefaults().RetriesDelay
	}
	return c
}
