// Package log configures logrus for mailsync and builds per-account log entries.
package log

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewFormatter returns the text formatter used by every mailsync process
func NewFormatter(noColors bool) logrus.Formatter {
	return &logrus.TextFormatter{
		DisableColors:    noColors,
		ForceColors:      !noColors,
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05.000",
		QuoteEmptyFields: true,
		PadLevelText:     true,
	}
}

// ForAccount returns an entry tagged with the account and a fresh session id,
// so that the lines of one sync session can be told apart after restarts.
func ForAccount(logger *logrus.Logger, login string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"account": login,
		"session": uuid.NewString(),
	})
}
