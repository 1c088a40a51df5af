package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/mailsync/internal/events"
)

// DefaultListenChannel is the notification channel live change events are published on
const DefaultListenChannel = "mail_events"

// notificationConn is the part of *pgx.Conn used by the listener
type notificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// eventNotification is the JSON payload published on the channel
type eventNotification struct {
	Account string                `json:"account"`
	Event   events.RawChangeEvent `json:"event"`
}

// Listener observes live raw change events published via NOTIFY
type Listener struct {
	conn    notificationConn
	account string
	logger  *logrus.Entry
}

// NewListener opens a LISTEN connection for the account's live events
func NewListener(ctx context.Context, pool PgxPoolIface, channel, account string, logger *logrus.Entry) (*Listener, error) {
	if channel == "" {
		channel = DefaultListenChannel
	}
	conn, err := SetupListen(ctx, pool, channel)
	if err != nil {
		return nil, err
	}
	return newListener(conn, account, logger.WithField("channel", channel)), nil
}

func newListener(conn notificationConn, account string, logger *logrus.Entry) *Listener {
	return &Listener{
		conn:    conn,
		account: account,
		logger:  logger.WithField("component", "listener"),
	}
}

// Observe streams the account's events until ctx is done or the connection fails.
// The returned channel is closed on exit.
func (l *Listener) Observe(ctx context.Context) <-chan events.RawChangeEvent {
	out := make(chan events.RawChangeEvent)

	go func() {
		defer close(out)
		defer func() { _ = l.conn.Close(context.WithoutCancel(ctx)) }()

		for {
			n, err := l.conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
					l.logger.WithError(err).Error("Waiting for notification failed")
				}
				return
			}

			var payload eventNotification
			if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
				l.logger.WithError(err).Warn("Ignoring malformed event notification")
				continue
			}
			if payload.Account != l.account {
				continue
			}
			if payload.Event.EventID == "" {
				l.logger.Warn("Ignoring event notification without event id")
				continue
			}

			select {
			case out <- payload.Event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
