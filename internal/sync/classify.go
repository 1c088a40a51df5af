package sync

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cybertec-postgresql/mailsync/internal/events"
	"github.com/cybertec-postgresql/mailsync/internal/retry"
)

// Classify decides how a failed patch persistence is handled.
// Skippable errors are also retriable: they are retried up to the limit and then dropped.
func Classify(err error) retry.Classification {
	c := retry.Classification{Err: err}

	if errors.Is(err, context.Canceled) {
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.Retriable = true
		return c
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsTransactionRollback(pgErr.Code),
			pgErr.Code == pgerrcode.CannotConnectNow:
			c.Retriable = true
		case pgerrcode.IsIntegrityConstraintViolation(pgErr.Code),
			pgerrcode.IsDataException(pgErr.Code):
			c.Retriable, c.Skippable = true, true
		}
		return c
	}

	var httpErr *events.HTTPError
	if errors.As(err, &httpErr) {
		switch code := httpErr.StatusCode; {
		case code == http.StatusUnauthorized, code == http.StatusForbidden:
		case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
			c.Retriable = true
		case code >= http.StatusBadRequest:
			c.Retriable, c.Skippable = true, true
		}
		return c
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.Retriable = true
	}
	return c
}
