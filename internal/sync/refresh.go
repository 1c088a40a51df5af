package sync

import (
	"context"
	"fmt"

	"github.com/cybertec-postgresql/mailsync/internal/db"
	"github.com/cybertec-postgresql/mailsync/internal/patch"
)

// bootstrap anchors an empty mirror at the latest remote cursor, so that the
// following cycles only fetch what changed from now on
func (s *Service) bootstrap(ctx context.Context, meta db.AccountMetadata) error {
	cursor, err := s.transport.GetLatestEventID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest event id: %w", err)
	}

	err = s.controller.Do(ctx, meta, func(ctx context.Context) error {
		return s.store.ApplyPatch(ctx, s.config.Account, patch.Empty(), cursor)
	})
	if err != nil {
		return err
	}

	s.logger.WithField("cursor", cursor).Info("Account bootstrapped")
	return nil
}

// refresh drops the stale mirror and bootstraps it again
func (s *Service) refresh(ctx context.Context) error {
	s.logger.Warn("Mirror is stale, rebuilding from scratch")
	if err := s.store.ResetAccount(ctx, s.config.Account); err != nil {
		return fmt.Errorf("failed to reset account: %w", err)
	}
	return s.bootstrap(ctx, db.AccountMetadata{Login: s.config.Account})
}
