package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Audit recorder. Entries are inserted in the same transaction as the
// state change they describe; a transition without its audit entry is not
// committed. The read path is out of scope for this service.

func insertAuditTx(ctx context.Context, tx *sqlx.Tx, entry models.AuditLogEntry) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO audit_log (actor, entity_type, entity_id, old_value, new_value) VALUES ($1, $2, $3, $4, $5)",
		entry.Actor, entry.EntityType, entry.EntityID, entry.OldValue, entry.NewValue)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// RecordAudit writes a standalone entry outside any transition, e.g. an
// unsolicited refund event that was logged but not applied.
func (s *Store) RecordAudit(ctx context.Context, entry models.AuditLogEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertAuditTx(ctx, tx, entry)
	})
}
