package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
)

// ConsentRepository persists the append-only consent event log and the
// derived current-state record per (recipient, business). History is never
// rewritten; the record row always mirrors the most recent event.
type ConsentRepository interface {
	GetRecord(ctx context.Context, recipientID, businessID int64) (*model.ConsentRecord, error)
	Append(ctx context.Context, ev model.ConsentEvent) error
	ListEvents(ctx context.Context, recipientID, businessID int64, limit int) ([]model.ConsentEvent, error)
}

type ConsentRepositoryImpl struct {
	db *sqlx.DB
}

func NewConsentRepository(db *sqlx.DB) *ConsentRepositoryImpl {
	return &ConsentRepositoryImpl{db: db}
}

var _ ConsentRepository = (*ConsentRepositoryImpl)(nil)

func (r *ConsentRepositoryImpl) GetRecord(ctx context.Context, recipientID, businessID int64) (*model.ConsentRecord, error) {
	var rec model.ConsentRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT recipient_id, business_id, state, updated_at
		  FROM consent_records
		 WHERE recipient_id = ? AND business_id = ? LIMIT 1
	`, recipientID, businessID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Append writes the event row and upserts the derived record in one
// transaction, so the record can never drift from the log.
func (r *ConsentRepositoryImpl) Append(ctx context.Context, ev model.ConsentEvent) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consent_events (recipient_id, business_id, method, resulting_state, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.RecipientID, ev.BusinessID, ev.Method, ev.ResultingState.String(), ev.OccurredAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consent_records (recipient_id, business_id, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    state      = VALUES(state),
		    updated_at = VALUES(updated_at)
	`, ev.RecipientID, ev.BusinessID, ev.ResultingState.String(), ev.OccurredAt); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *ConsentRepositoryImpl) ListEvents(ctx context.Context, recipientID, businessID int64, limit int) ([]model.ConsentEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var rows []model.ConsentEvent
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, recipient_id, business_id, method, resulting_state, occurred_at
		  FROM consent_events
		 WHERE recipient_id = ? AND business_id = ?
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?
	`, recipientID, businessID, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
