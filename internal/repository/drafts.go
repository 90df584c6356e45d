package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
)

// DraftsRepository defines persistence for the drafts table.
type DraftsRepository interface {
	Get(ctx context.Context, id string) (*model.Draft, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.Draft, error)
	Insert(ctx context.Context, tx *sqlx.Tx, d model.Draft) error
	UpdateState(ctx context.Context, tx *sqlx.Tx, id string, state model.DraftState) error
	UpdateContent(ctx context.Context, tx *sqlx.Tx, id, text string) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
}

type DraftsRepositoryImpl struct {
	db *sqlx.DB
}

func NewDraftsRepository(db *sqlx.DB) *DraftsRepositoryImpl {
	return &DraftsRepositoryImpl{db: db}
}

var _ DraftsRepository = (*DraftsRepositoryImpl)(nil)

func (r *DraftsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *DraftsRepositoryImpl) Get(ctx context.Context, id string) (*model.Draft, error) {
	var d model.Draft
	err := r.db.GetContext(ctx, &d, `
		SELECT id, recipient_id, business_id, text, suggested_send_time,
		       state, linked_delivery_id, created_at, updated_at
		  FROM drafts
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DraftsRepositoryImpl) ListByIDs(ctx context.Context, ids []string) ([]model.Draft, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, recipient_id, business_id, text, suggested_send_time,
		       state, linked_delivery_id, created_at, updated_at
		  FROM drafts
		 WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	query = r.db.Rebind(query)

	var rows []model.Draft
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DraftsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, d model.Draft) error {
	const q = `
		INSERT INTO drafts
		    (id, recipient_id, business_id, text, suggested_send_time, state, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, NOW(), NOW())
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			d.ID, d.RecipientID, d.BusinessID, d.Text, d.SuggestedSendTime, d.State.String(),
		)
		return err
	})
}

func (r *DraftsRepositoryImpl) UpdateState(ctx context.Context, tx *sqlx.Tx, id string, state model.DraftState) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE drafts SET state = ?, updated_at = NOW() WHERE id = ?
		`, state.String(), id)
		return err
	})
}

func (r *DraftsRepositoryImpl) UpdateContent(ctx context.Context, tx *sqlx.Tx, id, text string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE drafts SET text = ?, updated_at = NOW() WHERE id = ?
		`, text, id)
		return err
	})
}

func (r *DraftsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id)
		return err
	})
}
