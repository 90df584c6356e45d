package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
)

type RecipientsRepository interface {
	Get(ctx context.Context, id int64) (*model.Recipient, error)
}

type RecipientsRepositoryImpl struct {
	db *sqlx.DB
}

func NewRecipientsRepository(db *sqlx.DB) *RecipientsRepositoryImpl {
	return &RecipientsRepositoryImpl{db: db}
}

var _ RecipientsRepository = (*RecipientsRepositoryImpl)(nil)

func (r *RecipientsRepositoryImpl) Get(ctx context.Context, id int64) (*model.Recipient, error) {
	var rec model.Recipient
	err := r.db.GetContext(ctx, &rec, `
		SELECT id, business_id, name, phone, sms_consent, created_at, updated_at
		  FROM recipients
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
