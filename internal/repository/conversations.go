package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/util"
)

// ConversationsRepository manages the per-(recipient, business) conversation
// rows that group deliveries.
type ConversationsRepository interface {
	// Ensure returns the conversation id for the pair, creating the row
	// lazily on first use.
	Ensure(ctx context.Context, tx *sqlx.Tx, recipientID, businessID int64) (string, error)
	Touch(ctx context.Context, tx *sqlx.Tx, recipientID, businessID int64, at time.Time) error
	Get(ctx context.Context, recipientID, businessID int64) (*model.Conversation, error)
}

type ConversationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewConversationsRepository(db *sqlx.DB) *ConversationsRepositoryImpl {
	return &ConversationsRepositoryImpl{db: db}
}

var _ ConversationsRepository = (*ConversationsRepositoryImpl)(nil)

func (r *ConversationsRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *ConversationsRepositoryImpl) Ensure(ctx context.Context, tx *sqlx.Tx, recipientID, businessID int64) (string, error) {
	var id string
	err := r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			SELECT id FROM conversations
			 WHERE recipient_id = ? AND business_id = ? LIMIT 1
		`, recipientID, businessID).Scan(&id)
		if err == nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE conversations SET last_activity_at = NOW() WHERE id = ?
			`, id)
			return err
		}
		if err != sql.ErrNoRows {
			return err
		}

		id = util.New()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, recipient_id, business_id, status, last_activity_at, created_at)
			VALUES (?, ?, ?, 'active', NOW(), NOW())
		`, id, recipientID, businessID)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ConversationsRepositoryImpl) Touch(ctx context.Context, tx *sqlx.Tx, recipientID, businessID int64, at time.Time) error {
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_activity_at = ?
			 WHERE recipient_id = ? AND business_id = ?
		`, at, recipientID, businessID)
		return err
	})
}

func (r *ConversationsRepositoryImpl) Get(ctx context.Context, recipientID, businessID int64) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.GetContext(ctx, &c, `
		SELECT id, recipient_id, business_id, status, last_activity_at, created_at
		  FROM conversations
		 WHERE recipient_id = ? AND business_id = ? LIMIT 1
	`, recipientID, businessID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
