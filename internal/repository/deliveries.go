package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
)

// ErrNotScheduled is returned by guarded updates when the delivery row is no
// longer in the scheduled state (already sent, failed, cancelled or
// rescheduled by a concurrent caller).
var ErrNotScheduled = errors.New("delivery is not in scheduled state")

// PromotedDraft pairs a new delivery with the draft it supersedes, for the
// atomic promotion commit.
type PromotedDraft struct {
	Delivery model.ScheduledDelivery
	DraftID  string
}

// DeliveriesRepository defines persistence for scheduled deliveries,
// including the compound commits that must be atomic: promotion (insert +
// draft supersede + conversation ensure), its compensating rollback,
// reschedule, and cancellation with draft-link cleanup.
type DeliveriesRepository interface {
	Get(ctx context.Context, id string) (*model.ScheduledDelivery, error)
	// FindActive returns the active (scheduled) delivery matching the
	// duplicate-prevention tuple, or nil if none exists.
	FindActive(ctx context.Context, recipientID, businessID int64, text string, at time.Time) (*model.ScheduledDelivery, error)
	ListByConversation(ctx context.Context, conversationID string) ([]model.ScheduledDelivery, error)

	CreatePromoted(ctx context.Context, d *model.ScheduledDelivery, draftID string) error
	CreatePromotedBatch(ctx context.Context, items []PromotedDraft) error
	// RollbackPromotion deletes the delivery row and restores the draft to
	// its pre-promotion state. Used when task submission fails after the
	// promotion commit. A delivery that already left the scheduled state is
	// kept, draft linkage included.
	RollbackPromotion(ctx context.Context, deliveryID, draftID string, prevState model.DraftState) error

	SetTaskHandle(ctx context.Context, id, handle string) error
	ApplyReschedule(ctx context.Context, id string, newTime time.Time, newText *string, newHandle string) error
	MarkSent(ctx context.Context, id string, sentAt time.Time, providerMessageID string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// MarkCancelled transitions the delivery to cancelled and clears the
	// originating draft's forward link so no draft points at a dead delivery.
	MarkCancelled(ctx context.Context, id string, sourceDraftID *string) error
}

type DeliveriesRepositoryImpl struct {
	db    *sqlx.DB
	convs ConversationsRepository
}

func NewDeliveriesRepository(db *sqlx.DB, convs ConversationsRepository) *DeliveriesRepositoryImpl {
	return &DeliveriesRepositoryImpl{db: db, convs: convs}
}

var _ DeliveriesRepository = (*DeliveriesRepositoryImpl)(nil)

const deliveryColumns = `
	id, recipient_id, business_id, conversation_id, text, scheduled_time,
	state, sent_at, task_handle, source_draft_id, failure_reason,
	provider_message_id, created_at, updated_at
`

func (r *DeliveriesRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
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

func (r *DeliveriesRepositoryImpl) Get(ctx context.Context, id string) (*model.ScheduledDelivery, error) {
	var d model.ScheduledDelivery
	err := r.db.GetContext(ctx, &d, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
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

func (r *DeliveriesRepositoryImpl) FindActive(ctx context.Context, recipientID, businessID int64, text string, at time.Time) (*model.ScheduledDelivery, error) {
	var d model.ScheduledDelivery
	err := r.db.GetContext(ctx, &d, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE recipient_id = ? AND business_id = ? AND text = ?
		   AND scheduled_time = ? AND state = 'scheduled'
		 LIMIT 1
	`, recipientID, businessID, text, at)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DeliveriesRepositoryImpl) ListByConversation(ctx context.Context, conversationID string) ([]model.ScheduledDelivery, error) {
	var rows []model.ScheduledDelivery
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+deliveryColumns+`
		  FROM deliveries
		 WHERE conversation_id = ?
		 ORDER BY scheduled_time ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeliveriesRepositoryImpl) insert(ctx context.Context, tx *sqlx.Tx, d model.ScheduledDelivery) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deliveries
		    (id, recipient_id, business_id, conversation_id, text,
		     scheduled_time, state, task_handle, source_draft_id, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())
	`, d.ID, d.RecipientID, d.BusinessID, d.ConversationID, d.Text,
		d.ScheduledTime, d.State.String(), d.TaskHandle, d.SourceDraftID)
	return err
}

func (r *DeliveriesRepositoryImpl) supersedeDraft(ctx context.Context, tx *sqlx.Tx, draftID, deliveryID string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE drafts
		   SET state = 'superseded', linked_delivery_id = ?, updated_at = NOW()
		 WHERE id = ? AND state IN ('draft', 'pending_review') AND linked_delivery_id IS NULL
	`, deliveryID, draftID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("draft already promoted or not promotable")
	}
	return nil
}

// CreatePromoted inserts the delivery, marks the draft superseded and links
// it, and lazily ensures the conversation — all in one transaction. On
// return d.ConversationID is populated.
func (r *DeliveriesRepositoryImpl) CreatePromoted(ctx context.Context, d *model.ScheduledDelivery, draftID string) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		convID, err := r.convs.Ensure(ctx, tx, d.RecipientID, d.BusinessID)
		if err != nil {
			return err
		}
		d.ConversationID = convID
		if err := r.insert(ctx, tx, *d); err != nil {
			return err
		}
		return r.supersedeDraft(ctx, tx, draftID, d.ID)
	})
}

// CreatePromotedBatch persists all successful promotions of a batch in a
// single transaction.
func (r *DeliveriesRepositoryImpl) CreatePromotedBatch(ctx context.Context, items []PromotedDraft) error {
	if len(items) == 0 {
		return nil
	}
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		for i := range items {
			d := &items[i].Delivery
			convID, err := r.convs.Ensure(ctx, tx, d.RecipientID, d.BusinessID)
			if err != nil {
				return err
			}
			d.ConversationID = convID
			if err := r.insert(ctx, tx, *d); err != nil {
				return err
			}
			if err := r.supersedeDraft(ctx, tx, items[i].DraftID, d.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DeliveriesRepositoryImpl) RollbackPromotion(ctx context.Context, deliveryID, draftID string, prevState model.DraftState) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM deliveries WHERE id = ? AND state = 'scheduled'`, deliveryID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// the executor settled the delivery first; it must survive and
			// the draft must stay superseded
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE drafts
			   SET state = ?, linked_delivery_id = NULL, updated_at = NOW()
			 WHERE id = ?
		`, prevState.String(), draftID)
		return err
	})
}

func (r *DeliveriesRepositoryImpl) SetTaskHandle(ctx context.Context, id, handle string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries SET task_handle = ?, updated_at = NOW()
		 WHERE id = ? AND state = 'scheduled'
	`, handle, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotScheduled
	}
	return nil
}

// ApplyReschedule swaps time, optional text, and task handle while the row is
// still scheduled. Scheduled -> scheduled is the only permitted same-state
// transition and only through this path.
func (r *DeliveriesRepositoryImpl) ApplyReschedule(ctx context.Context, id string, newTime time.Time, newText *string, newHandle string) error {
	q := `UPDATE deliveries SET scheduled_time = ?, task_handle = ?, updated_at = NOW()`
	args := []any{newTime, newHandle}
	if newText != nil {
		q += `, text = ?`
		args = append(args, *newText)
	}
	q += ` WHERE id = ? AND state = 'scheduled'`
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotScheduled
	}
	return nil
}

func (r *DeliveriesRepositoryImpl) MarkSent(ctx context.Context, id string, sentAt time.Time, providerMessageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET state = 'sent', sent_at = ?, provider_message_id = ?,
		       task_handle = NULL, updated_at = NOW()
		 WHERE id = ? AND state = 'scheduled'
	`, sentAt, providerMessageID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotScheduled
	}
	return nil
}

func (r *DeliveriesRepositoryImpl) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		   SET state = 'failed', failure_reason = ?, task_handle = NULL, updated_at = NOW()
		 WHERE id = ? AND state = 'scheduled'
	`, reason, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotScheduled
	}
	return nil
}

func (r *DeliveriesRepositoryImpl) MarkCancelled(ctx context.Context, id string, sourceDraftID *string) error {
	return r.withTx(ctx, nil, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE deliveries
			   SET state = 'cancelled', task_handle = NULL, updated_at = NOW()
			 WHERE id = ? AND state = 'scheduled'
		`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotScheduled
		}
		if sourceDraftID != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE drafts SET linked_delivery_id = NULL, updated_at = NOW() WHERE id = ?
			`, *sourceDraftID)
		}
		return err
	})
}

