package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/relaypoint/outreach-engine/internal/model"
)

// CHDeliveriesRepository lists delivery history from ClickHouse (final view).
type CHDeliveriesRepository interface {
	ListByBusiness(ctx context.Context, businessID, recipientID int64, state model.DeliveryState, limit, offset int) ([]model.ScheduledDelivery, error)
}

type chDeliveriesRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHDeliveriesRepository(ch *sqlx.DB) CHDeliveriesRepository {
	return &chDeliveriesRepository{ch: ch}
}

func (r *chDeliveriesRepository) ListByBusiness(ctx context.Context, businessID, recipientID int64, state model.DeliveryState, limit, offset int) ([]model.ScheduledDelivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, recipient_id, business_id, conversation_id, text, scheduled_time,
		       state, sent_at, task_handle, source_draft_id, failure_reason,
		       provider_message_id, created_at, updated_at
		FROM outreach.deliveries_latest
		WHERE business_id = ?
	`
	args := []any{businessID}

	if recipientID > 0 {
		q += " AND recipient_id = ?"
		args = append(args, recipientID)
	}
	if state != "" {
		q += " AND state = ?"
		args = append(args, state.String())
	}

	q += " ORDER BY scheduled_time DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.ScheduledDelivery
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
