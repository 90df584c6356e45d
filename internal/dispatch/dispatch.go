// Package dispatch wraps the delayed-task scheduler for delivery jobs.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/scheduler"
)

// DeliveryReader is the slice of the delivery store the dispatcher needs to
// enforce at-most-one outstanding task per delivery.
type DeliveryReader interface {
	Get(ctx context.Context, id string) (*model.ScheduledDelivery, error)
}

// Dispatcher submits and cancels delivery tasks. Submit refuses a delivery
// that already holds a live handle; Replace is the reschedule path that
// intentionally overlaps the old and new task until the old handle is
// cancelled.
type Dispatcher interface {
	Submit(ctx context.Context, deliveryID string, eta time.Time) (string, error)
	Replace(ctx context.Context, deliveryID string, eta time.Time) (string, error)
	Cancel(ctx context.Context, handle string)
}

type TaskDispatcher struct {
	tasks      scheduler.TaskScheduler
	deliveries DeliveryReader
	log        *zap.Logger
}

func New(tasks scheduler.TaskScheduler, deliveries DeliveryReader, log *zap.Logger) *TaskDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskDispatcher{tasks: tasks, deliveries: deliveries, log: log}
}

var _ Dispatcher = (*TaskDispatcher)(nil)

func (d *TaskDispatcher) Submit(ctx context.Context, deliveryID string, eta time.Time) (string, error) {
	row, err := d.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return "", fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if row != nil && row.State == model.DeliveryStateScheduled && row.TaskHandle != nil {
		return "", fmt.Errorf("delivery %s already has an outstanding task", deliveryID)
	}

	handle, err := d.tasks.Submit(ctx, deliveryID, eta)
	if err != nil {
		return "", fmt.Errorf("submit task for delivery %s: %w", deliveryID, err)
	}
	return handle, nil
}

// Replace submits a task for a delivery that already holds a live handle.
// The caller commits the new handle and then cancels the old one, so both
// tasks briefly coexist; if the old one fires during that window the
// executor's state re-check absorbs it.
func (d *TaskDispatcher) Replace(ctx context.Context, deliveryID string, eta time.Time) (string, error) {
	handle, err := d.tasks.Submit(ctx, deliveryID, eta)
	if err != nil {
		return "", fmt.Errorf("submit replacement task for delivery %s: %w", deliveryID, err)
	}
	return handle, nil
}

// Cancel is best-effort and idempotent: a failed or stale cancel is logged,
// never propagated. The executor's state re-check absorbs a job that fires
// anyway.
func (d *TaskDispatcher) Cancel(ctx context.Context, handle string) {
	if handle == "" {
		return
	}
	if err := d.tasks.Cancel(ctx, handle); err != nil {
		d.log.Warn("task cancel failed", zap.String("handle", handle), zap.Error(err))
	}
}
