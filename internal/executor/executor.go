// Package executor fires scheduled deliveries when their task comes due.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/gateway"
	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
	"github.com/relaypoint/outreach-engine/internal/util"
)

// Deliveries is the slice of the delivery store the executor needs.
type Deliveries interface {
	Get(ctx context.Context, id string) (*model.ScheduledDelivery, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, providerMessageID string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type Recipients interface {
	Get(ctx context.Context, id int64) (*model.Recipient, error)
}

type Gate interface {
	Evaluate(ctx context.Context, recipientID, businessID int64, isDirectReply bool) error
}

// TaskSubmitter requeues a fired payload. Batch promotion submits tasks
// before the rows commit, so a past-ETA task can fire for a delivery that
// does not exist yet.
type TaskSubmitter interface {
	Submit(ctx context.Context, payload string, eta time.Time) (string, error)
}

const (
	unknownRetryDelay = 2 * time.Second
	maxUnknownRetries = 5
)

// Executor re-validates consent at fire time, sends through the gateway,
// and records the terminal outcome. A fire for a delivery that is no longer
// scheduled (cancelled or rescheduled since submit) is a safe no-op — that
// re-check is what resolves the cancel-vs-fire race.
type Executor struct {
	deliveries Deliveries
	recipients Recipients
	gate       Gate
	gw         gateway.Gateway
	tasks      TaskSubmitter
	log        *zap.Logger

	unknownMu    sync.Mutex
	unknownFires map[string]int
}

func New(deliveries Deliveries, recipients Recipients, gate Gate, gw gateway.Gateway, tasks TaskSubmitter, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		deliveries:   deliveries,
		recipients:   recipients,
		gate:         gate,
		gw:           gw,
		tasks:        tasks,
		log:          log,
		unknownFires: map[string]int{},
	}
}

// Execute handles one fired task. Every terminal state is committed: a
// failed send is observable, never silently dropped.
func (e *Executor) Execute(ctx context.Context, deliveryID string) {
	d, err := e.deliveries.Get(ctx, deliveryID)
	if err != nil {
		e.log.Error("load delivery", zap.String("delivery_id", deliveryID), zap.Error(err))
		return
	}
	if d == nil {
		e.requeueUnknown(ctx, deliveryID)
		return
	}
	e.forgetUnknown(deliveryID)
	if d.State != model.DeliveryStateScheduled {
		// stale fire: cancelled or rescheduled after the task was queued
		e.log.Info("stale fire ignored",
			zap.String("delivery_id", deliveryID),
			zap.String("state", d.State.String()),
		)
		return
	}

	if err := e.gate.Evaluate(ctx, d.RecipientID, d.BusinessID, false); err != nil {
		var denied *consent.DeniedError
		if errors.As(err, &denied) {
			// consent revoked between scheduling and firing; no gateway call
			e.fail(ctx, d, model.FailureReasonConsentBlocked, "consent_blocked")
			return
		}
		e.log.Error("consent re-check", zap.String("delivery_id", deliveryID), zap.Error(err))
		e.fail(ctx, d, "consent check failed: "+err.Error(), "failed")
		return
	}

	rcpt, err := e.recipients.Get(ctx, d.RecipientID)
	if err != nil || rcpt == nil {
		e.fail(ctx, d, "recipient unavailable", "failed")
		return
	}

	res, err := e.gw.Send(ctx, util.NormalizePhone(rcpt.Phone), d.Text)
	if err != nil {
		e.fail(ctx, d, err.Error(), "failed")
		return
	}

	if err := e.deliveries.MarkSent(ctx, d.ID, time.Now().UTC(), res.ProviderMessageID); err != nil {
		if errors.Is(err, repository.ErrNotScheduled) {
			e.log.Warn("delivery left scheduled state mid-send", zap.String("delivery_id", d.ID))
			return
		}
		e.log.Error("mark sent", zap.String("delivery_id", d.ID), zap.Error(err))
		return
	}

	metrics.DeliveriesTotal.WithLabelValues("sent").Inc()
	e.log.Info("delivery sent",
		zap.String("delivery_id", d.ID),
		zap.String("provider_message_id", res.ProviderMessageID),
	)
}

// requeueUnknown puts the payload back on the scheduler with a short delay.
// The usual cause is a batch task firing before its row commits; a bounded
// retry budget keeps a truly orphaned payload from cycling forever.
func (e *Executor) requeueUnknown(ctx context.Context, deliveryID string) {
	e.unknownMu.Lock()
	e.unknownFires[deliveryID]++
	n := e.unknownFires[deliveryID]
	e.unknownMu.Unlock()

	if e.tasks == nil || n > maxUnknownRetries {
		e.forgetUnknown(deliveryID)
		e.log.Error("fired task for unknown delivery, dropping",
			zap.String("delivery_id", deliveryID),
			zap.Int("fires", n),
		)
		return
	}

	if _, err := e.tasks.Submit(ctx, deliveryID, time.Now().Add(unknownRetryDelay)); err != nil {
		e.log.Error("requeue unknown delivery",
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return
	}
	e.log.Warn("task fired before its delivery was committed, requeued",
		zap.String("delivery_id", deliveryID),
		zap.Int("fires", n),
	)
}

func (e *Executor) forgetUnknown(deliveryID string) {
	e.unknownMu.Lock()
	delete(e.unknownFires, deliveryID)
	e.unknownMu.Unlock()
}

func (e *Executor) fail(ctx context.Context, d *model.ScheduledDelivery, reason, stage string) {
	if err := e.deliveries.MarkFailed(ctx, d.ID, reason); err != nil {
		if errors.Is(err, repository.ErrNotScheduled) {
			return
		}
		e.log.Error("mark failed", zap.String("delivery_id", d.ID), zap.Error(err))
		return
	}
	metrics.DeliveriesTotal.WithLabelValues(stage).Inc()
	e.log.Info("delivery failed",
		zap.String("delivery_id", d.ID),
		zap.String("reason", reason),
	)
}
