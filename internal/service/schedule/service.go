// Package schedule mutates existing scheduled deliveries: reschedule,
// cancel, and draft deletion with linkage cleanup.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/dispatch"
	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
)

var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrDraftNotFound    = errors.New("draft not found")
	// ErrNotScheduled mirrors the store guard: only scheduled deliveries can
	// be rescheduled or cancelled.
	ErrNotScheduled = repository.ErrNotScheduled
)

type Deliveries interface {
	Get(ctx context.Context, id string) (*model.ScheduledDelivery, error)
	ApplyReschedule(ctx context.Context, id string, newTime time.Time, newText *string, newHandle string) error
	MarkCancelled(ctx context.Context, id string, sourceDraftID *string) error
}

type Drafts interface {
	Get(ctx context.Context, id string) (*model.Draft, error)
	UpdateState(ctx context.Context, tx *sqlx.Tx, id string, state model.DraftState) error
	UpdateContent(ctx context.Context, tx *sqlx.Tx, id, text string) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
}

type Service struct {
	deliveries Deliveries
	drafts     Drafts
	dispatcher dispatch.Dispatcher
	log        *zap.Logger
}

func New(deliveries Deliveries, drafts Drafts, dispatcher dispatch.Dispatcher, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{deliveries: deliveries, drafts: drafts, dispatcher: dispatcher, log: log}
}

// Reschedule moves a scheduled delivery to newTime, optionally replacing its
// text. The new task is submitted before the old handle is cancelled so
// there is never a window with zero active jobs; if the new submit fails the
// row is left untouched.
func (s *Service) Reschedule(ctx context.Context, deliveryID string, newTime time.Time, newText *string) (*model.ScheduledDelivery, error) {
	d, err := s.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("load delivery: %w", err)
	}
	if d == nil {
		return nil, ErrDeliveryNotFound
	}
	if d.State != model.DeliveryStateScheduled {
		return nil, ErrNotScheduled
	}

	var oldHandle string
	if d.TaskHandle != nil {
		oldHandle = *d.TaskHandle
	}

	newHandle, err := s.dispatcher.Replace(ctx, deliveryID, newTime)
	if err != nil {
		// row untouched; old task still live
		return nil, fmt.Errorf("submit replacement task: %w", err)
	}

	if err := s.deliveries.ApplyReschedule(ctx, deliveryID, newTime.UTC(), newText, newHandle); err != nil {
		s.dispatcher.Cancel(ctx, newHandle)
		if errors.Is(err, repository.ErrNotScheduled) {
			return nil, ErrNotScheduled
		}
		return nil, fmt.Errorf("apply reschedule: %w", err)
	}

	s.dispatcher.Cancel(ctx, oldHandle)

	metrics.DeliveriesTotal.WithLabelValues("rescheduled").Inc()
	s.log.Info("delivery rescheduled",
		zap.String("delivery_id", deliveryID),
		zap.Time("new_time", newTime),
	)

	return s.deliveries.Get(ctx, deliveryID)
}

// Cancel transitions the delivery to cancelled, revokes its task handle
// best-effort, and clears the originating draft's forward link. A task that
// fires anyway becomes a no-op in the executor.
func (s *Service) Cancel(ctx context.Context, deliveryID string) error {
	d, err := s.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}
	if d == nil {
		return ErrDeliveryNotFound
	}
	if d.State != model.DeliveryStateScheduled {
		return ErrNotScheduled
	}

	if err := s.deliveries.MarkCancelled(ctx, deliveryID, d.SourceDraftID); err != nil {
		if errors.Is(err, repository.ErrNotScheduled) {
			return ErrNotScheduled
		}
		return fmt.Errorf("mark cancelled: %w", err)
	}

	if d.TaskHandle != nil {
		s.dispatcher.Cancel(ctx, *d.TaskHandle)
	}

	metrics.DeliveriesTotal.WithLabelValues("cancelled").Inc()
	s.log.Info("delivery cancelled", zap.String("delivery_id", deliveryID))
	return nil
}

// EditDraft replaces the text of an unpromoted draft. Promoted drafts are
// edited through Reschedule on their delivery instead.
func (s *Service) EditDraft(ctx context.Context, draftID, text string) error {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return fmt.Errorf("load draft: %w", err)
	}
	if draft == nil {
		return ErrDraftNotFound
	}
	if !draft.State.Promotable() || draft.LinkedDeliveryID != nil {
		return fmt.Errorf("draft %s is %s, cannot edit", draftID, draft.State)
	}
	return s.drafts.UpdateContent(ctx, nil, draftID, text)
}

// RejectDraft marks an unpromoted draft rejected.
func (s *Service) RejectDraft(ctx context.Context, draftID string) error {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return fmt.Errorf("load draft: %w", err)
	}
	if draft == nil {
		return ErrDraftNotFound
	}
	if !draft.State.Promotable() {
		return fmt.Errorf("draft %s is %s, cannot reject", draftID, draft.State)
	}
	return s.drafts.UpdateState(ctx, nil, draftID, model.DraftStateRejected)
}

// DeleteDraft removes a draft. If the draft was promoted and its delivery is
// still scheduled, the delivery is cancelled first so neither record is ever
// left pointing at a missing counterpart.
func (s *Service) DeleteDraft(ctx context.Context, draftID string) error {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return fmt.Errorf("load draft: %w", err)
	}
	if draft == nil {
		return ErrDraftNotFound
	}

	if draft.LinkedDeliveryID != nil {
		if err := s.Cancel(ctx, *draft.LinkedDeliveryID); err != nil &&
			!errors.Is(err, ErrNotScheduled) && !errors.Is(err, ErrDeliveryNotFound) {
			return fmt.Errorf("cancel linked delivery: %w", err)
		}
	}

	if err := s.drafts.Delete(ctx, nil, draftID); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}

	s.log.Info("draft deleted", zap.String("draft_id", draftID))
	return nil
}
