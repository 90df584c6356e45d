package consent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/metrics"
	"github.com/relaypoint/outreach-engine/internal/model"
)

// Deny reasons surfaced to callers. "opted_out" vs "not_opted_in" lets the
// caller distinguish a hard block from a missing opt-in it can still collect.
const (
	ReasonOptedOut   = "opted_out"
	ReasonNotOptedIn = "not_opted_in"
)

// DeniedError is returned when the gate vetoes a send.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("consent denied: %s", e.Reason)
}

// RecordReader is the slice of ConsentRepository the gate needs.
type RecordReader interface {
	GetRecord(ctx context.Context, recipientID, businessID int64) (*model.ConsentRecord, error)
}

// RecipientReader resolves the recipient row for the legacy consent flag
// fallback.
type RecipientReader interface {
	Get(ctx context.Context, id int64) (*model.Recipient, error)
}

// Appender is the write side of the consent log.
type Appender interface {
	Append(ctx context.Context, ev model.ConsentEvent) error
}

// Gate decides whether a send may proceed and records consent transitions.
// Evaluate is called twice per delivery: at promotion time and again at
// fire time, because state may change in between.
type Gate struct {
	records    RecordReader
	recipients RecipientReader
	appender   Appender
	log        *zap.Logger
}

func NewGate(records RecordReader, recipients RecipientReader, appender Appender, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{records: records, recipients: recipients, appender: appender, log: log}
}

// State returns the current consent state for the pair, falling back to the
// recipient row's boolean flag when no event history exists.
func (g *Gate) State(ctx context.Context, recipientID, businessID int64) (model.ConsentState, error) {
	rec, err := g.records.GetRecord(ctx, recipientID, businessID)
	if err != nil {
		return model.ConsentNotSet, fmt.Errorf("consent record: %w", err)
	}
	if rec != nil {
		return rec.State, nil
	}

	r, err := g.recipients.Get(ctx, recipientID)
	if err != nil {
		return model.ConsentNotSet, fmt.Errorf("recipient lookup: %w", err)
	}
	if r != nil && r.SMSConsent {
		return model.ConsentOptedIn, nil
	}
	return model.ConsentNotSet, nil
}

// Evaluate applies the policy: opted_out always denies; proactive sends
// additionally require an explicit opt-in; direct replies pass through
// pending/not_set/declined.
func (g *Gate) Evaluate(ctx context.Context, recipientID, businessID int64, isDirectReply bool) error {
	state, err := g.State(ctx, recipientID, businessID)
	if err != nil {
		return err
	}

	if state == model.ConsentOptedOut {
		return &DeniedError{Reason: ReasonOptedOut}
	}
	if !isDirectReply && state != model.ConsentOptedIn {
		return &DeniedError{Reason: ReasonNotOptedIn}
	}
	return nil
}

// RecordEvent appends a consent event; the repository updates the derived
// record in the same transaction so history is never lost.
func (g *Gate) RecordEvent(ctx context.Context, recipientID, businessID int64, method string, newState model.ConsentState) error {
	if !newState.Valid() {
		return fmt.Errorf("invalid consent state %q", newState)
	}
	ev := model.ConsentEvent{
		RecipientID:    recipientID,
		BusinessID:     businessID,
		Method:         method,
		ResultingState: newState,
		OccurredAt:     time.Now().UTC(),
	}
	if err := g.appender.Append(ctx, ev); err != nil {
		return fmt.Errorf("append consent event: %w", err)
	}

	metrics.ConsentEventsTotal.WithLabelValues(newState.String()).Inc()
	g.log.Info("consent event recorded",
		zap.Int64("recipient_id", recipientID),
		zap.Int64("business_id", businessID),
		zap.String("method", method),
		zap.String("state", newState.String()),
	)
	return nil
}

// RecordInbound classifies a raw inbound reply and records the matched
// consent transition. It returns the new state and whether the text matched
// a keyword class; unmatched text records nothing.
func (g *Gate) RecordInbound(ctx context.Context, recipientID, businessID int64, rawText string) (model.ConsentState, bool, error) {
	state, ok := Classify(rawText)
	if !ok {
		return model.ConsentNotSet, false, nil
	}
	if err := g.RecordEvent(ctx, recipientID, businessID, model.ConsentMethodKeyword, state); err != nil {
		return model.ConsentNotSet, false, err
	}
	return state, true, nil
}
