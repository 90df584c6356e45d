package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/relaypoint/outreach-engine/internal/consent"
	"github.com/relaypoint/outreach-engine/internal/kafka"
	"github.com/relaypoint/outreach-engine/internal/model"
	"github.com/relaypoint/outreach-engine/internal/repository"
)

// Inbound consumes recipient replies, applies consent keyword
// classification, and keeps conversation activity current. Unmatched text
// is not a consent event; it only counts as conversation activity.
type Inbound struct {
	Consumer      *kafka.Consumer
	Gate          *consent.Gate
	Conversations repository.ConversationsRepository
	Log           *zap.Logger

	Workers int
}

func NewInbound(consumer *kafka.Consumer, gate *consent.Gate, convs repository.ConversationsRepository, log *zap.Logger) *Inbound {
	if log == nil {
		log = zap.NewNop()
	}
	return &Inbound{
		Consumer:      consumer,
		Gate:          gate,
		Conversations: convs,
		Log:           log,
		Workers:       8,
	}
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Inbound) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Error("kafka fetch", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < w.Workers; i++ {
		go w.runProcessor(ctx, msgCh)
	}

	<-ctx.Done()
	return nil
}

func (w *Inbound) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			w.processOne(ctx, m)
		}
	}
}

func (w *Inbound) processOne(ctx context.Context, m kafka.Message) {
	var msg model.InboundMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.RecipientID == 0 || msg.BusinessID == 0 {
		_ = w.Consumer.Commit(ctx, m) // poison → commit, skip
		if err != nil {
			w.Log.Warn("bad inbound json", zap.Error(err))
		} else {
			w.Log.Warn("inbound missing recipient/business id")
		}
		return
	}

	at := msg.ReceivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	state, matched, err := w.Gate.RecordInbound(ctx, msg.RecipientID, msg.BusinessID, msg.Text)
	if err != nil {
		// leave uncommitted so the reply is retried; consent events are the
		// one thing we must not drop
		w.Log.Error("record inbound consent", zap.Error(err))
		return
	}
	if matched {
		w.Log.Info("consent keyword applied",
			zap.Int64("recipient_id", msg.RecipientID),
			zap.Int64("business_id", msg.BusinessID),
			zap.String("state", state.String()),
		)
	}

	if err := w.Conversations.Touch(ctx, nil, msg.RecipientID, msg.BusinessID, at); err != nil {
		w.Log.Warn("conversation touch", zap.Error(err))
	}

	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Error("kafka commit", zap.Error(err))
	}
}
