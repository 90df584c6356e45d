package model

import "time"

type DeliveryState string

const (
	DeliveryStateScheduled DeliveryState = "scheduled"
	DeliveryStateSent      DeliveryState = "sent"
	DeliveryStateFailed    DeliveryState = "failed"
	DeliveryStateCancelled DeliveryState = "cancelled"
)

func (s DeliveryState) String() string { return string(s) }

func (s DeliveryState) Valid() bool {
	switch s {
	case DeliveryStateScheduled, DeliveryStateSent, DeliveryStateFailed, DeliveryStateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryStateSent || s == DeliveryStateFailed || s == DeliveryStateCancelled
}

// FailureReasonConsentBlocked marks deliveries vetoed by the consent
// re-check at fire time.
const FailureReasonConsentBlocked = "consent_blocked"

// ScheduledDelivery is the canonical record committed for dispatch.
// TaskHandle is non-nil while state == scheduled.
type ScheduledDelivery struct {
	ID                string        `db:"id" json:"id"`
	RecipientID       int64         `db:"recipient_id" json:"recipient_id"`
	BusinessID        int64         `db:"business_id" json:"business_id"`
	ConversationID    string        `db:"conversation_id" json:"conversation_id"`
	Text              string        `db:"text" json:"text"`
	ScheduledTime     time.Time     `db:"scheduled_time" json:"scheduled_time"`
	State             DeliveryState `db:"state" json:"state"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at"`
	TaskHandle        *string       `db:"task_handle" json:"task_handle"`
	SourceDraftID     *string       `db:"source_draft_id" json:"source_draft_id"`
	FailureReason     *string       `db:"failure_reason" json:"failure_reason"`
	ProviderMessageID *string       `db:"provider_message_id" json:"provider_message_id"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
