package model

import "time"

// InboundMessage is the envelope consumed from the messages.inbound topic:
// a recipient reply forwarded by the messaging provider webhook.
type InboundMessage struct {
	RecipientID int64     `json:"recipient_id"`
	BusinessID  int64     `json:"business_id"`
	Phone       string    `json:"phone"`
	Text        string    `json:"text"`
	ReceivedAt  time.Time `json:"received_at"`
}
