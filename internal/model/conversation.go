package model

import "time"

type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationClosed ConversationStatus = "closed"
)

// Conversation groups deliveries for a (recipient, business) pair.
// Created lazily on the first delivery for the pair.
type Conversation struct {
	ID             string             `db:"id" json:"id"`
	RecipientID    int64              `db:"recipient_id" json:"recipient_id"`
	BusinessID     int64              `db:"business_id" json:"business_id"`
	Status         ConversationStatus `db:"status" json:"status"`
	LastActivityAt time.Time          `db:"last_activity_at" json:"last_activity_at"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}
