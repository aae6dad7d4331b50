package models

import (
	"time"
)

// Outcome classifies how a conversation concluded
type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeEscalated Outcome = "escalated"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeTimeout   Outcome = "timeout"
)

// MaxKeyTopics bounds the topic set extracted per conversation
const MaxKeyTopics = 5

// ConversationSummary is derived once per terminal conversation and
// never mutated afterward.
type ConversationSummary struct {
	ConversationID       string    `json:"conversation_id"`
	Summary              string    `json:"summary"`
	KeyTopics            []string  `json:"key_topics"`
	Outcome              Outcome   `json:"outcome"`
	CustomerSatisfaction *int      `json:"customer_satisfaction,omitempty"`
	ResolutionMinutes    float64   `json:"resolution_minutes"`
	MessageCount         int       `json:"message_count"`
	HandoffRequested     bool      `json:"handoff_requested"`
	CreatedAt            time.Time `json:"created_at"`
}
