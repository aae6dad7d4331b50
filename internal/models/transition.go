package models

import (
	"time"
)

// TriggeredBy identifies the actor behind a lifecycle transition
type TriggeredBy string

const (
	TriggeredByUser   TriggeredBy = "user"
	TriggeredBySystem TriggeredBy = "system"
	TriggeredByAI     TriggeredBy = "ai"
)

// Transition is an immutable audit record of one state change. Records
// are append-only: never mutated or deleted once logged.
type Transition struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	From           Status                 `json:"from"`
	To             Status                 `json:"to"`
	Reason         string                 `json:"reason"`
	TriggeredBy    TriggeredBy            `json:"triggered_by"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}
