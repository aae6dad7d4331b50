package repository

import (
	"context"

	"github.com/deskflow/deskflow-engine/internal/models"
)

// SessionStore persists the single live session for this device.
//
// Load applies the store's recovery contract before returning: sessions
// past their TTL or already ended are cleared and reported as absent,
// and an active session whose idle window has lapsed is rewritten to
// idle_timeout and persisted before being returned. The bool result is
// true when that idle correction was applied on this load.
type SessionStore interface {
	Load(ctx context.Context) (*models.Session, bool, error)
	Save(ctx context.Context, session *models.Session) error
	Clear(ctx context.Context) error
}

// TransitionLog is the append-only audit trail of lifecycle transitions
type TransitionLog interface {
	Append(ctx context.Context, t models.Transition) error
	ListByConversation(ctx context.Context, conversationID string) ([]models.Transition, error)
	ListAll(ctx context.Context) ([]models.Transition, error)
}

// SummaryStore persists derived conversation summaries
type SummaryStore interface {
	Save(ctx context.Context, s models.ConversationSummary) error
	Get(ctx context.Context, conversationID string) (*models.ConversationSummary, error)
	List(ctx context.Context) ([]models.ConversationSummary, error)
}
