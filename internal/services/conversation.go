package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/lifecycle"
	"github.com/deskflow/deskflow-engine/internal/models"
)

// SimulatedConversationService stands in for the real support backend.
// Calls are logged and succeed; this is the integration point where a
// production deployment would talk to its ticketing/agent platform.
type SimulatedConversationService struct {
	log *logrus.Logger
}

// NewSimulatedConversationService creates the simulated backend
func NewSimulatedConversationService(log *logrus.Logger) *SimulatedConversationService {
	return &SimulatedConversationService{log: log}
}

var _ lifecycle.ConversationBackend = (*SimulatedConversationService)(nil)

// LogTransition forwards one transition record to the backend
func (s *SimulatedConversationService) LogTransition(_ context.Context, t models.Transition) error {
	s.log.WithFields(logrus.Fields{
		"conversation_id": t.ConversationID,
		"from":            t.From,
		"to":              t.To,
		"triggered_by":    t.TriggeredBy,
	}).Debug("backend: transition logged")
	return nil
}

// RequestHumanHandoff asks the backend to queue a human agent
func (s *SimulatedConversationService) RequestHumanHandoff(_ context.Context, conversationID string) error {
	s.log.WithField("conversation_id", conversationID).Info("backend: human handoff requested")
	return nil
}

// EndConversation notifies the backend that the conversation ended
func (s *SimulatedConversationService) EndConversation(_ context.Context, conversationID, reason string) error {
	s.log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"reason":          reason,
	}).Info("backend: conversation ended")
	return nil
}
