// Package analytics aggregates the transition log and stored summaries
// into the per-customer view the console consumes.
package analytics

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/models"
	"github.com/deskflow/deskflow-engine/internal/repository"
)

// Report is the aggregate view across all stored conversations
type Report struct {
	TotalConversations       int                    `json:"total_conversations"`
	AverageResolutionMinutes float64                `json:"average_resolution_minutes"`
	TimeoutRate              float64                `json:"timeout_rate"`
	HandoffRate              float64                `json:"handoff_rate"`
	Outcomes                 map[models.Outcome]int `json:"outcomes"`
}

// Reader exposes read-only analytics over the audit trail. Both stores
// already skip malformed rows, so a partially corrupt log degrades the
// numbers instead of failing the read.
type Reader struct {
	transitions repository.TransitionLog
	summaries   repository.SummaryStore
	log         *logrus.Logger
}

// NewReader creates an analytics reader
func NewReader(transitions repository.TransitionLog, summaries repository.SummaryStore, log *logrus.Logger) *Reader {
	return &Reader{transitions: transitions, summaries: summaries, log: log}
}

// Aggregate computes the cross-conversation report
func (r *Reader) Aggregate(ctx context.Context) (*Report, error) {
	summaries, err := r.summaries.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Outcomes: make(map[models.Outcome]int),
	}

	var totalMinutes float64
	var timeouts, handoffs int

	for _, s := range summaries {
		report.TotalConversations++
		report.Outcomes[s.Outcome]++
		totalMinutes += s.ResolutionMinutes
		if s.Outcome == models.OutcomeTimeout {
			timeouts++
		}
		if s.HandoffRequested {
			handoffs++
		}
	}

	if report.TotalConversations > 0 {
		n := float64(report.TotalConversations)
		report.AverageResolutionMinutes = totalMinutes / n
		report.TimeoutRate = float64(timeouts) / n
		report.HandoffRate = float64(handoffs) / n
	}

	return report, nil
}

// ConversationTransitions returns the ordered audit trail for one
// conversation.
func (r *Reader) ConversationTransitions(ctx context.Context, conversationID string) ([]models.Transition, error) {
	return r.transitions.ListByConversation(ctx, conversationID)
}

// ConversationSummary returns the stored summary for one conversation,
// or nil when the conversation has not reached a terminal state yet.
func (r *Reader) ConversationSummary(ctx context.Context, conversationID string) (*models.ConversationSummary, error) {
	return r.summaries.Get(ctx, conversationID)
}
