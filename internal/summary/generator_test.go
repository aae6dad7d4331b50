package summary

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deskflow/deskflow-engine/internal/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func transition(to models.Status, by models.TriggeredBy, at time.Time) models.Transition {
	return models.Transition{
		ConversationID: "conv-1",
		To:             to,
		TriggeredBy:    by,
		CreatedAt:      at,
	}
}

func userMessage(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content, CreatedAt: base}
}

func TestGenerate_Deterministic(t *testing.T) {
	transitions := []models.Transition{
		transition(models.StatusActive, models.TriggeredByUser, base),
		transition(models.StatusWaitingHuman, models.TriggeredByUser, base.Add(5*time.Minute)),
		transition(models.StatusEnded, models.TriggeredByUser, base.Add(10*time.Minute)),
	}
	messages := []models.Message{
		userMessage("I have a billing question about my invoice"),
		userMessage("Can I get a refund?"),
	}

	first := Generate("conv-1", nil, transitions, messages)
	second := Generate("conv-1", nil, transitions, messages)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.KeyTopics, second.KeyTopics)
	assert.Equal(t, models.OutcomeEscalated, first.Outcome)
	assert.True(t, first.HandoffRequested)
	assert.Equal(t, 10.0, first.ResolutionMinutes)
	assert.Equal(t, 2, first.MessageCount)
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name        string
		transitions []models.Transition
		expected    models.Outcome
	}{
		{
			name: "ended by user is resolved",
			transitions: []models.Transition{
				transition(models.StatusActive, models.TriggeredByUser, base),
				transition(models.StatusEnded, models.TriggeredByUser, base.Add(time.Minute)),
			},
			expected: models.OutcomeResolved,
		},
		{
			name: "any handoff wins escalated even when later ended by user",
			transitions: []models.Transition{
				transition(models.StatusWaitingHuman, models.TriggeredByUser, base),
				transition(models.StatusEnded, models.TriggeredByUser, base.Add(time.Minute)),
			},
			expected: models.OutcomeEscalated,
		},
		{
			name: "idle timeout last is timeout",
			transitions: []models.Transition{
				transition(models.StatusActive, models.TriggeredByUser, base),
				transition(models.StatusIdleTimeout, models.TriggeredBySystem, base.Add(time.Minute)),
			},
			expected: models.OutcomeTimeout,
		},
		{
			name: "max session last is timeout",
			transitions: []models.Transition{
				transition(models.StatusActive, models.TriggeredByUser, base),
				transition(models.StatusMaxSession, models.TriggeredBySystem, base.Add(time.Minute)),
			},
			expected: models.OutcomeTimeout,
		},
		{
			name: "ended by system is abandoned",
			transitions: []models.Transition{
				transition(models.StatusActive, models.TriggeredByUser, base),
				transition(models.StatusEnded, models.TriggeredBySystem, base.Add(time.Minute)),
			},
			expected: models.OutcomeAbandoned,
		},
		{
			name:        "no transitions is abandoned",
			transitions: nil,
			expected:    models.OutcomeAbandoned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := Generate("conv-1", nil, tt.transitions, nil)
			assert.Equal(t, tt.expected, sum.Outcome)
		})
	}
}

func TestExtractTopics_FirstMatchOrderAndCap(t *testing.T) {
	messages := []models.Message{
		userMessage("my password reset is broken"), // account, technical
		userMessage("also the invoice charge looks wrong"),
		userMessage("I want a refund and to cancel"),
		userMessage("any chance of a dark mode feature?"),
		userMessage("where is my package? tracking says nothing"),
	}

	sum := Generate("conv-1", nil, nil, messages)

	assert.Len(t, sum.KeyTopics, models.MaxKeyTopics)
	// First-match order over messages, bounded at five.
	assert.Equal(t, []string{"technical", "account", "billing", "refund", "cancellation"}, sum.KeyTopics)
}

func TestExtractTopics_IgnoresNonUserMessages(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "billing portal maintenance tonight", CreatedAt: base},
		userMessage("hello there"),
	}

	sum := Generate("conv-1", nil, nil, messages)
	assert.Empty(t, sum.KeyTopics)
}

func TestGenerate_NarrativeIncludesIdentity(t *testing.T) {
	identity := &models.Identity{Name: "Ada", Email: "ada@example.com"}
	sum := Generate("conv-1", identity, nil, []models.Message{userMessage("hi")})

	assert.Contains(t, sum.Summary, "Ada")
	assert.Equal(t, models.OutcomeAbandoned, sum.Outcome)
}
