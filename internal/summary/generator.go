// Package summary derives a human-readable conversation summary once a
// conversation reaches a terminal state. Generation is a pure function
// of the transition log and message history: identical inputs always
// produce identical output.
package summary

import (
	"fmt"
	"strings"
	"time"

	"github.com/deskflow/deskflow-engine/internal/models"
)

// topicVocabulary maps key topics to the substrings that indicate them.
// Extraction is first-match order over the user messages, capped at
// models.MaxKeyTopics.
var topicVocabulary = []struct {
	topic    string
	keywords []string
}{
	{"billing", []string{"billing", "invoice", "charge", "payment", "subscription"}},
	{"technical", []string{"technical", "error", "bug", "crash", "broken", "not working"}},
	{"account", []string{"account", "login", "password", "sign in", "profile"}},
	{"feature", []string{"feature", "request", "suggestion", "improvement"}},
	{"refund", []string{"refund", "money back", "reimburse"}},
	{"shipping", []string{"shipping", "delivery", "tracking", "package"}},
	{"cancellation", []string{"cancel", "unsubscribe", "terminate"}},
}

// Generate builds the summary for one terminal conversation
func Generate(conversationID string, identity *models.Identity, transitions []models.Transition, messages []models.Message) models.ConversationSummary {
	outcome := classifyOutcome(transitions)
	topics := extractTopics(messages)
	handoff := handoffRequested(transitions)

	var resolutionMinutes float64
	if len(transitions) > 1 {
		resolutionMinutes = transitions[len(transitions)-1].CreatedAt.Sub(transitions[0].CreatedAt).Minutes()
	}

	return models.ConversationSummary{
		ConversationID:    conversationID,
		Summary:           narrative(identity, messages, topics, outcome, handoff, resolutionMinutes),
		KeyTopics:         topics,
		Outcome:           outcome,
		ResolutionMinutes: resolutionMinutes,
		MessageCount:      len(messages),
		HandoffRequested:  handoff,
		CreatedAt:         lastTimestamp(transitions),
	}
}

// classifyOutcome derives the outcome from the transition sequence.
// A conversation that ever reached a human wins the escalated label
// even when it was subsequently ended by the user.
func classifyOutcome(transitions []models.Transition) models.Outcome {
	if handoffRequested(transitions) {
		return models.OutcomeEscalated
	}
	if len(transitions) == 0 {
		return models.OutcomeAbandoned
	}

	last := transitions[len(transitions)-1]
	if last.To == models.StatusEnded && last.TriggeredBy == models.TriggeredByUser {
		return models.OutcomeResolved
	}
	if last.To == models.StatusIdleTimeout || last.To == models.StatusMaxSession {
		return models.OutcomeTimeout
	}
	return models.OutcomeAbandoned
}

func handoffRequested(transitions []models.Transition) bool {
	for _, t := range transitions {
		if t.To == models.StatusWaitingHuman {
			return true
		}
	}
	return false
}

func extractTopics(messages []models.Message) []string {
	topics := []string{}
	seen := map[string]bool{}

	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		text := strings.ToLower(m.Content)
		for _, entry := range topicVocabulary {
			if seen[entry.topic] {
				continue
			}
			for _, kw := range entry.keywords {
				if strings.Contains(text, kw) {
					topics = append(topics, entry.topic)
					seen[entry.topic] = true
					break
				}
			}
			if len(topics) == models.MaxKeyTopics {
				return topics
			}
		}
	}

	return topics
}

func narrative(identity *models.Identity, messages []models.Message, topics []string, outcome models.Outcome, handoff bool, resolutionMinutes float64) string {
	userCount := 0
	for _, m := range messages {
		if m.Role == models.RoleUser {
			userCount++
		}
	}

	var b strings.Builder

	if !identity.Anonymous() && identity.Name != "" {
		fmt.Fprintf(&b, "Conversation with %s", identity.Name)
	} else {
		b.WriteString("Conversation with an anonymous visitor")
	}
	fmt.Fprintf(&b, " covering %d customer message(s) over %.0f minute(s).", userCount, resolutionMinutes)

	if len(topics) > 0 {
		fmt.Fprintf(&b, " Topics discussed: %s.", strings.Join(topics, ", "))
	}
	if handoff {
		b.WriteString(" The customer requested a human agent.")
	}

	switch outcome {
	case models.OutcomeResolved:
		b.WriteString(" The conversation was resolved and ended by the customer.")
	case models.OutcomeEscalated:
		b.WriteString(" The conversation was escalated.")
	case models.OutcomeTimeout:
		b.WriteString(" The conversation timed out without an explicit ending.")
	default:
		b.WriteString(" The conversation was abandoned.")
	}

	return b.String()
}

func lastTimestamp(transitions []models.Transition) (t time.Time) {
	if len(transitions) == 0 {
		return
	}
	return transitions[len(transitions)-1].CreatedAt
}
