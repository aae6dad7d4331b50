package lifecycle

import (
	"github.com/deskflow/deskflow-engine/internal/models"
)

// transitionTable declares every legal state change. Session creation
// (no prior state -> active) is handled separately by the orchestrator.
var transitionTable = map[models.Status][]models.Status{
	models.StatusActive: {
		models.StatusWaitingHuman,
		models.StatusIdleTimeout,
		models.StatusMaxSession,
		models.StatusQuotaExceeded,
		models.StatusEnded,
	},
	models.StatusWaitingHuman: {
		models.StatusEscalated,
		models.StatusEnded,
	},
	models.StatusEscalated: {
		models.StatusEnded,
	},
	// idle_timeout is suspend-and-resume: a returning user reactivates
	// the conversation.
	models.StatusIdleTimeout: {
		models.StatusActive,
		models.StatusEnded,
	},
	models.StatusEnded: {
		models.StatusClosed,
	},
}

// CanTransition reports whether the state machine permits from -> to
func CanTransition(from, to models.Status) bool {
	for _, allowed := range transitionTable[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
