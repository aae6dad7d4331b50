package lifecycle

import (
	"time"

	"github.com/deskflow/deskflow-engine/internal/config"
	"github.com/deskflow/deskflow-engine/internal/models"
)

// TimeoutEvent describes a timeout transition the supervisor wants the
// orchestrator to apply.
type TimeoutEvent struct {
	To     models.Status
	Reason string
}

// CheckTimeouts is the single logical clock tick: a pure function of
// (session, now, config) deciding whether a timeout transition is due.
// The absolute timer wins over the idle timer when both have lapsed.
func CheckTimeouts(sess *models.Session, now time.Time, cfg config.LifecycleConfig) *TimeoutEvent {
	if sess == nil || sess.Status != models.StatusActive {
		return nil
	}

	if cfg.EnableMaxSessionLength && now.Sub(sess.CreatedAt) >= cfg.MaxSessionAge() {
		return &TimeoutEvent{
			To:     models.StatusMaxSession,
			Reason: "maximum session duration exceeded",
		}
	}

	if cfg.EnableIdleTimeout && now.Sub(sess.LastInteractionAt) >= cfg.IdleTimeout() {
		return &TimeoutEvent{
			To:     models.StatusIdleTimeout,
			Reason: "no user interaction within idle threshold",
		}
	}

	return nil
}

// Supervisor drives the orchestrator's tick on a repeating interval
// while the process runs. The interval checks are advisory; correctness
// across suspend/restart comes from the store's load-time re-check.
type Supervisor struct {
	orch     *Orchestrator
	clock    Clock
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a supervisor for the given orchestrator
func NewSupervisor(orch *Orchestrator, clock Clock, interval time.Duration) *Supervisor {
	return &Supervisor{
		orch:     orch,
		clock:    clock,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run ticks until Stop is called
func (s *Supervisor) Run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ticker.C:
			s.orch.OnTick(s.clock.Now())
		case <-s.stop:
			return
		}
	}
}

// Stop halts the ticker and waits for the loop to exit, so no stale
// tick can fire against a session that no longer exists.
func (s *Supervisor) Stop() {
	select {
	case <-s.stop:
		// already stopped
	default:
		close(s.stop)
	}
	<-s.done
}
