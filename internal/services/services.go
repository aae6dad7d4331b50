package services

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/analytics"
	"github.com/deskflow/deskflow-engine/internal/config"
	"github.com/deskflow/deskflow-engine/internal/guard"
	"github.com/deskflow/deskflow-engine/internal/identity"
	"github.com/deskflow/deskflow-engine/internal/lifecycle"
	"github.com/deskflow/deskflow-engine/internal/repository/sqlite"
	"github.com/deskflow/deskflow-engine/internal/summary"
)

// Services holds all service instances
type Services struct {
	Orchestrator *lifecycle.Orchestrator
	Supervisor   *lifecycle.Supervisor
	Analytics    *analytics.Reader
	Guard        *guard.Guard
	Identity     *identity.Verifier

	outbox *lifecycle.Outbox
}

// NewServices wires repositories, guard, orchestrator, and readers
func NewServices(db *sqlx.DB, cfg *config.Config, log *logrus.Logger) *Services {
	clock := lifecycle.SystemClock()

	sessionStore := sqlite.NewSessionStore(db, cfg.Lifecycle, clock.Now, log)
	transitionLog := sqlite.NewTransitionLog(db, log)
	summaryStore := sqlite.NewSummaryStore(db, log)

	g := guard.New(cfg.Lifecycle, clock.Now)
	backend := NewSimulatedConversationService(log)
	outbox := lifecycle.NewOutbox(log, 64, 3, 250*time.Millisecond)

	orch := lifecycle.NewOrchestrator(
		cfg.Lifecycle,
		clock,
		sessionStore,
		transitionLog,
		summaryStore,
		g,
		backend,
		summary.Generate,
		outbox,
		log,
	)

	return &Services{
		Orchestrator: orch,
		Supervisor:   lifecycle.NewSupervisor(orch, clock, cfg.Lifecycle.TickInterval()),
		Analytics:    analytics.NewReader(transitionLog, summaryStore, log),
		Guard:        g,
		Identity:     identity.NewVerifier(cfg.Server.JWTSecret),
		outbox:       outbox,
	}
}

// Start launches the timeout supervisor
func (s *Services) Start() {
	go s.Supervisor.Run()
}

// Shutdown stops the supervisor and drains the outbox
func (s *Services) Shutdown() {
	s.Supervisor.Stop()
	s.outbox.Close()
}
