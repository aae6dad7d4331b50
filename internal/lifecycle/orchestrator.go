package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/config"
	"github.com/deskflow/deskflow-engine/internal/guard"
	"github.com/deskflow/deskflow-engine/internal/models"
	"github.com/deskflow/deskflow-engine/internal/repository"
)

var (
	// ErrNoSession is returned when an operation needs a live session
	ErrNoSession = errors.New("no live session")
	// ErrConversationOver is returned once the session reached a terminal state
	ErrConversationOver = errors.New("conversation has ended")
	// ErrSpamCooldown is returned when a send arrives inside the minimum delay
	ErrSpamCooldown = errors.New("message rejected by spam guard")
	// ErrQuotaExceeded is returned when a message ceiling blocks the send
	ErrQuotaExceeded = errors.New("message quota exceeded")
	// ErrInvalidTransition is returned for a state change the table forbids
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// ConversationBackend is the collaborator surface a real backend would
// implement. Calls are asynchronous and fallible from the engine's
// perspective; handoff and end calls are the exception and are awaited
// so a rejection never advances the state machine.
type ConversationBackend interface {
	LogTransition(ctx context.Context, t models.Transition) error
	RequestHumanHandoff(ctx context.Context, conversationID string) error
	EndConversation(ctx context.Context, conversationID, reason string) error
}

// SummaryFunc derives a ConversationSummary from the audit trail and
// message log. Must be deterministic: identical inputs, identical output.
type SummaryFunc func(conversationID string, identity *models.Identity, transitions []models.Transition, messages []models.Message) models.ConversationSummary

// Orchestrator owns the conversation lifecycle state machine. All
// mutation happens under one mutex, so a second transition can never
// start before the persistence write for the current one resolves.
type Orchestrator struct {
	mu sync.Mutex

	cfg         config.LifecycleConfig
	clock       Clock
	store       repository.SessionStore
	transitions repository.TransitionLog
	summaries   repository.SummaryStore
	guard       *guard.Guard
	backend     ConversationBackend
	summarize   SummaryFunc
	outbox      *Outbox
	log         *logrus.Logger

	notify func(models.Transition)
	sess   *models.Session
}

// NewOrchestrator wires the state machine to its collaborators
func NewOrchestrator(
	cfg config.LifecycleConfig,
	clock Clock,
	store repository.SessionStore,
	transitions repository.TransitionLog,
	summaries repository.SummaryStore,
	g *guard.Guard,
	backend ConversationBackend,
	summarize SummaryFunc,
	outbox *Outbox,
	log *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		clock:       clock,
		store:       store,
		transitions: transitions,
		summaries:   summaries,
		guard:       g,
		backend:     backend,
		summarize:   summarize,
		outbox:      outbox,
		log:         log,
	}
}

// SetNotify installs a hook invoked for every logged transition, used
// to stream lifecycle events to connected widgets.
func (o *Orchestrator) SetNotify(fn func(models.Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notify = fn
}

// Initialize restores the stored session or creates a fresh active one.
// Safe to call repeatedly; an existing non-terminal session is returned
// as-is.
func (o *Orchestrator) Initialize(ctx context.Context, identity *models.Identity, expanded bool) (*models.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.initializeLocked(ctx, identity, expanded)
}

func (o *Orchestrator) initializeLocked(ctx context.Context, identity *models.Identity, expanded bool) (*models.Session, error) {
	if o.sess != nil && !o.sess.Status.Terminal() {
		if o.sess.Identity == nil && !identity.Anonymous() {
			o.sess.Identity = identity
			if err := o.store.Save(ctx, o.sess); err != nil {
				o.log.WithError(err).Warn("failed to persist identity on live session")
			}
		}
		return o.sess.Clone(), nil
	}

	sess, corrected, err := o.store.Load(ctx)
	if err != nil {
		// Storage trouble must not take the widget down: fall back to a
		// fresh session.
		o.log.WithError(err).Warn("session load failed, starting fresh")
		sess, corrected = nil, false
	}

	if sess == nil {
		return o.createSessionLocked(ctx, identity, expanded)
	}

	o.sess = sess
	o.seedGuardLocked()

	if corrected {
		// The store already persisted the correction; the audit trail
		// still needs the matching record.
		o.recordTransitionLocked(ctx, models.Transition{
			ConversationID: sess.ConversationID,
			From:           models.StatusActive,
			To:             models.StatusIdleTimeout,
			Reason:         "went idle while the widget was away",
			TriggeredBy:    models.TriggeredBySystem,
		})
	}

	if sess.Identity == nil && !identity.Anonymous() {
		sess.Identity = identity
		if err := o.store.Save(ctx, sess); err != nil {
			o.log.WithError(err).Warn("failed to persist identity on restored session")
		}
	}

	return sess.Clone(), nil
}

func (o *Orchestrator) createSessionLocked(ctx context.Context, identity *models.Identity, expanded bool) (*models.Session, error) {
	now := o.clock.Now()

	sess := &models.Session{
		ID:                uuid.New().String(),
		ConversationID:    uuid.New().String(),
		Status:            models.StatusActive,
		IsExpanded:        expanded,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastInteractionAt: now,
	}
	if !identity.Anonymous() {
		sess.Identity = identity
	}
	if o.cfg.WelcomeMessage != "" {
		sess.Messages = append(sess.Messages, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleSystem,
			Content:   o.cfg.WelcomeMessage,
			CreatedAt: now,
		})
	}

	if err := o.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}
	o.sess = sess

	o.recordTransitionLocked(ctx, models.Transition{
		ConversationID: sess.ConversationID,
		To:             models.StatusActive,
		Reason:         "session created",
		TriggeredBy:    models.TriggeredByUser,
	})

	o.log.WithFields(logrus.Fields{
		"session_id":      sess.ID,
		"conversation_id": sess.ConversationID,
	}).Info("conversation started")

	return sess.Clone(), nil
}

// AddMessage accepts a user message. The first message with no valid
// stored session creates one. Guard and quota checks run before the
// message is appended; a quota violation transitions the conversation
// instead of silently dropping the message.
func (o *Orchestrator) AddMessage(ctx context.Context, content string) (*models.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		if _, err := o.initializeLocked(ctx, nil, false); err != nil {
			return nil, err
		}
	}

	if o.sess.Status.Terminal() {
		return nil, ErrConversationOver
	}

	if o.guard.CheckSpamAttempt() {
		return nil, ErrSpamCooldown
	}

	// Resume before the quota check so a message arriving out of idle
	// is held to the same ceilings as any other.
	if o.sess.Status == models.StatusIdleTimeout {
		if err := o.applyTransitionLocked(ctx, models.StatusActive, "user returned after idle timeout", models.TriggeredByUser, nil); err != nil {
			return nil, err
		}
	}

	if o.sess.Status == models.StatusActive {
		if exceeded, reason := o.guard.QuotaExceeded(o.sess.UserMessageCount()); exceeded {
			if err := o.applyTransitionLocked(ctx, models.StatusQuotaExceeded, reason, models.TriggeredBySystem, nil); err != nil {
				return nil, err
			}
			return nil, ErrQuotaExceeded
		}
	}

	now := o.clock.Now()
	prev := o.sess.Clone()

	o.sess.Messages = append(o.sess.Messages, models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: now,
	})
	o.sess.UpdatedAt = now
	o.sess.LastInteractionAt = now

	if err := o.store.Save(ctx, o.sess); err != nil {
		o.sess = prev
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	o.guard.RecordMessage()

	return o.sess.Clone(), nil
}

// AddReply appends an agent or AI message. Replies do not count as user
// interaction: they neither feed the guard nor reset the idle timer.
func (o *Orchestrator) AddReply(ctx context.Context, role, content string) (*models.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return nil, ErrNoSession
	}
	if o.sess.Status.Terminal() {
		return nil, ErrConversationOver
	}
	if role != models.RoleAgent && role != models.RoleSystem {
		return nil, fmt.Errorf("unsupported reply role %q", role)
	}

	now := o.clock.Now()
	prev := o.sess.Clone()

	o.sess.Messages = append(o.sess.Messages, models.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	})
	o.sess.UpdatedAt = now

	if err := o.store.Save(ctx, o.sess); err != nil {
		o.sess = prev
		return nil, fmt.Errorf("failed to persist reply: %w", err)
	}

	return o.sess.Clone(), nil
}

// RecordInteraction notes user-driven activity (typing, scrolling,
// expanding the widget) and resumes an idle-timed-out conversation.
func (o *Orchestrator) RecordInteraction(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return ErrNoSession
	}
	if o.sess.Status.Terminal() {
		return ErrConversationOver
	}

	if o.sess.Status == models.StatusIdleTimeout {
		return o.applyTransitionLocked(ctx, models.StatusActive, "user returned after idle timeout", models.TriggeredByUser, nil)
	}

	now := o.clock.Now()
	o.sess.LastInteractionAt = now
	o.sess.UpdatedAt = now
	return o.store.Save(ctx, o.sess)
}

// SetExpanded persists widget visibility. The first expansion with no
// valid stored session creates one.
func (o *Orchestrator) SetExpanded(ctx context.Context, expanded bool) (*models.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		if expanded {
			return o.initializeLocked(ctx, nil, true)
		}
		return nil, ErrNoSession
	}

	now := o.clock.Now()
	o.sess.IsExpanded = expanded
	o.sess.UpdatedAt = now
	if expanded && !o.sess.Status.Terminal() {
		o.sess.LastInteractionAt = now
	}

	if err := o.store.Save(ctx, o.sess); err != nil {
		return nil, err
	}
	return o.sess.Clone(), nil
}

// RequestHandoff asks the backend for a human agent. The backend call
// is awaited: if it rejects, local state stays unchanged and the error
// surfaces so the widget can offer a retry.
func (o *Orchestrator) RequestHandoff(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return ErrNoSession
	}
	if !CanTransition(o.sess.Status, models.StatusWaitingHuman) {
		return ErrInvalidTransition
	}

	if err := o.backend.RequestHumanHandoff(ctx, o.sess.ConversationID); err != nil {
		return fmt.Errorf("handoff request failed: %w", err)
	}

	return o.applyTransitionLocked(ctx, models.StatusWaitingHuman, "user requested human agent", models.TriggeredByUser, nil)
}

// AcceptHandoff marks the handoff as picked up by a human agent
func (o *Orchestrator) AcceptHandoff(ctx context.Context, agent string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return ErrNoSession
	}

	var meta map[string]interface{}
	if agent != "" {
		meta = map[string]interface{}{"agent": agent}
	}
	return o.applyTransitionLocked(ctx, models.StatusEscalated, "agent accepted handoff", models.TriggeredByAI, meta)
}

// EndConversation terminates the conversation explicitly. The backend
// call is awaited like a handoff: a rejection leaves local state
// untouched.
func (o *Orchestrator) EndConversation(ctx context.Context, reason string, by models.TriggeredBy) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return ErrNoSession
	}
	if o.sess.Status == models.StatusEnded || o.sess.Status == models.StatusClosed {
		return ErrConversationOver
	}
	if reason == "" {
		reason = "conversation ended"
	}

	if err := o.backend.EndConversation(ctx, o.sess.ConversationID, reason); err != nil {
		return fmt.Errorf("end conversation failed: %w", err)
	}

	return o.applyTransitionLocked(ctx, models.StatusEnded, reason, by, nil)
}

// CloseConversation administratively closes an ended conversation
func (o *Orchestrator) CloseConversation(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return ErrNoSession
	}
	return o.applyTransitionLocked(ctx, models.StatusClosed, "administratively closed", models.TriggeredBySystem, nil)
}

// OnTick runs the timeout check against the live session. Invoked by
// the supervisor's ticker; harmless when no session is live.
func (o *Orchestrator) OnTick(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ev := CheckTimeouts(o.sess, now, o.cfg)
	if ev == nil {
		return
	}

	if err := o.applyTransitionLocked(context.Background(), ev.To, ev.Reason, models.TriggeredBySystem, nil); err != nil {
		o.log.WithError(err).WithField("to", ev.To).Warn("timeout transition failed")
	}
}

// Status returns the live session's lifecycle state, or "" when none
func (o *Orchestrator) Status() models.Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.sess == nil {
		return ""
	}
	return o.sess.Status
}

// Session returns a copy of the live session, or nil when none
func (o *Orchestrator) Session() *models.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.Clone()
}

// applyTransitionLocked is the single choke point for state changes:
// it validates against the transition table, persists the session, and
// appends the audit record. The write and the append either both land
// or the in-memory and persisted state are rolled back, so replay on
// reload can never diverge from the audit trail.
func (o *Orchestrator) applyTransitionLocked(ctx context.Context, to models.Status, reason string, by models.TriggeredBy, meta map[string]interface{}) error {
	from := o.sess.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := o.clock.Now()
	prev := o.sess.Clone()

	o.sess.Status = to
	o.sess.UpdatedAt = now

	if err := o.persistLocked(ctx, to); err != nil {
		o.sess = prev
		return fmt.Errorf("failed to persist transition: %w", err)
	}

	t := models.Transition{
		ID:             uuid.New().String(),
		ConversationID: o.sess.ConversationID,
		From:           from,
		To:             to,
		Reason:         reason,
		TriggeredBy:    by,
		Metadata:       meta,
		CreatedAt:      now,
	}

	if err := o.transitions.Append(ctx, t); err != nil {
		// One retry before rolling the session back; a transition must
		// never be durable without its audit record or vice versa.
		if err = o.transitions.Append(ctx, t); err != nil {
			if restoreErr := o.store.Save(ctx, prev); restoreErr != nil {
				o.log.WithError(restoreErr).Error("rollback after failed transition append also failed")
			}
			o.sess = prev
			return fmt.Errorf("failed to log transition: %w", err)
		}
	}

	o.log.WithFields(logrus.Fields{
		"conversation_id": t.ConversationID,
		"from":            t.From,
		"to":              t.To,
		"reason":          t.Reason,
	}).Info("lifecycle transition")

	o.afterTransitionLocked(t)
	return nil
}

// persistLocked writes the post-transition session state. Explicit ends
// and expired sessions are removed from the store entirely; everything
// else is saved in place.
func (o *Orchestrator) persistLocked(ctx context.Context, to models.Status) error {
	switch to {
	case models.StatusEnded, models.StatusMaxSession:
		return o.store.Clear(ctx)
	case models.StatusClosed:
		// The store was already cleared when the conversation ended.
		return nil
	default:
		return o.store.Save(ctx, o.sess)
	}
}

// recordTransitionLocked appends an audit record for a state change the
// store has already persisted (the load-time idle correction). Failures
// are non-fatal: the conversation continues locally.
func (o *Orchestrator) recordTransitionLocked(ctx context.Context, t models.Transition) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = o.clock.Now()
	}

	if err := o.transitions.Append(ctx, t); err != nil {
		o.log.WithError(err).Warn("failed to log transition")
		return
	}

	o.afterTransitionLocked(t)
}

// afterTransitionLocked handles the fire-and-forget side of a logged
// transition: widget notification, backend delivery, and summary
// generation when a terminal state was reached.
func (o *Orchestrator) afterTransitionLocked(t models.Transition) {
	if o.notify != nil {
		o.notify(t)
	}

	o.outbox.Enqueue("log transition", func(ctx context.Context) error {
		return o.backend.LogTransition(ctx, t)
	})

	if t.To.Terminal() && t.To != models.StatusClosed {
		o.scheduleSummaryLocked()
	}
}

// scheduleSummaryLocked snapshots the conversation and queues summary
// generation. The snapshot is taken now because terminal transitions
// may clear the stored session before the outbox task runs.
func (o *Orchestrator) scheduleSummaryLocked() {
	conversationID := o.sess.ConversationID
	messages := make([]models.Message, len(o.sess.Messages))
	copy(messages, o.sess.Messages)
	var identity *models.Identity
	if o.sess.Identity != nil {
		id := *o.sess.Identity
		identity = &id
	}

	o.outbox.Enqueue("generate summary", func(ctx context.Context) error {
		transitions, err := o.transitions.ListByConversation(ctx, conversationID)
		if err != nil {
			return err
		}
		sum := o.summarize(conversationID, identity, transitions, messages)
		return o.summaries.Save(ctx, sum)
	})
}

// seedGuardLocked rebuilds the quota windows from the restored message
// log so a restart does not reset the hourly/daily ceilings.
func (o *Orchestrator) seedGuardLocked() {
	var times []time.Time
	for _, m := range o.sess.Messages {
		if m.Role == models.RoleUser {
			times = append(times, m.CreatedAt)
		}
	}
	o.guard.Seed(times)
}
