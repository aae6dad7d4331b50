package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/config"
	"github.com/deskflow/deskflow-engine/internal/models"
	"github.com/deskflow/deskflow-engine/internal/repository"
)

// sessionRow is the serialized form of the live session. Timestamps are
// stored as unix milliseconds so they reconstitute identically across
// drivers; messages and identity are JSON columns.
type sessionRow struct {
	Slot              string         `db:"slot"`
	ID                string         `db:"id"`
	ConversationID    string         `db:"conversation_id"`
	Status            string         `db:"status"`
	Messages          string         `db:"messages"`
	Identity          sql.NullString `db:"identity"`
	IsExpanded        bool           `db:"is_expanded"`
	CreatedAt         int64          `db:"created_at"`
	UpdatedAt         int64          `db:"updated_at"`
	LastInteractionAt int64          `db:"last_interaction_at"`
}

// SessionStore implements repository.SessionStore on the local SQLite
// file. A single "live" slot holds at most one session per device.
type SessionStore struct {
	db  *sqlx.DB
	cfg config.LifecycleConfig
	now func() time.Time
	log *logrus.Logger
}

// NewSessionStore creates a new local session store. now is injected so
// the TTL and idle checks are testable without real timers.
func NewSessionStore(db *sqlx.DB, cfg config.LifecycleConfig, now func() time.Time, log *logrus.Logger) *SessionStore {
	return &SessionStore{db: db, cfg: cfg, now: now, log: log}
}

var _ repository.SessionStore = (*SessionStore)(nil)

// Load returns the stored session after applying the recovery contract:
// expired or ended sessions are cleared and reported as absent, and an
// active session past its idle window is corrected to idle_timeout and
// re-persisted before being returned. Corrupt rows are discarded with a
// warning rather than surfaced; the caller starts fresh.
func (s *SessionStore) Load(ctx context.Context) (*models.Session, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM live_session WHERE slot = 'live'`)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	sess, err := row.toModel()
	if err != nil {
		s.log.WithError(err).Warn("discarding corrupt stored session")
		_ = s.Clear(ctx)
		return nil, false, nil
	}

	now := s.now()

	// TTL is measured from the last mutation of any kind. A session
	// that already ended has no business being restored either.
	if now.Sub(sess.UpdatedAt) >= s.cfg.SessionTTL() || sess.Status == models.StatusEnded || sess.Status == models.StatusClosed {
		if err := s.Clear(ctx); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	// The idle check has to run at load time too: the in-memory timer
	// cannot fire while the host is closed or suspended.
	if sess.Status == models.StatusActive && s.cfg.EnableIdleTimeout &&
		now.Sub(sess.LastInteractionAt) >= s.cfg.IdleTimeout() {
		sess.Status = models.StatusIdleTimeout
		sess.UpdatedAt = now
		if err := s.Save(ctx, sess); err != nil {
			return nil, false, err
		}
		return sess, true, nil
	}

	return sess, false, nil
}

// Save upserts the live session slot
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	row, err := toRow(sess)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO live_session (slot, id, conversation_id, status, messages, identity, is_expanded, created_at, updated_at, last_interaction_at)
		VALUES ('live', :id, :conversation_id, :status, :messages, :identity, :is_expanded, :created_at, :updated_at, :last_interaction_at)
		ON CONFLICT (slot) DO UPDATE SET
			id = excluded.id,
			conversation_id = excluded.conversation_id,
			status = excluded.status,
			messages = excluded.messages,
			identity = excluded.identity,
			is_expanded = excluded.is_expanded,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			last_interaction_at = excluded.last_interaction_at
	`

	_, err = s.db.NamedExecContext(ctx, query, row)
	return err
}

// Clear removes the live session slot
func (s *SessionStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM live_session WHERE slot = 'live'`)
	return err
}

func toRow(sess *models.Session) (*sessionRow, error) {
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return nil, err
	}

	row := &sessionRow{
		Slot:              "live",
		ID:                sess.ID,
		ConversationID:    sess.ConversationID,
		Status:            string(sess.Status),
		Messages:          string(messages),
		IsExpanded:        sess.IsExpanded,
		CreatedAt:         sess.CreatedAt.UnixMilli(),
		UpdatedAt:         sess.UpdatedAt.UnixMilli(),
		LastInteractionAt: sess.LastInteractionAt.UnixMilli(),
	}

	if sess.Identity != nil {
		identity, err := json.Marshal(sess.Identity)
		if err != nil {
			return nil, err
		}
		row.Identity = sql.NullString{String: string(identity), Valid: true}
	}

	return row, nil
}

func (r *sessionRow) toModel() (*models.Session, error) {
	sess := &models.Session{
		ID:                r.ID,
		ConversationID:    r.ConversationID,
		Status:            models.Status(r.Status),
		IsExpanded:        r.IsExpanded,
		CreatedAt:         time.UnixMilli(r.CreatedAt),
		UpdatedAt:         time.UnixMilli(r.UpdatedAt),
		LastInteractionAt: time.UnixMilli(r.LastInteractionAt),
	}

	if !sess.Status.Valid() {
		return nil, errInvalidStatus(r.Status)
	}

	if err := json.Unmarshal([]byte(r.Messages), &sess.Messages); err != nil {
		return nil, err
	}

	if r.Identity.Valid {
		var identity models.Identity
		if err := json.Unmarshal([]byte(r.Identity.String), &identity); err != nil {
			return nil, err
		}
		sess.Identity = &identity
	}

	return sess, nil
}

type errInvalidStatus string

func (e errInvalidStatus) Error() string {
	return "invalid stored session status: " + string(e)
}
