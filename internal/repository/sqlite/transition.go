package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/models"
	"github.com/deskflow/deskflow-engine/internal/repository"
)

type transitionRow struct {
	Seq            int64          `db:"seq"`
	ID             string         `db:"id"`
	ConversationID string         `db:"conversation_id"`
	FromStatus     string         `db:"from_status"`
	ToStatus       string         `db:"to_status"`
	Reason         string         `db:"reason"`
	TriggeredBy    string         `db:"triggered_by"`
	Metadata       sql.NullString `db:"metadata"`
	CreatedAt      int64          `db:"created_at"`
}

// TransitionLog implements repository.TransitionLog. Rows are insert
// only; the monotonic seq column preserves event order even when two
// transitions share a timestamp.
type TransitionLog struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewTransitionLog creates the append-only transition log
func NewTransitionLog(db *sqlx.DB, log *logrus.Logger) *TransitionLog {
	return &TransitionLog{db: db, log: log}
}

var _ repository.TransitionLog = (*TransitionLog)(nil)

// Append records one transition. Prior entries are never touched.
func (l *TransitionLog) Append(ctx context.Context, t models.Transition) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	row := transitionRow{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		FromStatus:     string(t.From),
		ToStatus:       string(t.To),
		Reason:         t.Reason,
		TriggeredBy:    string(t.TriggeredBy),
		CreatedAt:      t.CreatedAt.UnixMilli(),
	}

	if len(t.Metadata) > 0 {
		metadata, err := json.Marshal(t.Metadata)
		if err != nil {
			return err
		}
		row.Metadata = sql.NullString{String: string(metadata), Valid: true}
	}

	query := `
		INSERT INTO transitions (id, conversation_id, from_status, to_status, reason, triggered_by, metadata, created_at)
		VALUES (:id, :conversation_id, :from_status, :to_status, :reason, :triggered_by, :metadata, :created_at)
	`

	_, err := l.db.NamedExecContext(ctx, query, row)
	return err
}

// ListByConversation returns the ordered transition sequence for one
// conversation.
func (l *TransitionLog) ListByConversation(ctx context.Context, conversationID string) ([]models.Transition, error) {
	return l.list(ctx, `SELECT * FROM transitions WHERE conversation_id = ? ORDER BY seq`, conversationID)
}

// ListAll returns every stored transition in append order
func (l *TransitionLog) ListAll(ctx context.Context) ([]models.Transition, error) {
	return l.list(ctx, `SELECT * FROM transitions ORDER BY seq`)
}

func (l *TransitionLog) list(ctx context.Context, query string, args ...interface{}) ([]models.Transition, error) {
	rows, err := l.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var row transitionRow
		if err := rows.StructScan(&row); err != nil {
			// Malformed rows must not fail the whole read.
			l.log.WithError(err).Warn("skipping malformed transition row")
			continue
		}

		t := models.Transition{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			From:           models.Status(row.FromStatus),
			To:             models.Status(row.ToStatus),
			Reason:         row.Reason,
			TriggeredBy:    models.TriggeredBy(row.TriggeredBy),
			CreatedAt:      time.UnixMilli(row.CreatedAt),
		}

		if row.Metadata.Valid {
			if err := json.Unmarshal([]byte(row.Metadata.String), &t.Metadata); err != nil {
				l.log.WithError(err).WithField("transition_id", row.ID).Warn("dropping unparseable transition metadata")
				t.Metadata = nil
			}
		}

		out = append(out, t)
	}

	return out, rows.Err()
}
