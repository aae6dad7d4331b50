package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/deskflow/deskflow-engine/internal/models"
	"github.com/deskflow/deskflow-engine/internal/repository"
)

type summaryRow struct {
	ConversationID       string        `db:"conversation_id"`
	Summary              string        `db:"summary"`
	KeyTopics            string        `db:"key_topics"`
	Outcome              string        `db:"outcome"`
	CustomerSatisfaction sql.NullInt64 `db:"customer_satisfaction"`
	ResolutionMinutes    float64       `db:"resolution_minutes"`
	MessageCount         int           `db:"message_count"`
	HandoffRequested     bool          `db:"handoff_requested"`
	CreatedAt            int64         `db:"created_at"`
}

// SummaryStore implements repository.SummaryStore
type SummaryStore struct {
	db  *sqlx.DB
	log *logrus.Logger
}

// NewSummaryStore creates the conversation summary store
func NewSummaryStore(db *sqlx.DB, log *logrus.Logger) *SummaryStore {
	return &SummaryStore{db: db, log: log}
}

var _ repository.SummaryStore = (*SummaryStore)(nil)

// Save stores a summary. Summaries are created once per terminal
// conversation; a duplicate save for the same conversation is a no-op
// so outbox retries stay idempotent.
func (s *SummaryStore) Save(ctx context.Context, sum models.ConversationSummary) error {
	topics, err := json.Marshal(sum.KeyTopics)
	if err != nil {
		return err
	}

	row := summaryRow{
		ConversationID:    sum.ConversationID,
		Summary:           sum.Summary,
		KeyTopics:         string(topics),
		Outcome:           string(sum.Outcome),
		ResolutionMinutes: sum.ResolutionMinutes,
		MessageCount:      sum.MessageCount,
		HandoffRequested:  sum.HandoffRequested,
		CreatedAt:         sum.CreatedAt.UnixMilli(),
	}
	if sum.CustomerSatisfaction != nil {
		row.CustomerSatisfaction = sql.NullInt64{Int64: int64(*sum.CustomerSatisfaction), Valid: true}
	}

	query := `
		INSERT INTO summaries (conversation_id, summary, key_topics, outcome, customer_satisfaction, resolution_minutes, message_count, handoff_requested, created_at)
		VALUES (:conversation_id, :summary, :key_topics, :outcome, :customer_satisfaction, :resolution_minutes, :message_count, :handoff_requested, :created_at)
		ON CONFLICT (conversation_id) DO NOTHING
	`

	_, err = s.db.NamedExecContext(ctx, query, row)
	return err
}

// Get returns the summary for one conversation, or nil when absent
func (s *SummaryStore) Get(ctx context.Context, conversationID string) (*models.ConversationSummary, error) {
	var row summaryRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM summaries WHERE conversation_id = ?`, conversationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sum, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// List returns all stored summaries, skipping malformed rows
func (s *SummaryStore) List(ctx context.Context) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT * FROM summaries ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var row summaryRow
		if err := rows.StructScan(&row); err != nil {
			s.log.WithError(err).Warn("skipping malformed summary row")
			continue
		}
		sum, err := row.toModel()
		if err != nil {
			s.log.WithError(err).WithField("conversation_id", row.ConversationID).Warn("skipping unparseable summary")
			continue
		}
		out = append(out, *sum)
	}

	return out, rows.Err()
}

func (r *summaryRow) toModel() (*models.ConversationSummary, error) {
	sum := &models.ConversationSummary{
		ConversationID:    r.ConversationID,
		Summary:           r.Summary,
		Outcome:           models.Outcome(r.Outcome),
		ResolutionMinutes: r.ResolutionMinutes,
		MessageCount:      r.MessageCount,
		HandoffRequested:  r.HandoffRequested,
		CreatedAt:         time.UnixMilli(r.CreatedAt),
	}

	if err := json.Unmarshal([]byte(r.KeyTopics), &sum.KeyTopics); err != nil {
		return nil, err
	}

	if r.CustomerSatisfaction.Valid {
		v := int(r.CustomerSatisfaction.Int64)
		sum.CustomerSatisfaction = &v
	}

	return sum, nil
}
