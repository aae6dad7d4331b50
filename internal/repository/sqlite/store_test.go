package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow-engine/internal/config"
	"github.com/deskflow/deskflow-engine/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "deskflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(db))
	return db
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func testSession(clock *fakeClock) *models.Session {
	now := clock.Now()
	return &models.Session{
		ID:             "sess-1",
		ConversationID: "conv-1",
		Status:         models.StatusActive,
		Messages: []models.Message{
			{ID: "m1", Role: models.RoleSystem, Content: "Hi! How can we help you today?", CreatedAt: now},
			{ID: "m2", Role: models.RoleUser, Content: "my invoice looks wrong", CreatedAt: now},
		},
		Identity:          &models.Identity{Name: "Ada", Email: "ada@example.com"},
		IsExpanded:        true,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastInteractionAt: now,
	}
}

func TestSessionStore_SaveLoadRoundTrip(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())
	ctx := context.Background()

	want := testSession(clock)
	require.NoError(t, store.Save(ctx, want))

	got, corrected, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, corrected)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ConversationID, got.ConversationID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Messages, got.Messages)
	assert.Equal(t, want.Identity, got.Identity)
	assert.True(t, got.IsExpanded)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.LastInteractionAt.Equal(got.LastInteractionAt))
}

func TestSessionStore_LoadEmpty(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Now()}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())

	sess, corrected, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.False(t, corrected)
}

func TestSessionStore_SaveOverwritesLiveSlot(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())
	ctx := context.Background()

	first := testSession(clock)
	require.NoError(t, store.Save(ctx, first))

	second := testSession(clock)
	second.ID = "sess-2"
	second.ConversationID = "conv-2"
	require.NoError(t, store.Save(ctx, second))

	got, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sess-2", got.ID)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM live_session`))
	assert.Equal(t, 1, count)
}

func TestSessionStore_IdleCorrectionOnLoad(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession(clock)))

	// Host was closed past the 30-minute idle window.
	clock.advance(31 * time.Minute)

	got, corrected, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, corrected)
	assert.Equal(t, models.StatusIdleTimeout, got.Status)

	// The correction was persisted: a second load sees idle_timeout
	// without reporting another correction.
	again, corrected, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.False(t, corrected)
	assert.Equal(t, models.StatusIdleTimeout, again.Status)
}

func TestSessionStore_IdleCorrectionDisabled(t *testing.T) {
	db := testDB(t)
	cfg := config.DefaultLifecycle()
	cfg.EnableIdleTimeout = false
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, cfg, clock.Now, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession(clock)))
	clock.advance(31 * time.Minute)

	got, corrected, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, corrected)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestSessionStore_TTLExpiryClears(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSession(clock)))
	clock.advance(25 * time.Hour)

	sess, _, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM live_session`))
	assert.Equal(t, 0, count)
}

func TestSessionStore_EndedSessionNotRestored(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())
	ctx := context.Background()

	sess := testSession(clock)
	sess.Status = models.StatusEnded
	require.NoError(t, store.Save(ctx, sess))

	got, _, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionStore_CorruptRowDiscarded(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())
	ctx := context.Background()

	_, err := db.Exec(`
		INSERT INTO live_session (slot, id, conversation_id, status, messages, is_expanded, created_at, updated_at, last_interaction_at)
		VALUES ('live', 'sess-1', 'conv-1', 'active', 'not json', 0, ?, ?, ?)
	`, clock.Now().UnixMilli(), clock.Now().UnixMilli(), clock.Now().UnixMilli())
	require.NoError(t, err)

	sess, corrected, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.False(t, corrected)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM live_session`))
	assert.Equal(t, 0, count)
}

func TestSessionStore_UnknownStatusDiscarded(t *testing.T) {
	db := testDB(t)
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := NewSessionStore(db, config.DefaultLifecycle(), clock.Now, testLogger())

	_, err := db.Exec(`
		INSERT INTO live_session (slot, id, conversation_id, status, messages, is_expanded, created_at, updated_at, last_interaction_at)
		VALUES ('live', 'sess-1', 'conv-1', 'hibernating', '[]', 0, ?, ?, ?)
	`, clock.Now().UnixMilli(), clock.Now().UnixMilli(), clock.Now().UnixMilli())
	require.NoError(t, err)

	sess, _, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestTransitionLog_AppendOrderPreserved(t *testing.T) {
	db := testDB(t)
	log := NewTransitionLog(db, testLogger())
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two of these share a timestamp; seq must still keep append order.
	seq := []models.Status{models.StatusActive, models.StatusWaitingHuman, models.StatusEscalated, models.StatusEnded}
	for i, to := range seq {
		at := base.Add(time.Duration(i/2) * time.Minute)
		require.NoError(t, log.Append(ctx, models.Transition{
			ConversationID: "conv-1",
			To:             to,
			TriggeredBy:    models.TriggeredByUser,
			CreatedAt:      at,
		}))
	}

	got, err := log.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got, len(seq))
	for i, tr := range got {
		assert.Equal(t, seq[i], tr.To)
		assert.NotEmpty(t, tr.ID)
	}
}

func TestTransitionLog_MetadataRoundTrip(t *testing.T) {
	db := testDB(t)
	log := NewTransitionLog(db, testLogger())
	ctx := context.Background()

	require.NoError(t, log.Append(ctx, models.Transition{
		ConversationID: "conv-1",
		From:           models.StatusWaitingHuman,
		To:             models.StatusEscalated,
		Reason:         "agent accepted handoff",
		TriggeredBy:    models.TriggeredByUser,
		Metadata:       map[string]interface{}{"agent": "sam"},
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}))

	got, err := log.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sam", got[0].Metadata["agent"])
	assert.Equal(t, models.StatusWaitingHuman, got[0].From)
}

func TestTransitionLog_FiltersByConversation(t *testing.T) {
	db := testDB(t)
	log := NewTransitionLog(db, testLogger())
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, log.Append(ctx, models.Transition{ConversationID: "conv-1", To: models.StatusActive, TriggeredBy: models.TriggeredByUser, CreatedAt: at}))
	require.NoError(t, log.Append(ctx, models.Transition{ConversationID: "conv-2", To: models.StatusActive, TriggeredBy: models.TriggeredByUser, CreatedAt: at}))

	got, err := log.ListByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "conv-1", got[0].ConversationID)

	all, err := log.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSummaryStore_SaveIsIdempotent(t *testing.T) {
	db := testDB(t)
	store := NewSummaryStore(db, testLogger())
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	first := models.ConversationSummary{
		ConversationID:    "conv-1",
		Summary:           "original",
		KeyTopics:         []string{"billing"},
		Outcome:           models.OutcomeResolved,
		ResolutionMinutes: 10,
		MessageCount:      3,
		CreatedAt:         at,
	}
	require.NoError(t, store.Save(ctx, first))

	// An outbox retry with a regenerated summary must not overwrite.
	second := first
	second.Summary = "retry"
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "original", got.Summary)
	assert.Equal(t, []string{"billing"}, got.KeyTopics)
	assert.Equal(t, models.OutcomeResolved, got.Outcome)
}

func TestSummaryStore_GetAbsent(t *testing.T) {
	db := testDB(t)
	store := NewSummaryStore(db, testLogger())

	got, err := store.Get(context.Background(), "no-such-conversation")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSummaryStore_List(t *testing.T) {
	db := testDB(t)
	store := NewSummaryStore(db, testLogger())
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	satisfaction := 4
	require.NoError(t, store.Save(ctx, models.ConversationSummary{
		ConversationID:       "conv-1",
		Summary:              "first",
		KeyTopics:            []string{},
		Outcome:              models.OutcomeResolved,
		CustomerSatisfaction: &satisfaction,
		CreatedAt:            at,
	}))
	require.NoError(t, store.Save(ctx, models.ConversationSummary{
		ConversationID: "conv-2",
		Summary:        "second",
		KeyTopics:      []string{"refund"},
		Outcome:        models.OutcomeEscalated,
		CreatedAt:      at.Add(time.Hour),
	}))

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "conv-1", got[0].ConversationID)
	require.NotNil(t, got[0].CustomerSatisfaction)
	assert.Equal(t, 4, *got[0].CustomerSatisfaction)
	assert.Nil(t, got[1].CustomerSatisfaction)
}
