package outbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	outboxEvents := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(outboxEvents).Error)
	return db
}

func seedEvent(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType, createdAt time.Time) models.OutboxEvent {
	t.Helper()

	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(&event).Error)
	return event
}

func eventIDs(rows []models.OutboxEvent) map[uuid.UUID]bool {
	ids := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		ids[row.ID] = true
	}
	return ids
}

func TestFetchUnpublishedSkipsPublished(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	pending := seedEvent(t, db, enums.EventOrderCreated, time.Now().UTC())
	published := seedEvent(t, db, enums.EventOrderConfirmation, time.Now().UTC())
	require.NoError(t, repo.MarkPublishedTx(db, published.ID))

	rows, err := repo.FetchUnpublished(1000)
	require.NoError(t, err)

	ids := eventIDs(rows)
	assert.True(t, ids[pending.ID], "pending event should be picked up")
	assert.False(t, ids[published.ID], "published event must not be reclaimed")
}

func TestFetchUnpublishedOrdersByCreation(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	second := seedEvent(t, db, enums.EventOrderCreated, base.Add(time.Minute))
	first := seedEvent(t, db, enums.EventOrderCreated, base)

	rows, err := repo.FetchUnpublished(1000)
	require.NoError(t, err)

	firstIdx, secondIdx := -1, -1
	for i, row := range rows {
		switch row.ID {
		case first.ID:
			firstIdx = i
		case second.ID:
			secondIdx = i
		}
	}
	require.NotEqual(t, -1, firstIdx)
	require.NotEqual(t, -1, secondIdx)
	assert.Less(t, firstIdx, secondIdx, "older events drain first")
}

func TestFetchUnpublishedForPublishRequiresTx(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	_, err := repo.FetchUnpublishedForPublish(nil, 10, 10)
	require.Error(t, err)
	require.NoError(t, db.Error)
}

func TestMarkFailedTxRecordsErrorAndCount(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	event := seedEvent(t, db, enums.EventOrderPaymentFailed, time.Now().UTC())
	require.NoError(t, repo.MarkFailedTx(db, event.ID, errors.New("topic unavailable")))
	require.NoError(t, repo.MarkFailedTx(db, event.ID, errors.New("topic unavailable again")))

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, 2, stored.AttemptCount)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "topic unavailable again", *stored.LastError)
	assert.Nil(t, stored.PublishedAt)
}

func TestMarkPublishedTxStampsTimestamp(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	event := seedEvent(t, db, enums.EventOrderConfirmation, time.Now().UTC())
	require.NoError(t, repo.MarkPublishedTx(db, event.ID))

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "id = ?", event.ID).Error)
	require.NotNil(t, stored.PublishedAt)
}

func TestInsertRequiresTx(t *testing.T) {
	db := setupOutboxTestDB(t)
	repo := NewRepository(db)

	err := repo.Insert(nil, models.OutboxEvent{})
	require.Error(t, err)
	require.NoError(t, db.Error)
}
