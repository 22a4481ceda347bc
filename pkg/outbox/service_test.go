package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
)

func TestEmitStoresEnvelopedPayload(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	aggregateID := uuid.New()
	occurred := time.Date(2026, 4, 2, 8, 15, 0, 0, time.UTC)
	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderConfirmation,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Data:          map[string]string{"order_number": "OVT-20260402-AB12CD34"},
		Version:       1,
		OccurredAt:    occurred,
	})
	require.NoError(t, err)

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "aggregate_id = ?", aggregateID).Error)
	assert.Equal(t, enums.EventOrderConfirmation, stored.EventType)
	assert.Equal(t, enums.AggregateOrder, stored.AggregateType)
	assert.Nil(t, stored.PublishedAt)
	assert.Equal(t, 0, stored.AttemptCount)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(stored.Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.True(t, envelope.OccurredAt.Equal(occurred))
	_, parseErr := uuid.Parse(envelope.EventID)
	assert.NoError(t, parseErr)

	var data map[string]string
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "OVT-20260402-AB12CD34", data["order_number"])
}

func TestEmitDefaultsOccurredAt(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	aggregateID := uuid.New()
	require.NoError(t, svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   aggregateID,
		Data:          map[string]string{"order_id": aggregateID.String()},
		Version:       1,
	}))

	var stored models.OutboxEvent
	require.NoError(t, db.First(&stored, "aggregate_id = ?", aggregateID).Error)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(stored.Payload, &envelope))
	assert.False(t, envelope.OccurredAt.IsZero())
}

func TestEmitRequiresTx(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	err := svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)
}

func TestEmitRejectsUnmarshalablePayload(t *testing.T) {
	db := setupOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	err := svc.Emit(context.Background(), db, DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          make(chan int),
	})
	require.Error(t, err)
}
