package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/pkg/config"
	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	fetchErr  error
	published []uuid.UUID
	failed    []uuid.UUID
	failedErr []error
}

func (f *fakeRepo) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	f.failed = append(f.failed, id)
	f.failedErr = append(f.failedErr, err)
	return nil
}

type fakeDB struct {
	pingErr error
	txErr   error
}

func (f *fakeDB) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeDB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if f.txErr != nil {
		return f.txErr
	}
	return fn(nil)
}

type fakePubSubClient struct {
	pingErr error
}

func (f *fakePubSubClient) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakePubSubClient) ConfirmationPublisher() *gcppubsub.Publisher { return nil }

type fakePublishResult struct {
	err error
}

func (f fakePublishResult) Get(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "server-id", nil
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	results  []fakePublishResult
}

func (f *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	idx := len(f.messages) - 1
	if idx < len(f.results) {
		return f.results[idx]
	}
	return fakePublishResult{}
}

func newTestService(t *testing.T, repo *fakeRepo, client *fakeDB, ps *fakePubSubClient, pub *fakePublisher) *Service {
	t.Helper()

	cfg := &config.Config{
		Outbox: config.OutboxConfig{
			BatchSize:      10,
			PollIntervalMS: 5,
			MaxAttempts:    3,
		},
	}
	logg := logger.New(logger.Options{ServiceName: "notify-worker-test", Output: io.Discard})

	svc, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         client,
		PubSub:     ps,
		Repository: repo,
		Publisher:  pub,
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func outboxEvent(t *testing.T, eventType enums.OutboxEventType, payload map[string]any) models.OutboxEvent {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       raw,
		CreatedAt:     time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	event := outboxEvent(t, enums.EventOrderConfirmation, map[string]any{"order_number": "OVT-20260314-AB12CD34"})
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{}
	svc := newTestService(t, repo, &fakeDB{}, &fakePubSubClient{}, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch returned error: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be marked processed")
	}
	if len(repo.published) != 1 || repo.published[0] != event.ID {
		t.Fatalf("expected event %s marked published, got %v", event.ID, repo.published)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("expected no failures, got %v", repo.failed)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.messages))
	}

	msg := pub.messages[0]
	if msg.Attributes["event_type"] != string(enums.EventOrderConfirmation) {
		t.Fatalf("unexpected event_type attribute %q", msg.Attributes["event_type"])
	}
	if msg.Attributes["aggregate_id"] != event.AggregateID.String() {
		t.Fatalf("unexpected aggregate_id attribute %q", msg.Attributes["aggregate_id"])
	}
	if string(msg.Data) != string(event.Payload) {
		t.Fatalf("payload mismatch: %s", msg.Data)
	}
}

func TestProcessBatchContinuesAfterPublishFailure(t *testing.T) {
	first := outboxEvent(t, enums.EventOrderConfirmation, map[string]any{"order_number": "OVT-20260314-AB12CD34"})
	second := outboxEvent(t, enums.EventOrderSessionIssued, map[string]any{"session_id": "cs_second"})
	repo := &fakeRepo{events: []models.OutboxEvent{first, second}}
	pub := &fakePublisher{results: []fakePublishResult{
		{err: errors.New("topic unavailable")},
		{},
	}}
	svc := newTestService(t, repo, &fakeDB{}, &fakePubSubClient{}, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch returned error: %v", err)
	}
	if !processed {
		t.Fatal("expected batch to be marked processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != first.ID {
		t.Fatalf("expected first event marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != second.ID {
		t.Fatalf("expected second event published after failure, got %v", repo.published)
	}
	if repo.failedErr[0] == nil {
		t.Fatal("expected failure reason recorded")
	}
}

func TestProcessBatchEmptyIsIdle(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	svc := newTestService(t, repo, &fakeDB{}, &fakePubSubClient{}, pub)

	processed, err := svc.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch returned error: %v", err)
	}
	if processed {
		t.Fatal("expected empty batch to report idle")
	}
	if len(pub.messages) != 0 {
		t.Fatalf("expected no publishes, got %d", len(pub.messages))
	}
}

func TestProcessBatchFetchErrorPropagates(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("connection reset")}
	svc := newTestService(t, repo, &fakeDB{}, &fakePubSubClient{}, &fakePublisher{})

	if _, err := svc.processBatch(context.Background()); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}

func TestProcessBatchHonorsBatchSize(t *testing.T) {
	var events []models.OutboxEvent
	for i := 0; i < 15; i++ {
		events = append(events, outboxEvent(t, enums.EventOrderCreated, map[string]any{"seq": i}))
	}
	repo := &fakeRepo{events: events}
	pub := &fakePublisher{}
	svc := newTestService(t, repo, &fakeDB{}, &fakePubSubClient{}, pub)

	if _, err := svc.processBatch(context.Background()); err != nil {
		t.Fatalf("processBatch returned error: %v", err)
	}
	if len(pub.messages) != 10 {
		t.Fatalf("expected batch limited to 10 events, got %d", len(pub.messages))
	}
}

func TestEnsureReadinessReportsFailedDependency(t *testing.T) {
	svc := newTestService(t, &fakeRepo{}, &fakeDB{pingErr: errors.New("refused")}, &fakePubSubClient{}, &fakePublisher{})
	if err := svc.ensureReadiness(context.Background()); err == nil {
		t.Fatal("expected database ping failure to surface")
	}

	svc = newTestService(t, &fakeRepo{}, &fakeDB{}, &fakePubSubClient{pingErr: errors.New("refused")}, &fakePublisher{})
	if err := svc.ensureReadiness(context.Background()); err == nil {
		t.Fatal("expected pubsub ping failure to surface")
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	cfg := &config.Config{}
	logg := logger.New(logger.Options{ServiceName: "notify-worker-test", Output: io.Discard})

	if _, err := NewService(ServiceParams{Logger: logg, DB: &fakeDB{}, PubSub: &fakePubSubClient{}, Repository: &fakeRepo{}, Publisher: &fakePublisher{}}); err == nil {
		t.Fatal("expected missing config to be rejected")
	}
	if _, err := NewService(ServiceParams{Config: cfg, DB: &fakeDB{}, PubSub: &fakePubSubClient{}, Repository: &fakeRepo{}, Publisher: &fakePublisher{}}); err == nil {
		t.Fatal("expected missing logger to be rejected")
	}
	if _, err := NewService(ServiceParams{Config: cfg, Logger: logg, PubSub: &fakePubSubClient{}, Repository: &fakeRepo{}, Publisher: &fakePublisher{}}); err == nil {
		t.Fatal("expected missing database client to be rejected")
	}
}

func TestNextBackoffDoublesWithCap(t *testing.T) {
	base := 500 * time.Millisecond
	got := nextBackoff(base, base, maxBackoff)
	if got != time.Second {
		t.Fatalf("expected 1s, got %s", got)
	}
	got = nextBackoff(8*time.Second, base, maxBackoff)
	if got != maxBackoff {
		t.Fatalf("expected cap %s, got %s", maxBackoff, got)
	}
}
