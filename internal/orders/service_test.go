package orders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/pkg/config"
	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
	"github.com/overtone-audio/storefront-backend/pkg/outbox"
	stripegw "github.com/overtone-audio/storefront-backend/pkg/stripe"
)

type stubServiceRepo struct {
	created        *models.Order
	createErr      error
	found          *models.Order
	updates        map[string]any
	updatedVersion int
	updateErr      error
}

func (s *stubServiceRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubServiceRepo) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = order
	return order, nil
}

func (s *stubServiceRepo) CreateOrderLineItems(ctx context.Context, items []models.OrderLineItem) error {
	return nil
}

func (s *stubServiceRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.FindByIDWithItems(ctx, id)
}

func (s *stubServiceRepo) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.found == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return s.found, nil
}

func (s *stubServiceRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubServiceRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	panic("not implemented")
}

func (s *stubServiceRepo) UpdatePaymentFields(ctx context.Context, id uuid.UUID, expectedVersion int, updates map[string]any) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updatedVersion = expectedVersion
	s.updates = updates
	return nil
}

type stubServiceOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubServiceOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type stubCheckoutGateway struct {
	created   *stripegw.CreatedSession
	createErr error
	request   stripegw.SessionRequest
	calls     int
}

func (s *stubCheckoutGateway) CreateSession(ctx context.Context, req stripegw.SessionRequest) (*stripegw.CreatedSession, error) {
	s.calls++
	s.request = req
	if s.createErr != nil {
		return nil, s.createErr
	}
	if s.created != nil {
		return s.created, nil
	}
	return &stripegw.CreatedSession{ID: "cs_first", URL: "https://checkout.test/cs_first"}, nil
}

type stubAttemptsReader struct {
	attempts []models.RetryAttempt
	err      error
	orderID  uuid.UUID
}

func (s *stubAttemptsReader) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RetryAttempt, error) {
	s.orderID = orderID
	if s.err != nil {
		return nil, s.err
	}
	return s.attempts, nil
}

type serviceTxRunner struct{}

func (serviceTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func checkoutCfg() config.CheckoutConfig {
	return config.CheckoutConfig{
		SuccessURL: "https://shop.test/success",
		CancelURL:  "https://shop.test/cancel",
		Currency:   "usd",
	}
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerEmail: "buyer@example.com",
		ShippingCents: 500,
		TaxCents:      300,
		Items: []LineItemInput{
			{Name: "Studio Monitor", Qty: 2, UnitPriceCents: 10000},
			{Name: "Isolation Pads", Qty: 1, UnitPriceCents: 2500},
		},
	}
}

func TestCreateOrderComputesTotals(t *testing.T) {
	repo := &stubServiceRepo{}
	ob := &stubServiceOutbox{}
	gw := &stubCheckoutGateway{}
	svc, err := NewService(repo, serviceTxRunner{}, ob, gw, nil, checkoutCfg(), nil)
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	result, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}

	order := repo.created
	if order.SubtotalCents != 22500 {
		t.Fatalf("unexpected subtotal %d", order.SubtotalCents)
	}
	if order.TotalCents != 23300 {
		t.Fatalf("unexpected total %d", order.TotalCents)
	}
	if !order.TotalsConsistent() {
		t.Fatal("totals invariant violated")
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("new order must start (pending, pending), got (%s, %s)", order.Status, order.PaymentStatus)
	}
	if order.Version != 1 {
		t.Fatalf("new order must start at version 1, got %d", order.Version)
	}
	if !strings.HasPrefix(order.OrderNumber, "OVT-") {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	for _, item := range order.Items {
		if item.OrderID != order.ID {
			t.Fatal("line items must reference the order")
		}
		if item.TotalCents != item.Qty*item.UnitPriceCents {
			t.Fatalf("line total mismatch for %s", item.ProductName)
		}
	}

	if result.SessionID != "cs_first" || result.CheckoutURL == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if repo.updates["stripe_session_id"] != "cs_first" {
		t.Fatalf("expected session id stored, got %+v", repo.updates)
	}
	if len(ob.events) != 1 || ob.events[0].EventType != enums.EventOrderCreated {
		t.Fatalf("expected order created event got %+v", ob.events)
	}
}

func TestCreateOrderSessionRequestUsesSnapshot(t *testing.T) {
	repo := &stubServiceRepo{}
	gw := &stubCheckoutGateway{}
	svc, _ := NewService(repo, serviceTxRunner{}, &stubServiceOutbox{}, gw, nil, checkoutCfg(), nil)

	if _, err := svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if len(gw.request.Items) != 2 {
		t.Fatalf("expected snapshot items got %d", len(gw.request.Items))
	}
	if gw.request.Items[0].Name != "Studio Monitor" || gw.request.Items[0].UnitPriceCents != 10000 {
		t.Fatalf("unexpected session item %+v", gw.request.Items[0])
	}
	if gw.request.Currency != "usd" {
		t.Fatalf("unexpected currency %s", gw.request.Currency)
	}
	if gw.request.SuccessURL != "https://shop.test/success" || gw.request.CancelURL != "https://shop.test/cancel" {
		t.Fatalf("unexpected redirect urls %+v", gw.request)
	}
}

func TestCreateOrderSurvivesGatewayFailure(t *testing.T) {
	repo := &stubServiceRepo{}
	gw := &stubCheckoutGateway{createErr: pkgerrors.New(pkgerrors.CodeDependency, "gateway down")}
	svc, _ := NewService(repo, serviceTxRunner{}, &stubServiceOutbox{}, gw, nil, checkoutCfg(), nil)

	result, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("gateway failure after commit must not fail checkout: %v", err)
	}
	if result.OrderID == uuid.Nil || result.OrderNumber == "" {
		t.Fatalf("expected committed order in result, got %+v", result)
	}
	if result.SessionID != "" || result.CheckoutURL != "" {
		t.Fatalf("no session should be reported, got %+v", result)
	}
	if repo.updates != nil {
		t.Fatalf("unexpected session update %+v", repo.updates)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _ := NewService(&stubServiceRepo{}, serviceTxRunner{}, &stubServiceOutbox{}, &stubCheckoutGateway{}, nil, checkoutCfg(), nil)

	cases := []struct {
		name  string
		mutate func(*CreateOrderInput)
	}{
		{"missing email", func(in *CreateOrderInput) { in.CustomerEmail = " " }},
		{"no items", func(in *CreateOrderInput) { in.Items = nil }},
		{"zero qty", func(in *CreateOrderInput) { in.Items[0].Qty = 0 }},
		{"negative price", func(in *CreateOrderInput) { in.Items[0].UnitPriceCents = -1 }},
		{"negative shipping", func(in *CreateOrderInput) { in.ShippingCents = -5 }},
		{"discount exceeds total", func(in *CreateOrderInput) { in.DiscountCents = 1000000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, err := svc.Create(context.Background(), input)
			if err == nil {
				t.Fatal("expected error")
			}
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != pkgerrors.CodeValidation {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestGetOrderMapsDTO(t *testing.T) {
	sessionID := "cs_live"
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     "OVT-20260110-FFFF0000",
		CustomerEmail:   "buyer@example.com",
		Status:          enums.OrderStatusProcessing,
		PaymentStatus:   enums.PaymentStatusPaid,
		SubtotalCents:   2000,
		TotalCents:      2000,
		Currency:        "usd",
		StripeSessionID: &sessionID,
		Items: []models.OrderLineItem{
			{ID: uuid.New(), ProductName: "Patch Bay", Qty: 1, UnitPriceCents: 2000, TotalCents: 2000},
		},
	}
	repo := &stubServiceRepo{found: order}
	svc, _ := NewService(repo, serviceTxRunner{}, &stubServiceOutbox{}, &stubCheckoutGateway{}, nil, checkoutCfg(), nil)

	dto, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if dto.OrderNumber != order.OrderNumber || dto.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("unexpected dto %+v", dto)
	}
	if len(dto.Items) != 1 || dto.Items[0].ProductName != "Patch Bay" {
		t.Fatalf("unexpected items %+v", dto.Items)
	}
	if dto.SessionID == nil || *dto.SessionID != sessionID {
		t.Fatalf("unexpected session id %v", dto.SessionID)
	}
	if dto.Attempts != nil {
		t.Fatalf("no attempts reader wired, expected empty history got %+v", dto.Attempts)
	}
}

func TestGetOrderIncludesRetryHistory(t *testing.T) {
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "OVT-20260110-AAAA1111",
		CustomerEmail: "buyer@example.com",
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		Currency:      "usd",
	}
	newSession := "cs_retry_2"
	retryURL := "https://checkout.test/cs_retry_2"
	reader := &stubAttemptsReader{attempts: []models.RetryAttempt{
		{OrderID: order.ID, AttemptNumber: 1, Reason: "session expired", Outcome: enums.AttemptOutcomeFailed, AttemptedAt: time.Now().UTC()},
		{OrderID: order.ID, AttemptNumber: 2, Reason: "session expired", Outcome: enums.AttemptOutcomeSucceeded, ResultingSessionID: &newSession, RetryURL: &retryURL, AttemptedAt: time.Now().UTC()},
	}}
	repo := &stubServiceRepo{found: order}
	svc, _ := NewService(repo, serviceTxRunner{}, &stubServiceOutbox{}, &stubCheckoutGateway{}, reader, checkoutCfg(), nil)

	dto, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("expected success got %v", err)
	}
	if reader.orderID != order.ID {
		t.Fatalf("expected attempts listed for %s got %s", order.ID, reader.orderID)
	}
	if len(dto.Attempts) != 2 {
		t.Fatalf("expected two attempts got %+v", dto.Attempts)
	}
	if dto.Attempts[0].AttemptNumber != 1 || dto.Attempts[0].Outcome != enums.AttemptOutcomeFailed {
		t.Fatalf("unexpected first attempt %+v", dto.Attempts[0])
	}
	second := dto.Attempts[1]
	if second.ResultingSessionID == nil || *second.ResultingSessionID != newSession {
		t.Fatalf("unexpected resulting session %+v", second)
	}
	if second.RetryURL == nil || *second.RetryURL != retryURL {
		t.Fatalf("unexpected retry url %+v", second)
	}
}

func TestGetOrderToleratesHistoryFailure(t *testing.T) {
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "OVT-20260110-BBBB2222",
		CustomerEmail: "buyer@example.com",
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		Currency:      "usd",
	}
	reader := &stubAttemptsReader{err: pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable")}
	repo := &stubServiceRepo{found: order}
	svc, _ := NewService(repo, serviceTxRunner{}, &stubServiceOutbox{}, &stubCheckoutGateway{}, reader, checkoutCfg(), nil)

	dto, err := svc.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("history failure must not fail the read: %v", err)
	}
	if dto.Attempts != nil {
		t.Fatalf("expected history omitted got %+v", dto.Attempts)
	}
}
