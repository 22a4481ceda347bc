package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/pkg/config"
	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
	"github.com/overtone-audio/storefront-backend/pkg/outbox"
	stripegw "github.com/overtone-audio/storefront-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type checkoutGateway interface {
	CreateSession(ctx context.Context, req stripegw.SessionRequest) (*stripegw.CreatedSession, error)
}

type attemptsReader interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RetryAttempt, error)
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error)
	Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	gateway  checkoutGateway
	attempts attemptsReader
	cfg      config.CheckoutConfig
	logg     *logger.Logger
}

// NewService wires the orders service with its collaborators. The attempts
// reader may be nil, in which case order reads omit retry history.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, gateway checkoutGateway, attempts attemptsReader, cfg config.CheckoutConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("checkout gateway is required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   outboxSvc,
		gateway:  gateway,
		attempts: attempts,
		cfg:      cfg,
		logg:     logg,
	}, nil
}

// Create persists a new order in (pending, pending) from the priced payload,
// then issues the first checkout session. A gateway failure after the commit
// leaves the order retryable via the payment retry endpoint.
func (s *service) Create(ctx context.Context, input CreateOrderInput) (*CheckoutResult, error) {
	order, err := buildOrder(input, s.cfg.Currency)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("creating order: %w", err)
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerEmail: order.CustomerEmail,
				TotalCents:    order.TotalCents,
				Currency:      order.Currency,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	result := &CheckoutResult{OrderID: order.ID, OrderNumber: order.OrderNumber}

	session, err := s.gateway.CreateSession(ctx, sessionRequestFrom(order, 0, s.cfg))
	if err != nil {
		if s.logg != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Warn(logCtx, "checkout session creation failed; order remains retryable")
		}
		return result, nil
	}

	updates := map[string]any{"stripe_session_id": session.ID}
	if err := s.repo.UpdatePaymentFields(ctx, order.ID, order.Version, updates); err != nil {
		return nil, fmt.Errorf("storing session id: %w", err)
	}

	result.SessionID = session.ID
	result.CheckoutURL = session.URL
	return result, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByIDWithItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	dto := ToOrderDTO(*order)
	if s.attempts != nil {
		rows, err := s.attempts.ListByOrder(ctx, orderID)
		if err != nil {
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, orderID.String())
				s.logg.Warn(logCtx, "listing retry attempts failed; returning order without history")
			}
		} else {
			dto.Attempts = ToRetryAttemptDTOs(rows)
		}
	}
	return &dto, nil
}

func buildOrder(input CreateOrderInput, defaultCurrency string) (*models.Order, error) {
	if strings.TrimSpace(input.CustomerEmail) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one line item")
	}
	if input.ShippingCents < 0 || input.TaxCents < 0 || input.DiscountCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "monetary fields must be non-negative")
	}

	orderID := uuid.New()
	subtotal := 0
	items := make([]models.OrderLineItem, 0, len(input.Items))
	for _, item := range input.Items {
		if strings.TrimSpace(item.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item name is required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item qty must be positive")
		}
		if item.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item price must be non-negative")
		}
		lineTotal := item.Qty * item.UnitPriceCents
		subtotal += lineTotal
		items = append(items, models.OrderLineItem{
			OrderID:        orderID,
			ProductName:    item.Name,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     lineTotal,
		})
	}

	total := subtotal + input.ShippingCents + input.TaxCents - input.DiscountCents
	if total < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order total")
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	return &models.Order{
		ID:            orderID,
		OrderNumber:   newOrderNumber(),
		CustomerEmail: strings.TrimSpace(input.CustomerEmail),
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		SubtotalCents: subtotal,
		ShippingCents: input.ShippingCents,
		TaxCents:      input.TaxCents,
		DiscountCents: input.DiscountCents,
		TotalCents:    total,
		Currency:      currency,
		Version:       1,
		Items:         items,
	}, nil
}

func sessionRequestFrom(order *models.Order, attempt int, cfg config.CheckoutConfig) stripegw.SessionRequest {
	items := make([]stripegw.SessionLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, stripegw.SessionLineItem{
			Name:           item.ProductName,
			Qty:            int64(item.Qty),
			UnitPriceCents: int64(item.UnitPriceCents),
		})
	}
	return stripegw.SessionRequest{
		OrderID:       order.ID.String(),
		AttemptNumber: attempt,
		CustomerEmail: order.CustomerEmail,
		Currency:      order.Currency,
		Items:         items,
		SuccessURL:    cfg.SuccessURL,
		CancelURL:     cfg.CancelURL,
	}
}

func newOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("OVT-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}
