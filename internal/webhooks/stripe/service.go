package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/internal/orders"
	"github.com/overtone-audio/storefront-backend/internal/reconcile"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
	"github.com/overtone-audio/storefront-backend/pkg/outbox"
	stripegw "github.com/overtone-audio/storefront-backend/pkg/stripe"
)

type reconciler interface {
	Reconcile(ctx context.Context, input reconcile.Input) (*reconcile.Outcome, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	OrdersRepo        orders.Repository
	Reconciler        reconciler
	TransactionRunner txRunner
	Outbox            outboxPublisher
	Logger            *logger.Logger
}

type Service struct {
	ordersRepo orders.Repository
	reconciler reconciler
	txRunner   txRunner
	outbox     outboxPublisher
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	return &Service{
		ordersRepo: params.OrdersRepo,
		reconciler: params.Reconciler,
		txRunner:   params.TransactionRunner,
		outbox:     params.Outbox,
		logg:       params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		return s.handleSessionCompleted(ctx, session)
	case stripe.EventTypeCheckoutSessionExpired:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		return s.handleSessionExpired(ctx, session)
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		session, err := decodeSession(event)
		if err != nil {
			return err
		}
		return s.handleAsyncPaymentFailed(ctx, session)
	default:
		return nil
	}
}

func decodeSession(event *stripe.Event) (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
	}
	return &session, nil
}

// handleSessionCompleted reconciles the order named by the session. The
// engine re-fetches the session from the gateway, so a forged or stale
// payload can never mark an order paid on its own.
func (s *Service) handleSessionCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	orderID, err := s.resolveOrderID(ctx, session)
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			// No local order for this session. Acknowledge so the gateway
			// stops redelivering.
			if s.logg != nil {
				s.logg.Warn(ctx, "completed session has no matching order")
			}
			return nil
		}
		return err
	}

	outcome, err := s.reconciler.Reconcile(ctx, reconcile.Input{
		OrderID:        orderID,
		PriorSessionID: session.ID,
		Reason:         "gateway webhook",
	})
	if err != nil {
		return err
	}
	if outcome.Kind == reconcile.KindFailed {
		return outcome.Err
	}
	return nil
}

// handleSessionExpired records the expiry for downstream notification. The
// order stays pending; without the shopper present there is nobody to redirect
// into a fresh checkout.
func (s *Service) handleSessionExpired(ctx context.Context, session *stripe.CheckoutSession) error {
	orderID, err := s.resolveOrderID(ctx, session)
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			return nil
		}
		return err
	}

	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: map[string]any{
				"order_id":     order.ID,
				"order_number": order.OrderNumber,
				"session_id":   session.ID,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
}

// handleAsyncPaymentFailed marks the order's payment failed when a delayed
// payment method declines after checkout. The order stays retryable.
func (s *Service) handleAsyncPaymentFailed(ctx context.Context, session *stripe.CheckoutSession) error {
	orderID, err := s.resolveOrderID(ctx, session)
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			return nil
		}
		return err
	}

	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentStatus == enums.PaymentStatusPaid || order.PaymentStatus == enums.PaymentStatusFailed {
		return nil
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{"payment_status": enums.PaymentStatusFailed}
		if err := s.ordersRepo.WithTx(tx).UpdatePaymentFields(ctx, order.ID, order.Version, updates); err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: map[string]any{
				"order_id":     order.ID,
				"order_number": order.OrderNumber,
				"session_id":   session.ID,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
}

// resolveOrderID prefers the order id tagged in session metadata and falls
// back to the stored session reference.
func (s *Service) resolveOrderID(ctx context.Context, session *stripe.CheckoutSession) (uuid.UUID, error) {
	if raw, ok := session.Metadata[stripegw.MetadataOrderIDKey]; ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "session metadata carries a malformed order id")
		}
		return id, nil
	}

	order, err := s.ordersRepo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return uuid.Nil, err
	}
	return order.ID, nil
}
