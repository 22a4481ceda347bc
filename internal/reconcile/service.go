package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/internal/ledger"
	"github.com/overtone-audio/storefront-backend/internal/orders"
	"github.com/overtone-audio/storefront-backend/pkg/config"
	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
	"github.com/overtone-audio/storefront-backend/pkg/metrics"
	"github.com/overtone-audio/storefront-backend/pkg/outbox"
	stripegw "github.com/overtone-audio/storefront-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gateway interface {
	CreateSession(ctx context.Context, req stripegw.SessionRequest) (*stripegw.CreatedSession, error)
	GetSession(ctx context.Context, sessionID string) (*stripegw.SessionState, error)
}

type lockManager interface {
	AcquireOrderLock(ctx context.Context, orderID string, ttl time.Duration) (string, error)
	ReleaseOrderLock(ctx context.Context, orderID, token string) error
}

// Input identifies one reconciliation run.
type Input struct {
	OrderID uuid.UUID
	// PriorSessionID overrides the session stored on the order. Empty means
	// fall back to the order's last-known session, if any.
	PriorSessionID string
	// AttemptNumber is the caller's counter, used only to tag new gateway
	// sessions; ledger numbering is assigned independently.
	AttemptNumber int
	Reason        string
}

// Service resolves local order state against gateway-reported truth and
// applies exactly one local mutation per run.
type Service interface {
	Reconcile(ctx context.Context, input Input) (*Outcome, error)
}

type service struct {
	repo     orders.Repository
	ledger   ledger.Service
	gateway  gateway
	locks    lockManager
	tx       txRunner
	outbox   outboxPublisher
	metrics  *metrics.PaymentMetrics
	checkout config.CheckoutConfig
	lockTTL  time.Duration
	logg     *logger.Logger
}

// NewService wires the reconciliation engine with its collaborators.
func NewService(
	repo orders.Repository,
	ledgerSvc ledger.Service,
	gw gateway,
	locks lockManager,
	tx txRunner,
	outboxSvc outboxPublisher,
	paymentMetrics *metrics.PaymentMetrics,
	checkout config.CheckoutConfig,
	reconcileCfg config.ReconcileConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository is required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("payment gateway is required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock manager is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service is required")
	}
	ttl := reconcileCfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &service{
		repo:     repo,
		ledger:   ledgerSvc,
		gateway:  gw,
		locks:    locks,
		tx:       tx,
		outbox:   outboxSvc,
		metrics:  paymentMetrics,
		checkout: checkout,
		lockTTL:  ttl,
		logg:     logg,
	}, nil
}

// Reconcile runs one pass of the payment reconciliation algorithm. Runs for
// the same order are serialized through a per-order lock so two concurrent
// callers cannot both mint a gateway session.
func (s *service) Reconcile(ctx context.Context, input Input) (*Outcome, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	started := time.Now()

	token, err := s.locks.AcquireOrderLock(ctx, input.OrderID.String(), s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "another reconciliation is in progress for this order")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := s.locks.ReleaseOrderLock(releaseCtx, input.OrderID.String(), token); relErr != nil && s.logg != nil {
			s.logg.Error(ctx, "releasing order lock", relErr)
		}
	}()

	outcome, err := s.reconcileLocked(ctx, input)
	if err != nil {
		s.observe("error", started)
		return nil, err
	}
	s.observe(string(outcome.Kind), started)
	return outcome, nil
}

func (s *service) reconcileLocked(ctx context.Context, input Input) (*Outcome, error) {
	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithOrderID(ctx, input.OrderID.String())
	}

	order, err := s.repo.FindByIDWithItems(ctx, input.OrderID)
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			return &Outcome{Kind: KindFailed, Err: err}, nil
		}
		return nil, err
	}

	// Idempotent short-circuit: a paid order is never touched again. No
	// gateway call, no ledger row.
	if order.PaymentStatus == enums.PaymentStatusPaid {
		if s.logg != nil {
			s.logg.Info(logCtx, "order already paid, reconciliation is a no-op")
		}
		return &Outcome{Kind: KindAlreadyPaid, SessionID: derefString(order.StripeSessionID)}, nil
	}

	attempt, err := s.ledger.Begin(ctx, order.ID, input.Reason)
	if err != nil {
		return nil, fmt.Errorf("opening ledger attempt: %w", err)
	}
	if s.logg != nil {
		logCtx = s.logg.WithAttempt(logCtx, attempt.AttemptNumber)
	}

	priorSessionID := input.PriorSessionID
	if priorSessionID == "" {
		priorSessionID = derefString(order.StripeSessionID)
	}

	if priorSessionID != "" {
		if outcome := s.tryReconcilePrior(logCtx, order, attempt, priorSessionID); outcome != nil {
			return outcome, nil
		}
	}

	return s.issueNewSession(logCtx, order, attempt, input.AttemptNumber)
}

// tryReconcilePrior checks the prior gateway session and marks the order paid
// when the gateway reports it complete. A nil return means the session is
// unusable (missing, expired, open, or wrong order) and a fresh session is
// needed.
func (s *service) tryReconcilePrior(ctx context.Context, order *models.Order, attempt *models.RetryAttempt, sessionID string) *Outcome {
	state, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(ctx, "prior session lookup failed, issuing a new session")
		}
		return nil
	}
	if state.Status != stripegw.SessionComplete {
		return nil
	}

	// A complete session is trusted only when its metadata names this order.
	// Every session this service mints carries the key, so a session without
	// it was created out of band and must never mark an order paid.
	if state.Metadata[stripegw.MetadataOrderIDKey] != order.ID.String() {
		if s.logg != nil {
			s.logg.Warn(ctx, "complete session does not name this order, issuing a new session")
		}
		return nil
	}

	if err := s.markPaid(ctx, order, attempt, state); err != nil {
		if s.logg != nil {
			s.logg.Error(ctx, "persisting reconciled payment", err)
		}
		s.recordFailure(ctx, attempt.ID)
		return &Outcome{Kind: KindFailed, Err: err, AttemptNumber: attempt.AttemptNumber}
	}

	if s.metrics != nil {
		s.metrics.IncAttempt(string(enums.AttemptOutcomeSucceeded))
	}
	return &Outcome{
		Kind:            KindReconciled,
		SessionID:       state.ID,
		PaymentIntentID: state.PaymentIntentID,
		AttemptNumber:   attempt.AttemptNumber,
	}
}

func (s *service) markPaid(ctx context.Context, order *models.Order, attempt *models.RetryAttempt, state *stripegw.SessionState) error {
	target := orders.PaymentState{Status: enums.OrderStatusProcessing, PaymentStatus: enums.PaymentStatusPaid}
	current := orders.PaymentState{Status: order.Status, PaymentStatus: order.PaymentStatus}
	if err := orders.ValidatePaymentTransition(current, target); err != nil {
		return err
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := time.Now().UTC()
		updates := map[string]any{
			"payment_status":           enums.PaymentStatusPaid,
			"status":                   enums.OrderStatusProcessing,
			"stripe_session_id":        state.ID,
			"stripe_payment_intent_id": state.PaymentIntentID,
			"paid_at":                  now,
		}
		if err := repo.UpdatePaymentFields(ctx, order.ID, order.Version, updates); err != nil {
			return err
		}

		sessionID := state.ID
		if err := s.ledger.WithTx(tx).RecordOutcome(ctx, attempt.ID, enums.AttemptOutcomeSucceeded, &sessionID, nil); err != nil {
			return err
		}

		// Post-paid trigger: queue the confirmation event in the same tx so
		// it cannot fire for a rolled-back payment. Downstream delivery
		// failures never unwind the paid state.
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmation,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: OrderConfirmationEvent{
				OrderID:         order.ID,
				OrderNumber:     order.OrderNumber,
				CustomerEmail:   order.CustomerEmail,
				TotalCents:      order.TotalCents,
				Currency:        order.Currency,
				PaymentIntentID: state.PaymentIntentID,
				PaidAt:          now,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
}

// issueNewSession mints a fresh checkout session from the order's immutable
// line-item snapshot. Live catalog prices are never consulted.
func (s *service) issueNewSession(ctx context.Context, order *models.Order, attempt *models.RetryAttempt, callerAttempt int) (*Outcome, error) {
	attemptTag := callerAttempt
	if attemptTag <= 0 {
		attemptTag = attempt.AttemptNumber
	}

	// A closed order must never reach the gateway, so the state check runs
	// before any session is minted.
	target := orders.PaymentState{Status: enums.OrderStatusPending, PaymentStatus: enums.PaymentStatusPending}
	current := orders.PaymentState{Status: order.Status, PaymentStatus: order.PaymentStatus}
	if err := orders.ValidatePaymentTransition(current, target); err != nil {
		s.recordFailure(ctx, attempt.ID)
		return &Outcome{Kind: KindFailed, Err: err, AttemptNumber: attempt.AttemptNumber}, nil
	}

	session, err := s.gateway.CreateSession(ctx, sessionRequestFrom(order, attemptTag, s.checkout))
	if err != nil {
		s.recordFailure(ctx, attempt.ID)
		if s.metrics != nil {
			s.metrics.IncAttempt(string(enums.AttemptOutcomeFailed))
		}
		return &Outcome{Kind: KindFailed, Err: err, AttemptNumber: attempt.AttemptNumber}, nil
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		updates := map[string]any{
			"stripe_session_id": session.ID,
			"payment_status":    enums.PaymentStatusPending,
			"status":            enums.OrderStatusPending,
		}
		if err := repo.UpdatePaymentFields(ctx, order.ID, order.Version, updates); err != nil {
			return err
		}
		// Payment has not been observed for this attempt, so the slot closes
		// unsuccessful even though a session was issued.
		sessionID := session.ID
		retryURL := session.URL
		return s.ledger.WithTx(tx).RecordOutcome(ctx, attempt.ID, enums.AttemptOutcomeFailed, &sessionID, &retryURL)
	})
	if err != nil {
		return &Outcome{Kind: KindFailed, Err: err, AttemptNumber: attempt.AttemptNumber}, nil
	}

	if s.metrics != nil {
		s.metrics.IncSessionIssued()
		s.metrics.IncAttempt(string(enums.AttemptOutcomeFailed))
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithSessionID(ctx, session.ID), "issued fresh checkout session")
	}
	return &Outcome{
		Kind:          KindNewSessionIssued,
		SessionID:     session.ID,
		RetryURL:      session.URL,
		AttemptNumber: attempt.AttemptNumber,
	}, nil
}

func (s *service) recordFailure(ctx context.Context, attemptID uuid.UUID) {
	if err := s.ledger.RecordOutcome(ctx, attemptID, enums.AttemptOutcomeFailed, nil, nil); err != nil && s.logg != nil {
		s.logg.Error(ctx, "recording attempt failure", err)
	}
}

func (s *service) observe(outcome string, started time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveReconcile(outcome, time.Since(started))
	}
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

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
