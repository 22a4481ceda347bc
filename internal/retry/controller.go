package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/overtone-audio/storefront-backend/internal/reconcile"
	"github.com/overtone-audio/storefront-backend/pkg/config"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
	"github.com/overtone-audio/storefront-backend/pkg/logger"
	"github.com/overtone-audio/storefront-backend/pkg/metrics"
)

type engine interface {
	Reconcile(ctx context.Context, input reconcile.Input) (*reconcile.Outcome, error)
}

type orderNumberReader interface {
	OrderNumber(ctx context.Context, orderID uuid.UUID) (string, error)
}

// Policy bounds one retry loop.
type Policy struct {
	MaxRetries  int
	BaseDelay   time.Duration
	Exponential bool
}

// PolicyFromConfig maps the configured retry defaults onto a Policy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		MaxRetries:  cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Exponential: cfg.Exponential,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

// Delay returns the wait before the attempt following completedAttempt.
func (p Policy) Delay(completedAttempt int) time.Duration {
	if !p.Exponential {
		return p.BaseDelay
	}
	if completedAttempt < 1 {
		completedAttempt = 1
	}
	// Shift overflow guard for absurd attempt counts.
	if completedAttempt > 32 {
		completedAttempt = 32
	}
	return p.BaseDelay * time.Duration(1<<(completedAttempt-1))
}

// Result is the terminal outcome of one controller invocation.
type Result struct {
	Outcome  *reconcile.Outcome
	Attempts int
	// Message carries user-facing guidance when retries are exhausted.
	Message string
}

// Controller drives repeated reconciliation attempts with exponential backoff
// until success, a hard failure, redirect, or attempt budget exhaustion.
type Controller interface {
	Run(ctx context.Context, orderID uuid.UUID, sessionID string, policy Policy) (*Result, error)
}

type controller struct {
	engine  engine
	reader  orderNumberReader
	metrics *metrics.PaymentMetrics
	logg    *logger.Logger
}

// NewController wires a retry controller around the reconciliation engine.
func NewController(eng engine, reader orderNumberReader, paymentMetrics *metrics.PaymentMetrics, logg *logger.Logger) (Controller, error) {
	if eng == nil {
		return nil, fmt.Errorf("reconciliation engine is required")
	}
	return &controller{engine: eng, reader: reader, metrics: paymentMetrics, logg: logg}, nil
}

// Run owns its own 1-based attempt counter for the life of the invocation;
// ledger numbering is the engine's concern. Cancellation is honored before
// every attempt, so a cancelled backoff never consumes a ledger slot.
func (c *controller) Run(ctx context.Context, orderID uuid.UUID, sessionID string, policy Policy) (*Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	policy = policy.normalized()

	logCtx := ctx
	if c.logg != nil {
		logCtx = c.logg.WithOrderID(ctx, orderID.String())
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, policy.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx := logCtx
		if c.logg != nil {
			attemptCtx = c.logg.WithAttempt(logCtx, attempt)
		}

		outcome, err := c.engine.Reconcile(ctx, reconcile.Input{
			OrderID:        orderID,
			PriorSessionID: sessionID,
			AttemptNumber:  attempt,
			Reason:         "user initiated",
		})
		if err != nil {
			lastErr = err
			if !pkgerrors.IsRetryable(err) {
				return nil, err
			}
			if c.logg != nil {
				c.logg.Warn(attemptCtx, "reconciliation attempt failed, will retry")
			}
			continue
		}

		switch outcome.Kind {
		case reconcile.KindAlreadyPaid, reconcile.KindReconciled:
			return &Result{Outcome: outcome, Attempts: attempt}, nil

		case reconcile.KindNewSessionIssued:
			// A fresh session needs the user back in a checkout flow.
			// Looping here would charge nobody and burn the budget.
			return &Result{Outcome: outcome, Attempts: attempt}, nil

		case reconcile.KindFailed:
			lastErr = outcome.Err
			if outcome.Err != nil && !pkgerrors.IsRetryable(outcome.Err) {
				return nil, outcome.Err
			}
			if c.logg != nil {
				c.logg.Warn(attemptCtx, "reconciliation attempt failed, will retry")
			}

		default:
			return nil, fmt.Errorf("unexpected reconciliation outcome %q", outcome.Kind)
		}
	}

	if c.metrics != nil {
		c.metrics.IncRetriesExhausted()
	}
	message := c.exhaustionMessage(ctx, orderID)
	if c.logg != nil {
		c.logg.Error(logCtx, "retry budget exhausted", lastErr)
	}
	return &Result{
		Outcome:  &reconcile.Outcome{Kind: reconcile.KindFailed, Err: lastErr},
		Attempts: policy.MaxRetries,
		Message:  message,
	}, nil
}

func (c *controller) exhaustionMessage(ctx context.Context, orderID uuid.UUID) string {
	reference := orderID.String()
	if c.reader != nil {
		if number, err := c.reader.OrderNumber(ctx, orderID); err == nil && number != "" {
			reference = number
		}
	}
	return fmt.Sprintf("We could not complete your payment. Please contact support with order number %s.", reference)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
