package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/overtone-audio/storefront-backend/pkg/db/models"
	"github.com/overtone-audio/storefront-backend/pkg/enums"
	pkgerrors "github.com/overtone-audio/storefront-backend/pkg/errors"
)

// Service records retry attempts in the append-only ledger.
type Service interface {
	WithTx(tx *gorm.DB) Service
	// Begin appends the next attempt row for the order. Attempt numbers are
	// assigned contiguously starting at 1.
	Begin(ctx context.Context, orderID uuid.UUID, reason string) (*models.RetryAttempt, error)
	// RecordOutcome sets the attempt's result exactly once.
	RecordOutcome(ctx context.Context, attemptID uuid.UUID, outcome enums.AttemptOutcome, sessionID, retryURL *string) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RetryAttempt, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Begin(ctx context.Context, orderID uuid.UUID, reason string) (*models.RetryAttempt, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if reason == "" {
		reason = "user initiated"
	}

	max, err := s.repo.MaxAttemptNumber(ctx, orderID)
	if err != nil {
		return nil, err
	}

	attempt := &models.RetryAttempt{
		OrderID:       orderID,
		AttemptNumber: max + 1,
		AttemptedAt:   time.Now().UTC(),
		Reason:        reason,
		Outcome:       enums.AttemptOutcomePending,
	}
	if err := s.repo.Create(ctx, attempt); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *service) RecordOutcome(ctx context.Context, attemptID uuid.UUID, outcome enums.AttemptOutcome, sessionID, retryURL *string) error {
	if attemptID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "attempt id is required")
	}
	if !outcome.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("outcome %q is not terminal", outcome))
	}

	updates := map[string]any{"outcome": outcome}
	if sessionID != nil {
		updates["resulting_session_id"] = *sessionID
	}
	if retryURL != nil {
		updates["retry_url"] = *retryURL
	}

	affected, err := s.repo.UpdateOutcome(ctx, attemptID, updates)
	if err != nil {
		return err
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "attempt outcome already recorded")
	}
	return nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RetryAttempt, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
