package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/overtone-audio/storefront-backend/pkg/enums"
)

// RetryAttempt is one row in the append-only retry ledger. Attempt numbers
// form a contiguous 1-based sequence per order. A row is mutated exactly once,
// to record the outcome of the attempt it was created for.
type RetryAttempt struct {
	ID                 uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	AttemptNumber      int                  `gorm:"column:attempt_number;not null"`
	AttemptedAt        time.Time            `gorm:"column:attempted_at;not null"`
	Reason             string               `gorm:"column:reason;not null"`
	Outcome            enums.AttemptOutcome `gorm:"column:outcome;type:attempt_outcome;not null;default:'pending'"`
	ResultingSessionID *string              `gorm:"column:resulting_session_id"`
	RetryURL           *string              `gorm:"column:retry_url"`
	CreatedAt          time.Time            `gorm:"column:created_at;autoCreateTime"`
}
