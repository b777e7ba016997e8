package models

import (
	"time"

	"github.com/google/uuid"
)

// CreditAccount holds a prepaid credit balance for one account.
// Credits are integer minor units (1 credit = $0.01); conversion to
// currency is a display concern. Balance is never negative, not even
// transiently: debits are single conditional updates.
type CreditAccount struct {
	AccountID uuid.UUID `json:"accountId" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
