package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ========== Credit Ledger Methods ==========

// Debit atomically subtracts amount from the account balance. The balance
// condition rides on the update itself, so concurrent debits for the same
// account can never drive the balance negative, not even transiently.
func (s *PostgresStore) Debit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidData
	}

	var balance int64
	err := s.getDB().QueryRowContext(ctx, `
        UPDATE credit_accounts SET balance = balance - $2, updated_at = $3
        WHERE account_id = $1 AND balance >= $2
        RETURNING balance`,
		accountID, amount, time.Now(),
	).Scan(&balance)

	if err == sql.ErrNoRows {
		// Either the account is missing or the balance does not cover the
		// amount; both surface as insufficient credits to the caller.
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// Credit atomically adds amount to the account balance, creating the
// account row on first use. Refunds always succeed.
func (s *PostgresStore) Credit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidData
	}

	var balance int64
	err := s.getDB().QueryRowContext(ctx, `
        INSERT INTO credit_accounts (account_id, balance, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (account_id) DO UPDATE SET
            balance = credit_accounts.balance + EXCLUDED.balance,
            updated_at = EXCLUDED.updated_at
        RETURNING balance`,
		accountID, amount, time.Now(),
	).Scan(&balance)
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// GetBalance reads the account balance. Missing accounts read as zero.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT balance FROM credit_accounts WHERE account_id = $1", accountID,
	).Scan(&balance)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return balance, nil
}
