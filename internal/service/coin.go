package service

import (
	"context"
	"errors"
	"fmt"

	"gamesync/internal/model"
	"gamesync/internal/repository"
)

// AdjustResult is the outcome of a balance adjustment. Balance is the
// user's balance after the operation (unchanged for ALREADY_PROCESSED and
// INSUFFICIENT_BALANCE).
type AdjustResult struct {
	Status  model.AdjustStatus
	Balance int64
}

// CoinService applies signed balance deltas exactly once per idempotency
// key, never letting a balance go negative.
type CoinService struct {
	coins     *repository.CoinRepository
	publisher Publisher
}

// NewCoinService creates a new CoinService instance.
func NewCoinService(coins *repository.CoinRepository, publisher Publisher) *CoinService {
	return &CoinService{coins: coins, publisher: publisher}
}

// Adjust applies a signed delta to the user's balance. The ledger insert
// and the balance update share one transaction; a debit that would go
// negative is rejected before any write sticks. Replays with a known key
// return ALREADY_PROCESSED with the current balance, whether detected by
// the pre-check or by the unique constraint at commit time.
func (s *CoinService) Adjust(ctx context.Context, tenantID string, userID, amount int64, reason, idempotencyKey string) (*AdjustResult, error) {
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}

	if _, err := s.coins.GetTransactionByKey(ctx, tenantID, idempotencyKey); err == nil {
		balance, err := s.coins.GetBalance(ctx, tenantID, userID)
		if err != nil {
			return nil, err
		}
		return &AdjustResult{Status: model.AdjustAlreadyProcessed, Balance: balance}, nil
	} else if !errors.Is(err, repository.ErrNoRows) {
		return nil, err
	}

	tx, err := s.coins.Begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	balance, err := s.coins.LockBalance(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if amount < 0 && balance+amount < 0 {
		// Reject before any write; the GREATEST clamp in ApplyDelta is
		// only a floor for callers that tolerate truncation.
		return &AdjustResult{Status: model.AdjustInsufficientBalance, Balance: balance}, nil
	}

	if _, err := s.coins.InsertTransaction(ctx, tx, userID, amount, reason, idempotencyKey); err != nil {
		if repository.IsUniqueViolation(err) {
			// Concurrent identical request committed between our
			// pre-check and insert.
			current, balErr := s.coins.GetBalance(ctx, tenantID, userID)
			if balErr != nil {
				return nil, balErr
			}
			return &AdjustResult{Status: model.AdjustAlreadyProcessed, Balance: current}, nil
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	newBalance, err := s.coins.ApplyDelta(ctx, tx, userID, amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	publish(ctx, s.publisher, tenantID, model.EntityRef{Type: model.TypeUserWallet, ID: userID})

	return &AdjustResult{Status: model.AdjustOK, Balance: newBalance}, nil
}

// Balance returns a user's current balance.
func (s *CoinService) Balance(ctx context.Context, tenantID string, userID int64) (int64, error) {
	return s.coins.GetBalance(ctx, tenantID, userID)
}

// History returns a user's ledger entries, newest first.
func (s *CoinService) History(ctx context.Context, tenantID string, userID int64, limit int) ([]*model.CoinTransaction, error) {
	return s.coins.History(ctx, tenantID, userID, limit)
}
