package service

import (
	"context"
	"errors"

	"gamesync/internal/model"
	"gamesync/internal/repository"
)

// ClaimResult is the outcome of a reward code claim. Code is set for the OK
// and ALREADY statuses; EMPTY means the matching pool is exhausted.
type ClaimResult struct {
	Status model.ClaimStatus
	Code   *model.RewardCode
}

// RewardService hands out exactly one unclaimed code per eligible request.
// Allocation uses SKIP LOCKED row selection, so concurrent claimants never
// block each other and never receive the same code.
type RewardService struct {
	codes     *repository.RewardCodeRepository
	publisher Publisher
}

// NewRewardService creates a new RewardService instance.
func NewRewardService(codes *repository.RewardCodeRepository, publisher Publisher) *RewardService {
	return &RewardService{codes: codes, publisher: publisher}
}

// Claim allocates a code for the user. Daily and complete codes are once
// per user for the campaign: a repeat call returns the original code with
// ALREADY. Coupon codes skip the dedupe and consume a fresh inventory row
// per call.
func (s *RewardService) Claim(ctx context.Context, tenantID string, gameID, userID int64, sel repository.CodeSelector) (*ClaimResult, error) {
	if !sel.AllowRepeat() {
		prior, err := s.codes.FindClaim(ctx, tenantID, gameID, userID, sel)
		if err == nil {
			return &ClaimResult{Status: model.ClaimAlready, Code: prior}, nil
		}
		if !errors.Is(err, repository.ErrNoRows) {
			return nil, err
		}
	}

	code, err := s.codes.ClaimOne(ctx, tenantID, gameID, userID, sel)
	if err != nil {
		if errors.Is(err, repository.ErrNoRows) {
			return &ClaimResult{Status: model.ClaimEmpty}, nil
		}
		if repository.IsUniqueViolation(err) {
			// A concurrent identical request claimed first; return its
			// code as the replay outcome.
			prior, lookupErr := s.codes.FindClaim(ctx, tenantID, gameID, userID, sel)
			if lookupErr != nil {
				return nil, err
			}
			return &ClaimResult{Status: model.ClaimAlready, Code: prior}, nil
		}
		return nil, err
	}

	publish(ctx, s.publisher, tenantID, model.EntityRef{Type: model.TypeRewardGame, ID: gameID})

	return &ClaimResult{Status: model.ClaimOK, Code: code}, nil
}

// ImportCodes bulk-loads inventory before a campaign starts.
func (s *RewardService) ImportCodes(ctx context.Context, tenantID string, codes []model.RewardCode) (int64, error) {
	return s.codes.InsertBatch(ctx, tenantID, codes)
}

// Remaining returns unclaimed inventory per code type.
func (s *RewardService) Remaining(ctx context.Context, tenantID string, gameID int64) (map[string]int, error) {
	return s.codes.CountUnclaimed(ctx, tenantID, gameID)
}
