package service

import (
	"context"
	"fmt"
	"time"

	"gamesync/internal/model"
	"gamesync/internal/repository"
)

// CheckinResult is the outcome of a check-in attempt. Record is set for the
// OK and ALREADY statuses, which are indistinguishable successes from the
// caller's perspective.
type CheckinResult struct {
	Status model.CheckinStatus
	Record *model.CheckinRecord
}

// CheckinService enforces the day-sequence state machine: day N requires
// day N-1 checked on a strictly earlier date, and a user checks in at most
// once per calendar day.
type CheckinService struct {
	repo      *repository.CheckinRepository
	publisher Publisher
	now       func() time.Time
}

// NewCheckinService creates a new CheckinService instance.
func NewCheckinService(repo *repository.CheckinRepository, publisher Publisher) *CheckinService {
	return &CheckinService{
		repo:      repo,
		publisher: publisher,
		now:       time.Now,
	}
}

// CheckIn attempts to mark a day checked for a user. All reads and the
// write run in one transaction with row locks on the user's records, so
// concurrent attempts for the same user serialize. A replay with the same
// idempotency key returns the original success.
func (s *CheckinService) CheckIn(ctx context.Context, tenantID string, gameID, userID int64, day int, serverDate time.Time, idempotencyKey string) (*CheckinResult, error) {
	if idempotencyKey == "" {
		return nil, ErrMissingIdempotencyKey
	}

	if status := validateServerDate(serverDate, s.now()); status != model.CheckinOK {
		return &CheckinResult{Status: status}, nil
	}

	tx, err := s.repo.Begin(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	records, err := s.repo.ListForUpdate(ctx, tx, gameID, userID)
	if err != nil {
		return nil, err
	}

	status, prior := evaluateSequence(records, day, serverDate, idempotencyKey)
	if status == model.CheckinAlready {
		// Replay of a completed check-in; same payload as the original.
		return &CheckinResult{Status: model.CheckinAlready, Record: prior}, nil
	}
	if status != model.CheckinOK {
		return &CheckinResult{Status: status}, nil
	}

	rec, err := s.repo.Insert(ctx, tx, gameID, userID, day, dateOnly(serverDate), idempotencyKey)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			// A concurrent identical request won the race; fetch its
			// result and report the replay outcome.
			existing, lookupErr := s.repo.GetByIdempotencyKey(ctx, tenantID, idempotencyKey)
			if lookupErr == nil {
				return &CheckinResult{Status: model.CheckinAlready, Record: existing}, nil
			}
			return &CheckinResult{Status: model.CheckinAlreadyCheckedToday}, nil
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit check-in: %w", err)
	}

	publish(ctx, s.publisher, tenantID, model.EntityRef{Type: model.TypeCheckinCampaign, ID: gameID})

	return &CheckinResult{Status: model.CheckinOK, Record: rec}, nil
}

// Progress returns a user's checked days for a campaign.
func (s *CheckinService) Progress(ctx context.Context, tenantID string, gameID, userID int64) ([]model.CheckinRecord, error) {
	return s.repo.Progress(ctx, tenantID, gameID, userID)
}

// GetByIdempotencyKey looks up a prior check-in by its key.
func (s *CheckinService) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*model.CheckinRecord, error) {
	return s.repo.GetByIdempotencyKey(ctx, tenantID, key)
}

// validateServerDate guards against clock-skew abuse: the claimed date must
// not be in the future and must be within one day of server today.
func validateServerDate(serverDate, now time.Time) model.CheckinStatus {
	d := dateOnly(serverDate)
	today := dateOnly(now)

	if d.After(today) {
		return model.CheckinFutureDate
	}
	if today.Sub(d) > 24*time.Hour {
		return model.CheckinInvalidDate
	}
	return model.CheckinOK
}

// evaluateSequence applies the day-sequence rules to the user's locked
// records. It returns ALREADY with the prior record when the same
// idempotency key already succeeded.
func evaluateSequence(records []model.CheckinRecord, day int, serverDate time.Time, idempotencyKey string) (model.CheckinStatus, *model.CheckinRecord) {
	target := dateOnly(serverDate)
	byDay := make(map[int]*model.CheckinRecord, len(records))
	for i := range records {
		rec := &records[i]
		if !rec.Checked {
			continue
		}
		byDay[rec.DayIndex] = rec

		if rec.IdempotencyKey == idempotencyKey {
			return model.CheckinAlready, rec
		}
	}

	if rec, ok := byDay[day]; ok {
		if sameDate(rec.CheckinDate, target) {
			return model.CheckinAlreadyCheckedToday, nil
		}
		// Checked on an earlier date under a different key; the day is
		// done, so repeat attempts are replays.
		return model.CheckinAlready, rec
	}

	if day > 0 {
		prev, ok := byDay[day-1]
		if !ok {
			return model.CheckinPrevNotChecked, nil
		}
		if !dateOnly(prev.CheckinDate).Before(target) {
			return model.CheckinPrevCheckedToday, nil
		}
	}

	// One check-in per calendar day, across all days of the campaign.
	for _, rec := range byDay {
		if sameDate(rec.CheckinDate, target) {
			return model.CheckinAlreadyCheckedToday, nil
		}
	}

	return model.CheckinOK, nil
}

// dateOnly truncates to calendar-day granularity in UTC.
func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sameDate(a, b time.Time) bool {
	return dateOnly(a).Equal(dateOnly(b))
}
