package app

import (
	"context"
	"fmt"
	"strings"

	"studymate/internal/platform/logger"
	"studymate/internal/repository"
)

// Feature is a rate-limited action category.
type Feature int

const (
	FeatureContentGeneration Feature = iota + 1
	FeatureTutoringTurn
	FeatureCoachingMessage
	FeatureUpload
)

var allFeatures = []Feature{FeatureContentGeneration, FeatureTutoringTurn, FeatureCoachingMessage, FeatureUpload}

func (f Feature) String() string {
	switch f {
	case FeatureContentGeneration:
		return "content_generation"
	case FeatureTutoringTurn:
		return "tutoring_turn"
	case FeatureCoachingMessage:
		return "coaching_message"
	case FeatureUpload:
		return "upload"
	}
	return fmt.Sprintf("feature(%d)", int(f))
}

// Daily reports whether the feature's counter resets every reference day.
func (f Feature) Daily() bool {
	return f != FeatureUpload
}

type QuotaLimits struct {
	DailyContentGeneration int
	DailyTutoringTurns     int
	DailyCoachingMessages  int
	LifetimeUploads        int
}

type QuotaService struct {
	repo   *repository.UsageRepository
	limits QuotaLimits
	clock  *Clock
	log    *logger.Logger
}

func NewQuotaService(repo *repository.UsageRepository, limits QuotaLimits, clock *Clock, log *logger.Logger) *QuotaService {
	return &QuotaService{
		repo:   repo,
		limits: limits,
		clock:  clock,
		log:    log.With("service", "quota"),
	}
}

func (s *QuotaService) rule(f Feature) (repository.UsageColumn, int, error) {
	switch f {
	case FeatureContentGeneration:
		return repository.ColumnDailyQuizQuestions, s.limits.DailyContentGeneration, nil
	case FeatureTutoringTurn:
		return repository.ColumnDailyTutorQuestions, s.limits.DailyTutoringTurns, nil
	case FeatureCoachingMessage:
		return repository.ColumnDailyCoachMsgs, s.limits.DailyCoachingMessages, nil
	case FeatureUpload:
		return repository.ColumnTotalFilesUploaded, s.limits.LifetimeUploads, nil
	}
	return "", 0, validationf("unknown quota feature %s", f)
}

// CheckAndIncrement consumes amount units of feature for ownerID, or returns
// a *QuotaExceededError and leaves the counter untouched.
func (s *QuotaService) CheckAndIncrement(ctx context.Context, ownerID string, feature Feature, amount int) error {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return validationf("owner id is required")
	}
	if amount <= 0 {
		return validationf("quota amount must be positive")
	}
	col, limit, err := s.rule(feature)
	if err != nil {
		return err
	}

	res, err := s.repo.Consume(ctx, ownerID, col, amount, limit, s.clock.Today())
	if err != nil {
		return err
	}
	if !res.Allowed {
		s.log.Info("quota exceeded", "owner_id", ownerID, "feature", feature.String(), "used", res.Used, "limit", limit, "requested", amount)
		return &QuotaExceededError{Feature: feature, Used: res.Used, Limit: limit, Requested: amount}
	}
	return nil
}

// Release refunds amount units charged by CheckAndIncrement for work that
// did not complete. It is a no-op when the counter has nothing to give back.
func (s *QuotaService) Release(ctx context.Context, ownerID string, feature Feature, amount int) error {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return validationf("owner id is required")
	}
	if amount <= 0 {
		return validationf("quota amount must be positive")
	}
	col, _, err := s.rule(feature)
	if err != nil {
		return err
	}

	released, err := s.repo.Release(ctx, ownerID, col, amount, s.clock.Today())
	if err != nil {
		return err
	}
	if !released {
		s.log.Warn("quota release skipped", "owner_id", ownerID, "feature", feature.String(), "amount", amount)
	}
	return nil
}

type FeatureUsage struct {
	Feature string `json:"feature"`
	Used    int    `json:"used"`
	Limit   int    `json:"limit"`
	Daily   bool   `json:"daily"`
}

type UsageSnapshot struct {
	Date     string         `json:"date"`
	Features []FeatureUsage `json:"features"`
}

// Usage returns every counter as of the current reference day. Reading on a
// new day performs the daily reset.
func (s *QuotaService) Usage(ctx context.Context, ownerID string) (*UsageSnapshot, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, validationf("owner id is required")
	}
	today := s.clock.Today()
	counter, err := s.repo.GetForDay(ctx, ownerID, today)
	if err != nil {
		return nil, err
	}

	snap := &UsageSnapshot{Date: today, Features: make([]FeatureUsage, 0, len(allFeatures))}
	for _, f := range allFeatures {
		_, limit, _ := s.rule(f)
		used := 0
		switch f {
		case FeatureContentGeneration:
			used = counter.DailyQuizQuestions
		case FeatureTutoringTurn:
			used = counter.DailyTutorQuestions
		case FeatureCoachingMessage:
			used = counter.DailyCoachMsgs
		case FeatureUpload:
			used = counter.TotalFilesUploaded
		}
		snap.Features = append(snap.Features, FeatureUsage{Feature: f.String(), Used: used, Limit: limit, Daily: f.Daily()})
	}
	return snap, nil
}
