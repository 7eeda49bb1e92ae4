package app

import (
	"context"
	"fmt"
	"strings"

	"studymate/internal/ai"
	"studymate/internal/platform/logger"
	"studymate/internal/repository"
)

const (
	coachResultWindow  = 10
	coachMistakeWindow = 20
)

type CoachConfig struct {
	Temperature float64
	Retry       RetryPolicy
}

// CoachService writes short study advice from an owner's recent quiz
// results and mistakes.
type CoachService struct {
	quota     *QuotaService
	completer Completer
	results   *repository.QuizResultRepository
	mistakes  *repository.MistakeRepository
	cfg       CoachConfig
	log       *logger.Logger
}

func NewCoachService(
	quota *QuotaService,
	completer Completer,
	results *repository.QuizResultRepository,
	mistakes *repository.MistakeRepository,
	cfg CoachConfig,
	log *logger.Logger,
) *CoachService {
	return &CoachService{
		quota:     quota,
		completer: completer,
		results:   results,
		mistakes:  mistakes,
		cfg:       cfg,
		log:       log.With("service", "coach"),
	}
}

type CoachInput struct {
	OwnerID string
	Message string
}

type CoachResult struct {
	Reply        string `json:"reply"`
	QuizzesSeen  int    `json:"quizzes_seen"`
	MistakesSeen int    `json:"mistakes_seen"`
}

func (s *CoachService) Advise(ctx context.Context, in CoachInput) (*CoachResult, error) {
	if strings.TrimSpace(in.OwnerID) == "" {
		return nil, validationf("owner id is required")
	}
	if err := s.quota.CheckAndIncrement(ctx, in.OwnerID, FeatureCoachingMessage, 1); err != nil {
		return nil, err
	}

	results, err := s.results.ListRecent(ctx, in.OwnerID, coachResultWindow)
	if err != nil {
		return nil, err
	}
	mistakes, err := s.mistakes.ListRecent(ctx, in.OwnerID, coachMistakeWindow)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("Recent quiz results:\n")
	if len(results) == 0 {
		b.WriteString("- none yet\n")
	}
	for _, r := range results {
		fmt.Fprintf(&b, "- %s / %s: %d of %d\n", r.DocumentID, orGeneral(r.Topic), r.Score, r.TotalQuestions)
	}
	b.WriteString("\nRecent mistakes by topic:\n")
	if len(mistakes) == 0 {
		b.WriteString("- none yet\n")
	}
	for _, g := range groupByTopic(mistakes) {
		fmt.Fprintf(&b, "- %s: %d\n", g.topic, len(g.mistakes))
	}
	if msg := strings.TrimSpace(in.Message); msg != "" {
		fmt.Fprintf(&b, "\nStudent says: %s\n", msg)
	}

	var reply string
	err = s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		var completeErr error
		reply, completeErr = s.completer.Complete(ctx, ai.CompletionRequest{
			System:      coachInstruction,
			User:        b.String(),
			Temperature: s.cfg.Temperature,
		})
		return completeErr
	})
	if err != nil {
		return nil, upstream("coach completion", err)
	}
	return &CoachResult{Reply: strings.TrimSpace(reply), QuizzesSeen: len(results), MistakesSeen: len(mistakes)}, nil
}

func orGeneral(topic string) string {
	if strings.TrimSpace(topic) == "" {
		return "General"
	}
	return topic
}
