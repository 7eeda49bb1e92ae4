package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"studymate/internal/ai"
	"studymate/internal/model"
	"studymate/internal/platform/logger"
	"studymate/internal/repository"
)

const (
	quizQuestionCount = 5
	quizOptionCount   = 4
)

type QuizQuestion struct {
	ID            int      `json:"id"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation"`
}

type Quiz struct {
	Summary   string         `json:"summary"`
	Questions []QuizQuestion `json:"questions"`
}

var errInvalidQuiz = errors.New("model returned an invalid quiz")

// ValidateQuiz enforces exactly five questions with four distinct options
// each, and a correct answer that is one of the options.
func ValidateQuiz(q *Quiz) error {
	if q == nil {
		return errInvalidQuiz
	}
	if strings.TrimSpace(q.Summary) == "" {
		return fmt.Errorf("%w: missing summary", errInvalidQuiz)
	}
	if len(q.Questions) != quizQuestionCount {
		return fmt.Errorf("%w: %d questions", errInvalidQuiz, len(q.Questions))
	}
	for i, question := range q.Questions {
		if strings.TrimSpace(question.Question) == "" {
			return fmt.Errorf("%w: question %d is empty", errInvalidQuiz, i+1)
		}
		if len(question.Options) != quizOptionCount {
			return fmt.Errorf("%w: question %d has %d options", errInvalidQuiz, i+1, len(question.Options))
		}
		seen := make(map[string]struct{}, quizOptionCount)
		correct := false
		for _, opt := range question.Options {
			key := strings.ToLower(strings.TrimSpace(opt))
			if key == "" {
				return fmt.Errorf("%w: question %d has an empty option", errInvalidQuiz, i+1)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("%w: question %d repeats option %q", errInvalidQuiz, i+1, opt)
			}
			seen[key] = struct{}{}
			if strings.TrimSpace(opt) == strings.TrimSpace(question.CorrectAnswer) {
				correct = true
			}
		}
		if !correct {
			return fmt.Errorf("%w: question %d answer is not an option", errInvalidQuiz, i+1)
		}
	}
	return nil
}

func quizSchema() *ai.JSONSchema {
	str := map[string]interface{}{"type": "string"}
	question := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":       map[string]interface{}{"type": "integer"},
			"question": str,
			"options": map[string]interface{}{
				"type":     "array",
				"items":    str,
				"minItems": quizOptionCount,
				"maxItems": quizOptionCount,
			},
			"correctAnswer": str,
			"explanation":   str,
		},
		"required":             []string{"id", "question", "options", "correctAnswer", "explanation"},
		"additionalProperties": false,
	}
	return &ai.JSONSchema{
		Name: "quiz",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"summary": str,
				"questions": map[string]interface{}{
					"type":     "array",
					"items":    question,
					"minItems": quizQuestionCount,
					"maxItems": quizQuestionCount,
				},
			},
			"required":             []string{"summary", "questions"},
			"additionalProperties": false,
		},
	}
}

type QuizConfig struct {
	Temperature float64
	Context     ContextOptions
	Retry       RetryPolicy
}

type QuizService struct {
	retriever *Retriever
	quota     *QuotaService
	completer Completer
	results   *repository.QuizResultRepository
	mistakes  *repository.MistakeRepository
	cfg       QuizConfig
	log       *logger.Logger
}

func NewQuizService(
	retriever *Retriever,
	quota *QuotaService,
	completer Completer,
	results *repository.QuizResultRepository,
	mistakes *repository.MistakeRepository,
	cfg QuizConfig,
	log *logger.Logger,
) *QuizService {
	return &QuizService{
		retriever: retriever,
		quota:     quota,
		completer: completer,
		results:   results,
		mistakes:  mistakes,
		cfg:       cfg,
		log:       log.With("service", "quiz"),
	}
}

type QuizInput struct {
	OwnerID    string
	DocumentID string
	Topic      string
}

// Generate builds a five-question quiz on topic from the document. It
// consumes one content-generation unit per question.
func (s *QuizService) Generate(ctx context.Context, in QuizInput) (*Quiz, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	documentID := NormalizeDocumentID(in.DocumentID)
	topic := strings.TrimSpace(in.Topic)
	if ownerID == "" || documentID == "" || topic == "" {
		return nil, validationf("owner id, document id and topic are required")
	}
	if err := s.quota.CheckAndIncrement(ctx, ownerID, FeatureContentGeneration, quizQuestionCount); err != nil {
		return nil, err
	}

	chunks, err := s.retriever.Retrieve(ctx, RetrieveInput{OwnerID: ownerID, DocumentID: documentID, Query: topic})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no content for topic %q", ErrNotFound, topic)
	}
	contextText := AssembleContext(chunks, s.cfg.Context)

	var quiz Quiz
	err = s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		raw, err := s.completer.Complete(ctx, ai.CompletionRequest{
			System:      quizInstruction,
			User:        fmt.Sprintf("Context: %s\nTopic: %s", contextText, topic),
			Temperature: s.cfg.Temperature,
			Schema:      quizSchema(),
		})
		if err != nil {
			return err
		}
		var candidate Quiz
		if err := json.Unmarshal([]byte(raw), &candidate); err != nil {
			return fmt.Errorf("%w: %v", errInvalidQuiz, err)
		}
		if err := ValidateQuiz(&candidate); err != nil {
			s.log.Warn("discarding invalid quiz", "err", err)
			return err
		}
		quiz = candidate
		return nil
	})
	if err != nil {
		return nil, upstream("quiz generation", err)
	}
	return &quiz, nil
}

type QuizResultInput struct {
	DocumentID     string `json:"document_id"`
	Topic          string `json:"topic"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`
}

func (s *QuizService) SaveResult(ctx context.Context, ownerID string, in QuizResultInput) (*model.QuizResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	documentID := NormalizeDocumentID(in.DocumentID)
	if ownerID == "" || documentID == "" {
		return nil, validationf("owner id and document id are required")
	}
	if in.TotalQuestions <= 0 || in.Score < 0 || in.Score > in.TotalQuestions {
		return nil, validationf("score must be between 0 and total questions")
	}
	result := &model.QuizResult{
		OwnerID:        ownerID,
		DocumentID:     documentID,
		Topic:          strings.TrimSpace(in.Topic),
		Score:          in.Score,
		TotalQuestions: in.TotalQuestions,
	}
	if err := s.results.Create(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *QuizService) Results(ctx context.Context, ownerID string, limit int) ([]model.QuizResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, validationf("owner id is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.results.ListRecent(ctx, ownerID, limit)
}

type MistakeInput struct {
	Topic         string `json:"topic"`
	Question      string `json:"question"`
	WrongAnswer   string `json:"wrong_answer"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

// RecordMistakes appends graded wrong answers; they feed the daily podcast.
func (s *QuizService) RecordMistakes(ctx context.Context, ownerID, documentID string, items []MistakeInput) (int, error) {
	ownerID = strings.TrimSpace(ownerID)
	documentID = NormalizeDocumentID(documentID)
	if ownerID == "" || documentID == "" {
		return 0, validationf("owner id and document id are required")
	}
	if len(items) == 0 {
		return 0, nil
	}
	mistakes := make([]model.Mistake, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.Question) == "" || strings.TrimSpace(it.CorrectAnswer) == "" {
			return 0, validationf("mistake %d needs a question and a correct answer", i+1)
		}
		topic := strings.TrimSpace(it.Topic)
		if topic == "" {
			topic = "General"
		}
		mistakes = append(mistakes, model.Mistake{
			OwnerID:       ownerID,
			DocumentID:    documentID,
			Topic:         topic,
			Question:      it.Question,
			WrongAnswer:   it.WrongAnswer,
			CorrectAnswer: it.CorrectAnswer,
			Explanation:   it.Explanation,
		})
	}
	if err := s.mistakes.CreateBatch(ctx, mistakes); err != nil {
		return 0, err
	}
	return len(mistakes), nil
}
