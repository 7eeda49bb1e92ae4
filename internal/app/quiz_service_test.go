package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studymate/internal/ai"
	"studymate/internal/platform/logger"
)

func validQuiz() Quiz {
	q := Quiz{Summary: "Plants turn light into sugar. Chlorophyll absorbs light."}
	for i := 1; i <= 5; i++ {
		q.Questions = append(q.Questions, QuizQuestion{
			ID:            i,
			Question:      fmt.Sprintf("Question %d?", i),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "B",
			Explanation:   "The text says B.",
		})
	}
	return q
}

func newQuiz(h *harness, attempts int) *QuizService {
	return NewQuizService(h.retriever, h.quota, h.completer, h.results, h.mistakes, QuizConfig{
		Temperature: 0.3,
		Context:     testContextOptions(),
		Retry:       RetryPolicy{Attempts: attempts},
	}, logger.Nop())
}

func TestValidateQuiz(t *testing.T) {
	q := validQuiz()
	require.NoError(t, ValidateQuiz(&q))

	cases := map[string]func(q *Quiz){
		"four questions":    func(q *Quiz) { q.Questions = q.Questions[:4] },
		"three options":     func(q *Quiz) { q.Questions[0].Options = []string{"A", "B", "C"} },
		"duplicate options": func(q *Quiz) { q.Questions[1].Options = []string{"A", "b", "B", "D"} },
		"answer not listed": func(q *Quiz) { q.Questions[2].CorrectAnswer = "E" },
		"empty question":    func(q *Quiz) { q.Questions[3].Question = " " },
		"no summary":        func(q *Quiz) { q.Summary = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			q := validQuiz()
			q.Questions = append([]QuizQuestion(nil), q.Questions...)
			mutate(&q)
			assert.Error(t, ValidateQuiz(&q))
		})
	}
}

func TestQuiz_GenerateUsesSchemaAndConsumesFive(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingestBio(t, "u1")
	raw, err := json.Marshal(validQuiz())
	require.NoError(t, err)
	h.completer.respond = func(ai.CompletionRequest) (string, error) { return string(raw), nil }
	ctx := context.Background()

	quiz, err := newQuiz(h, 1).Generate(ctx, QuizInput{OwnerID: "u1", DocumentID: "bio.pdf", Topic: "chlorophyll"})
	require.NoError(t, err)
	assert.Len(t, quiz.Questions, 5)

	reqs := h.completer.Requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].Schema)
	assert.Equal(t, "quiz", reqs[0].Schema.Name)
	assert.Equal(t, quizInstruction, reqs[0].System)
	assert.Contains(t, reqs[0].User, bioChunk2)

	usage, err := h.quota.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, usedOf(usage, FeatureContentGeneration))
}

func TestQuiz_FifthGenerationOfTheDayRefused(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingestBio(t, "u1")
	raw, err := json.Marshal(validQuiz())
	require.NoError(t, err)
	h.completer.respond = func(ai.CompletionRequest) (string, error) { return string(raw), nil }
	svc := newQuiz(h, 1)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Generate(ctx, QuizInput{OwnerID: "u1", DocumentID: "bio.pdf", Topic: "light"})
		require.NoError(t, err)
	}
	_, err = svc.Generate(ctx, QuizInput{OwnerID: "u1", DocumentID: "bio.pdf", Topic: "light"})
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Len(t, h.completer.Requests(), 4)
}

func TestQuiz_InvalidOutputRetried(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingestBio(t, "u1")
	bad := validQuiz()
	bad.Questions = bad.Questions[:3]
	badRaw, _ := json.Marshal(bad)
	goodRaw, _ := json.Marshal(validQuiz())
	calls := 0
	h.completer.respond = func(ai.CompletionRequest) (string, error) {
		calls++
		if calls == 1 {
			return string(badRaw), nil
		}
		return string(goodRaw), nil
	}

	quiz, err := newQuiz(h, 3).Generate(context.Background(), QuizInput{OwnerID: "u1", DocumentID: "bio.pdf", Topic: "light"})
	require.NoError(t, err)
	assert.Len(t, quiz.Questions, 5)
	assert.Equal(t, 2, calls)
}

func TestQuiz_PersistentlyInvalidIsUpstream(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingestBio(t, "u1")
	h.completer.respond = func(ai.CompletionRequest) (string, error) { return "not json", nil }

	_, err := newQuiz(h, 2).Generate(context.Background(), QuizInput{OwnerID: "u1", DocumentID: "bio.pdf", Topic: "light"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Len(t, h.completer.Requests(), 2)
}

func TestQuiz_PathLikeDocumentIDIsNormalized(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingestBio(t, "u1")
	raw, err := json.Marshal(validQuiz())
	require.NoError(t, err)
	h.completer.respond = func(ai.CompletionRequest) (string, error) { return string(raw), nil }
	svc := newQuiz(h, 1)
	ctx := context.Background()

	_, err = svc.Generate(ctx, QuizInput{OwnerID: "u1", DocumentID: "notes/bio.pdf", Topic: "chlorophyll"})
	require.NoError(t, err)
	reqs := h.completer.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].User, bioChunk2)

	saved, err := svc.SaveResult(ctx, "u1", QuizResultInput{DocumentID: " uploads/bio.pdf ", Topic: "light", Score: 4, TotalQuestions: 5})
	require.NoError(t, err)
	assert.Equal(t, "bio.pdf", saved.DocumentID)

	_, err = svc.RecordMistakes(ctx, "u1", `C:\books\bio.pdf`, []MistakeInput{{Question: "Powerhouse?", CorrectAnswer: "Mitochondria"}})
	require.NoError(t, err)
	recent, err := h.mistakes.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "bio.pdf", recent[0].DocumentID)
}

func TestQuiz_SaveResultAndMistakes(t *testing.T) {
	h := newHarness(t, defaultLimits())
	svc := newQuiz(h, 1)
	ctx := context.Background()

	_, err := svc.SaveResult(ctx, "u1", QuizResultInput{DocumentID: "bio.pdf", Topic: "light", Score: 6, TotalQuestions: 5})
	assert.True(t, errors.Is(err, ErrValidation))

	saved, err := svc.SaveResult(ctx, "u1", QuizResultInput{DocumentID: "bio.pdf", Topic: "light", Score: 3, TotalQuestions: 5})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	results, err := svc.Results(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Score)

	n, err := svc.RecordMistakes(ctx, "u1", "bio.pdf", []MistakeInput{
		{Question: "What absorbs light?", WrongAnswer: "Water", CorrectAnswer: "Chlorophyll"},
		{Topic: "Cells", Question: "Powerhouse?", CorrectAnswer: "Mitochondria"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recent, err := h.mistakes.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	topics := []string{recent[0].Topic, recent[1].Topic}
	assert.ElementsMatch(t, []string{"General", "Cells"}, topics)

	_, err = svc.RecordMistakes(ctx, "u1", "bio.pdf", []MistakeInput{{Question: "no answer"}})
	assert.True(t, errors.Is(err, ErrValidation))
}
