package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studymate/internal/ai"
	"studymate/internal/model"
	"studymate/internal/platform/logger"
)

func newPodcast(h *harness, objects *memObjects, speech *fakeSpeech) *PodcastService {
	return NewPodcastService(objects, h.mistakes, h.completer, speech, h.clock, PodcastConfig{
		KeyPrefix:      "daily_recap",
		TopTopics:      3,
		MaxScriptChars: 4000,
		SignedURLTTL:   5 * time.Minute,
		Temperature:    0.6,
		Retry:          RetryPolicy{Attempts: 1},
	}, logger.Nop())
}

func (h *harness) addMistake(t *testing.T, ownerID, topic string, at time.Time) {
	t.Helper()
	require.NoError(t, h.mistakes.CreateBatch(context.Background(), []model.Mistake{{
		OwnerID:       ownerID,
		DocumentID:    "bio.pdf",
		Topic:         topic,
		Question:      "Q about " + topic,
		WrongAnswer:   "wrong",
		CorrectAnswer: "right",
		Explanation:   "because",
		CreatedAt:     at.UTC(),
	}}))
}

func TestPodcast_SecondRequestSameDayIsCached(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.addMistake(t, "u1", "Photosynthesis", h.now.Add(-20*time.Hour))
	h.completer.respond = func(ai.CompletionRequest) (string, error) {
		return "## Good morning!\nLet's review... **photosynthesis** & light.", nil
	}
	objects := newMemObjects()
	speech := &fakeSpeech{}
	svc := newPodcast(h, objects, speech)
	ctx := context.Background()

	first, err := svc.GetOrGenerate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.False(t, first.NoData)
	assert.Equal(t, "daily_recap/u1/2025-03-10.mp3", first.Key)
	assert.NotEmpty(t, first.URL)

	second, err := svc.GetOrGenerate(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.URL, second.URL)

	assert.Len(t, h.completer.Requests(), 1)
	assert.Len(t, speech.texts, 1)
	assert.Equal(t, 1, objects.uploads)
	assert.Equal(t, "Good morning!\nLet&#39;s review... photosynthesis &amp; light.", speech.texts[0])
}

func TestPodcast_NoMistakesYesterdayMeansNoData(t *testing.T) {
	h := newHarness(t, defaultLimits())
	// today's mistake falls outside yesterday's window
	h.addMistake(t, "u1", "Photosynthesis", h.now.Add(-time.Hour))
	// another owner's mistake from yesterday is not ours
	h.addMistake(t, "u2", "Photosynthesis", h.now.Add(-20*time.Hour))
	objects := newMemObjects()
	svc := newPodcast(h, objects, &fakeSpeech{})

	res, err := svc.GetOrGenerate(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, res.NoData)
	assert.Empty(t, res.URL)
	assert.Empty(t, h.completer.Requests())
	assert.Zero(t, objects.uploads)
}

func TestPodcast_KeyUsesReferenceDay(t *testing.T) {
	h := newHarness(t, defaultLimits())
	// 20:00 UTC on the 9th is already the 10th in Kolkata.
	h.clock = h.clock.WithNow(func() time.Time { return time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC) })
	svc := newPodcast(h, newMemObjects(), &fakeSpeech{})
	assert.Equal(t, "daily_recap/u1/2025-03-10.mp3", svc.Key("u1", h.clock.Today()))
}

func TestBuildRecapPrompt_GroupsByFrequency(t *testing.T) {
	var mistakes []model.Mistake
	add := func(topic string, n int) {
		for i := 0; i < n; i++ {
			mistakes = append(mistakes, model.Mistake{Topic: topic, Question: topic + " q", CorrectAnswer: "a"})
		}
	}
	add("Enzymes", 1)
	add("Hooks", 3)
	add("Cells", 2)
	add("Atoms", 2)
	add("", 1)

	prompt := BuildRecapPrompt(mistakes, 3)
	assert.True(t, strings.HasPrefix(prompt, "Main topics: Hooks, Atoms, Cells\n"))
	assert.Contains(t, prompt, "Topic: Hooks (3 mistakes)")
	assert.Contains(t, prompt, "Mention briefly:\n- Enzymes (1 mistakes)\n- General (1 mistakes)\n")
	assert.NotContains(t, prompt, "Topic: Enzymes")
	assert.Equal(t, 1, strings.Count(prompt, "Topic: Hooks"))
}
