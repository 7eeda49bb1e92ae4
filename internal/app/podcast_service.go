package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"studymate/internal/ai"
	"studymate/internal/model"
	"studymate/internal/pkg/ttsclean"
	"studymate/internal/platform/logger"
	"studymate/internal/repository"
)

type PodcastConfig struct {
	KeyPrefix      string
	TopTopics      int
	MaxScriptChars int
	SignedURLTTL   time.Duration
	Temperature    float64
	Retry          RetryPolicy
}

type PodcastService struct {
	storage   ObjectStorage
	mistakes  *repository.MistakeRepository
	completer Completer
	speech    SpeechSynthesizer
	clock     *Clock
	cfg       PodcastConfig
	log       *logger.Logger
}

func NewPodcastService(
	storage ObjectStorage,
	mistakes *repository.MistakeRepository,
	completer Completer,
	speech SpeechSynthesizer,
	clock *Clock,
	cfg PodcastConfig,
	log *logger.Logger,
) *PodcastService {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "daily_recap"
	}
	if cfg.TopTopics <= 0 {
		cfg.TopTopics = 3
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 5 * time.Minute
	}
	return &PodcastService{
		storage:   storage,
		mistakes:  mistakes,
		completer: completer,
		speech:    speech,
		clock:     clock,
		cfg:       cfg,
		log:       log.With("service", "podcast"),
	}
}

type PodcastResult struct {
	Date   string `json:"date"`
	Key    string `json:"-"`
	URL    string `json:"url,omitempty"`
	Cached bool   `json:"cached"`
	NoData bool   `json:"no_data"`
}

// Key is the one artifact name an owner can have for a reference day.
func (s *PodcastService) Key(ownerID, date string) string {
	return fmt.Sprintf("%s/%s/%s.mp3", s.cfg.KeyPrefix, ownerID, date)
}

// GetOrGenerate serves today's recap from storage, or builds it from
// yesterday's mistakes. Concurrent misses may both generate; the second
// upload overwrites an identical-purpose artifact.
func (s *PodcastService) GetOrGenerate(ctx context.Context, ownerID string) (*PodcastResult, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, validationf("owner id is required")
	}
	date := s.clock.Today()
	key := s.Key(ownerID, date)
	log := s.log.With("owner_id", ownerID, "date", date)

	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return nil, upstream("podcast lookup", err)
	}
	if exists {
		url, err := s.storage.SignedURL(ctx, key, s.cfg.SignedURLTTL)
		if err != nil {
			return nil, upstream("sign podcast url", err)
		}
		log.Debug("podcast cache hit")
		return &PodcastResult{Date: date, Key: key, URL: url, Cached: true}, nil
	}

	from, to := s.clock.Yesterday()
	mistakes, err := s.mistakes.ListBetween(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	if len(mistakes) == 0 {
		return &PodcastResult{Date: date, Key: key, NoData: true}, nil
	}

	prompt := BuildRecapPrompt(mistakes, s.cfg.TopTopics)
	var script string
	err = s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		var completeErr error
		script, completeErr = s.completer.Complete(ctx, ai.CompletionRequest{
			System:      podcastInstruction,
			User:        prompt,
			Temperature: s.cfg.Temperature,
		})
		return completeErr
	})
	if err != nil {
		return nil, upstream("podcast script", err)
	}
	script = ttsclean.Clean(capRunes(script, s.cfg.MaxScriptChars))
	if script == "" {
		return nil, upstream("podcast script", fmt.Errorf("empty script"))
	}

	var audio []byte
	err = s.cfg.Retry.do(ctx, func(ctx context.Context) error {
		var synthErr error
		audio, synthErr = s.speech.Synthesize(ctx, script)
		return synthErr
	})
	if err != nil {
		return nil, upstream("speech synthesis", err)
	}
	if err := s.storage.Upload(ctx, key, audio, "audio/mpeg"); err != nil {
		return nil, upstream("podcast upload", err)
	}
	url, err := s.storage.SignedURL(ctx, key, s.cfg.SignedURLTTL)
	if err != nil {
		return nil, upstream("sign podcast url", err)
	}
	log.Info("podcast generated", "mistakes", len(mistakes), "audio_bytes", len(audio))
	return &PodcastResult{Date: date, Key: key, URL: url}, nil
}

type topicGroup struct {
	topic    string
	mistakes []model.Mistake
}

// groupByTopic orders topics by mistake count, then name.
func groupByTopic(mistakes []model.Mistake) []topicGroup {
	index := make(map[string]int)
	var groups []topicGroup
	for _, m := range mistakes {
		topic := strings.TrimSpace(m.Topic)
		if topic == "" {
			topic = "General"
		}
		i, ok := index[topic]
		if !ok {
			i = len(groups)
			index[topic] = i
			groups = append(groups, topicGroup{topic: topic})
		}
		groups[i].mistakes = append(groups[i].mistakes, m)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if len(groups[a].mistakes) != len(groups[b].mistakes) {
			return len(groups[a].mistakes) > len(groups[b].mistakes)
		}
		return groups[a].topic < groups[b].topic
	})
	return groups
}

// BuildRecapPrompt lists mistakes grouped by topic. The first top groups are
// marked as main topics; the rest are summarized as brief mentions.
func BuildRecapPrompt(mistakes []model.Mistake, top int) string {
	groups := groupByTopic(mistakes)
	if top <= 0 || top > len(groups) {
		top = len(groups)
	}

	var b strings.Builder
	names := make([]string, 0, top)
	for _, g := range groups[:top] {
		names = append(names, g.topic)
	}
	fmt.Fprintf(&b, "Main topics: %s\n\n", strings.Join(names, ", "))

	for _, g := range groups[:top] {
		fmt.Fprintf(&b, "Topic: %s (%d mistakes)\n", g.topic, len(g.mistakes))
		for _, m := range g.mistakes {
			fmt.Fprintf(&b, "  Question: %s\n", m.Question)
			if m.WrongAnswer != "" {
				fmt.Fprintf(&b, "  Student answered: %s\n", m.WrongAnswer)
			}
			fmt.Fprintf(&b, "  Correct answer: %s\n", m.CorrectAnswer)
			if m.Explanation != "" {
				fmt.Fprintf(&b, "  Explanation: %s\n", m.Explanation)
			}
		}
		b.WriteString("\n")
	}

	if rest := groups[top:]; len(rest) > 0 {
		b.WriteString("Mention briefly:\n")
		for _, g := range rest {
			fmt.Fprintf(&b, "- %s (%d mistakes)\n", g.topic, len(g.mistakes))
		}
	}
	return b.String()
}

func capRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
