package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"studymate/internal/ai"
	"studymate/internal/model"
	"studymate/internal/platform/logger"
	"studymate/internal/progress"
	"studymate/internal/repository"
	"studymate/internal/vectorstore"
)

var errFakeUpstream = errors.New("fake upstream down")

// keywordEmbedder counts keyword hits; the last component is a constant so no
// vector is all zeros.
type keywordEmbedder struct {
	mu       sync.Mutex
	keywords []string
	dim      int
	queries  []string
	batches  int
	fail     func(texts []string) error
}

func newKeywordEmbedder(keywords ...string) *keywordEmbedder {
	return &keywordEmbedder{keywords: keywords, dim: len(keywords) + 1}
}

func (e *keywordEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, e.dim)
	for i, kw := range e.keywords {
		if i >= e.dim-1 {
			break
		}
		vec[i] = float32(strings.Count(lower, kw))
	}
	vec[e.dim-1] = 1
	return vec
}

func (e *keywordEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, text)
	if e.fail != nil {
		if err := e.fail([]string{text}); err != nil {
			return nil, err
		}
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches++
	if e.fail != nil {
		if err := e.fail(texts); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *keywordEmbedder) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// memStore ranks by dot product and honors the owner and document filter.
type memStore struct {
	mu        sync.Mutex
	records   map[string]vectorstore.Record
	queries   int
	upsertErr error
	queryErr  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]vectorstore.Record)}
}

func (s *memStore) Upsert(_ context.Context, records []vectorstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func (s *memStore) Query(_ context.Context, vector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if !filter.Valid() {
		return nil, vectorstore.ErrFilterIncomplete
	}
	var out []vectorstore.Match
	for _, r := range s.records {
		if !filter.Matches(r.OwnerID, r.DocumentID) {
			continue
		}
		var score float32
		for i := range vector {
			if i < len(r.Vector) {
				score += vector[i] * r.Vector[i]
			}
		}
		out = append(out, vectorstore.Match{
			ID:         r.ID,
			OwnerID:    r.OwnerID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Text:       r.Text,
			Score:      score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *memStore) Delete(_ context.Context, filter vectorstore.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !filter.Valid() {
		return vectorstore.ErrFilterIncomplete
	}
	for id, r := range s.records {
		if filter.Matches(r.OwnerID, r.DocumentID) {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *memStore) count(ownerID, documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.OwnerID == ownerID && r.DocumentID == documentID {
			n++
		}
	}
	return n
}

func (s *memStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

type fakeCompleter struct {
	mu       sync.Mutex
	requests []ai.CompletionRequest
	respond  func(req ai.CompletionRequest) (string, error)
}

func (c *fakeCompleter) Complete(_ context.Context, req ai.CompletionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	respond := c.respond
	c.mu.Unlock()
	if respond == nil {
		return "ok", nil
	}
	return respond(req)
}

func (c *fakeCompleter) Requests() []ai.CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ai.CompletionRequest(nil), c.requests...)
}

type fakeSpeech struct {
	mu    sync.Mutex
	texts []string
}

func (s *fakeSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return []byte("ID3-fake-mp3"), nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (o *memObjects) Exists(_ context.Context, key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok, nil
}

func (o *memObjects) Upload(_ context.Context, key string, data []byte, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	o.uploads++
	return nil
}

func (o *memObjects) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://storage.test/" + key + "?expires=" + ttl.String(), nil
}

type fakeDescriber struct {
	desc string
	err  error
}

func (d fakeDescriber) Describe(context.Context, []byte) (string, error) {
	return d.desc, d.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (p *recordingPublisher) Publish(_ string, ev progress.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []progress.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Event(nil), p.events...)
}

// fixedNow is 09:00 on 2025-03-10 in the reference timezone.
func fixedNow(t *testing.T) (*Clock, time.Time) {
	t.Helper()
	clock, err := NewClock("Asia/Kolkata")
	require.NoError(t, err)
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	return clock.WithNow(func() time.Time { return now }), now
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func defaultLimits() QuotaLimits {
	return QuotaLimits{
		DailyContentGeneration: 20,
		DailyTutoringTurns:     15,
		DailyCoachingMessages:  10,
		LifetimeUploads:        3,
	}
}

type harness struct {
	db        *gorm.DB
	clock     *Clock
	now       time.Time
	embedder  *keywordEmbedder
	store     *memStore
	completer *fakeCompleter
	progress  *recordingPublisher
	usage     *repository.UsageRepository
	quota     *QuotaService
	docs      *repository.DocumentRepository
	turns     *repository.ChatTurnRepository
	results   *repository.QuizResultRepository
	mistakes  *repository.MistakeRepository
	retriever *Retriever
	ingest    *IngestService
}

func newHarness(t *testing.T, limits QuotaLimits) *harness {
	t.Helper()
	db := newTestDB(t)
	clock, now := fixedNow(t)
	h := &harness{
		db:        db,
		clock:     clock,
		now:       now,
		embedder:  newKeywordEmbedder("sunlight", "chlorophyll", "mitochondria"),
		store:     newMemStore(),
		completer: &fakeCompleter{},
		progress:  &recordingPublisher{},
		usage:     repository.NewUsageRepository(db),
		docs:      repository.NewDocumentRepository(db),
		turns:     repository.NewChatTurnRepository(db),
		results:   repository.NewQuizResultRepository(db),
		mistakes:  repository.NewMistakeRepository(db),
	}
	h.quota = NewQuotaService(h.usage, limits, clock, logger.Nop())
	h.retriever = NewRetriever(h.embedder, h.store, h.embedder.dim, 5, RetryPolicy{Attempts: 2}, logger.Nop())

	ingest, err := NewIngestService(h.docs, h.quota, h.embedder, h.store, h.progress, IngestConfig{
		ChunkSize:       40,
		ChunkOverlap:    0,
		EmbedBatchSize:  1,
		UpsertBatchSize: 100,
		Dimension:       h.embedder.dim,
		Retry:           RetryPolicy{Attempts: 2},
		PoolSize:        2,
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(ingest.Close)
	h.ingest = ingest
	return h
}

// pad right-fills s with spaces to 38 runes so that three padded paragraphs
// joined by blank lines split into exactly three 40-rune chunks.
func pad(s string) string {
	if len(s) >= 38 {
		return s[:38]
	}
	return s + strings.Repeat(" ", 38-len(s))
}

const (
	bioChunk1 = "Plants capture sunlight every day."
	bioChunk2 = "Chlorophyll absorbs red light."
	bioChunk3 = "Mitochondria release stored energy."
)

func bioDocument() []byte {
	return []byte(pad(bioChunk1) + "\n\n" + pad(bioChunk2) + "\n\n" + pad(bioChunk3))
}

func (h *harness) ingestBio(t *testing.T, ownerID string) *IngestResult {
	t.Helper()
	res, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: ownerID, DocumentID: "bio.pdf", Content: bioDocument()})
	require.NoError(t, err)
	return res
}
