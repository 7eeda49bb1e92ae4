package app

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"studymate/internal/model"
	"studymate/internal/pkg/chunker"
	"studymate/internal/pkg/docparse"
	"studymate/internal/platform/logger"
	"studymate/internal/progress"
	"studymate/internal/repository"
	"studymate/internal/vectorstore"
)

type IngestConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	EmbedBatchSize  int
	UpsertBatchSize int
	Dimension       int
	Retry           RetryPolicy
	PoolSize        int
}

// IngestService turns an uploaded document into tagged chunk vectors and a
// catalog entry. Runs execute on a bounded ants pool; batches within a run
// are sequential so progress only moves forward.
type IngestService struct {
	docs     *repository.DocumentRepository
	quota    *QuotaService
	embedder Embedder
	store    VectorStore
	progress ProgressPublisher
	pool     *ants.Pool
	cfg      IngestConfig
	log      *logger.Logger
}

func NewIngestService(
	docs *repository.DocumentRepository,
	quota *QuotaService,
	embedder Embedder,
	store VectorStore,
	publisher ProgressPublisher,
	cfg IngestConfig,
	log *logger.Logger,
) (*IngestService, error) {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 100
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create ingestion pool failed: %w", err)
	}
	return &IngestService{
		docs:     docs,
		quota:    quota,
		embedder: embedder,
		store:    store,
		progress: publisher,
		pool:     pool,
		cfg:      cfg,
		log:      log.With("service", "ingest"),
	}, nil
}

func (s *IngestService) Close() {
	s.pool.Release()
}

type IngestInput struct {
	OwnerID    string
	DocumentID string
	Content    []byte
}

type IngestResult struct {
	DocumentID       string `json:"document_id"`
	AlreadyProcessed bool   `json:"already_processed"`
	Chunks           int    `json:"chunks"`
	Stored           int    `json:"stored"`
	FailedChunks     []int  `json:"failed_chunks,omitempty"`
}

// NormalizeDocumentID keeps only the base file name so ids never carry paths.
func NormalizeDocumentID(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// maxDocumentIDBytes matches the width of the document id columns in the
// catalog and the vector store.
const maxDocumentIDBytes = 255

// Ingest returns a result and a *PartialIngestionError together when some
// embedding batches were skipped after retries. A run that stores nothing
// gives its upload unit back.
func (s *IngestService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	ownerID := strings.TrimSpace(in.OwnerID)
	documentID := NormalizeDocumentID(in.DocumentID)
	if ownerID == "" || documentID == "" {
		return nil, validationf("owner id and document id are required")
	}
	if len(documentID) > maxDocumentIDBytes {
		return nil, validationf("document id is %d bytes, at most %d allowed", len(documentID), maxDocumentIDBytes)
	}
	if len(in.Content) == 0 {
		return nil, validationf("document is empty")
	}

	existing, err := s.docs.Get(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Info("document already processed", "owner_id", ownerID, "document_id", documentID)
		return &IngestResult{DocumentID: documentID, AlreadyProcessed: true, Chunks: existing.ChunkCount, Stored: existing.ChunkCount}, nil
	}

	text, err := docparse.Extract(in.Content)
	if err != nil {
		if errors.Is(err, docparse.ErrEmptyDocument) || errors.Is(err, docparse.ErrUnsupportedType) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}
	chunks, err := chunker.Split(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, validationf("document contains no text")
	}

	if err := s.quota.CheckAndIncrement(ctx, ownerID, FeatureUpload, 1); err != nil {
		return nil, err
	}

	type outcome struct {
		res *IngestResult
		err error
	}
	done := make(chan outcome, 1)
	submitErr := s.pool.Submit(func() {
		res, err := s.run(ctx, ownerID, documentID, chunks)
		done <- outcome{res, err}
	})
	if submitErr != nil {
		s.refundUpload(ctx, ownerID, documentID)
		return nil, fmt.Errorf("submit ingestion failed: %w", submitErr)
	}
	out := <-done
	switch {
	case out.err != nil && !errors.Is(out.err, ErrPartialIngestion):
		s.refundUpload(ctx, ownerID, documentID)
	case out.res != nil && out.res.AlreadyProcessed:
		s.refundUpload(ctx, ownerID, documentID)
	}
	return out.res, out.err
}

// refundUpload must run even when the request context is already cancelled.
func (s *IngestService) refundUpload(ctx context.Context, ownerID, documentID string) {
	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.quota.Release(refundCtx, ownerID, FeatureUpload, 1); err != nil {
		s.log.Error("upload quota refund failed", "owner_id", ownerID, "document_id", documentID, "err", err)
	}
}

func (s *IngestService) run(ctx context.Context, ownerID, documentID string, chunks []string) (*IngestResult, error) {
	log := s.log.With("owner_id", ownerID, "document_id", documentID)
	filter, err := vectorstore.NewFilter(ownerID, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	total := len(chunks)
	start := time.Now()

	// one unit per embedded chunk, one per stored or skipped chunk, one for
	// the catalog write
	units := 2*total + 1
	progressed := 0
	event := func(phase progress.Phase) progress.Event {
		return progress.NewEvent(documentID, progressed, units, phase)
	}
	fail := func() {
		s.publish(ownerID, event(progress.PhaseFailed))
	}

	records := make([]vectorstore.Record, 0, total)
	var failed []int
	for from := 0; from < total; from += s.cfg.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			fail()
			log.Warn("ingestion cancelled during embedding", "embedded", from, "total", total)
			return nil, err
		}
		to := min(from+s.cfg.EmbedBatchSize, total)
		batch := chunks[from:to]

		var vectors [][]float32
		err := s.cfg.Retry.do(ctx, func(ctx context.Context) error {
			var embedErr error
			vectors, embedErr = s.embedder.EmbedTexts(ctx, batch)
			if embedErr == nil && len(vectors) != len(batch) {
				embedErr = fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(batch))
			}
			return embedErr
		})
		switch {
		case err != nil && ctx.Err() != nil:
			fail()
			return nil, ctx.Err()
		case dimensionMismatch(err):
			fail()
			log.Error("embedder returned vectors of the wrong size", "err", err)
			return nil, asDimensionMismatch(err)
		case err != nil:
			log.Warn("embedding batch skipped", "from", from, "to", to, "err", err)
			for i := from; i < to; i++ {
				failed = append(failed, i)
			}
		default:
			for i, vec := range vectors {
				if s.cfg.Dimension > 0 && len(vec) != s.cfg.Dimension {
					fail()
					return nil, fmt.Errorf("%w: chunk vector has %d dimensions, store expects %d", ErrDimensionMismatch, len(vec), s.cfg.Dimension)
				}
				idx := from + i
				records = append(records, vectorstore.Record{
					ID:         vectorstore.RecordID(ownerID, documentID, idx),
					OwnerID:    ownerID,
					DocumentID: documentID,
					ChunkIndex: idx,
					Text:       batch[i],
					Vector:     vec,
				})
			}
		}

		progressed = to
		s.publish(ownerID, event(progress.PhaseEmbedding))
	}

	if len(records) == 0 {
		fail()
		return nil, upstream("embed document", fmt.Errorf("all %d chunks failed", total))
	}

	// skipped chunks need no upload
	progressed = total + len(failed)
	for from := 0; from < len(records); from += s.cfg.UpsertBatchSize {
		if err := ctx.Err(); err != nil {
			s.cleanup(ctx, filter, log)
			fail()
			log.Warn("ingestion cancelled during upload", "stored", from, "total", len(records))
			return nil, err
		}
		to := min(from+s.cfg.UpsertBatchSize, len(records))
		err := s.cfg.Retry.do(ctx, func(ctx context.Context) error {
			return s.store.Upsert(ctx, records[from:to])
		})
		if err != nil {
			s.cleanup(ctx, filter, log)
			fail()
			if dimensionMismatch(err) {
				return nil, asDimensionMismatch(err)
			}
			return nil, upstream("vector upsert", err)
		}
		progressed = total + len(failed) + to
		ev := event(progress.PhaseUploading)
		ev.Message = fmt.Sprintf("stored %d of %d vectors", to, len(records))
		s.publish(ownerID, ev)
	}

	doc := &model.Document{
		OwnerID:      ownerID,
		DocumentID:   documentID,
		ChunkCount:   len(records),
		FailedChunks: len(failed),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		// a concurrent run of the same document may have won the catalog
		// insert; its vectors share our ids, so they must not be deleted
		if existing, getErr := s.docs.Get(context.WithoutCancel(ctx), ownerID, documentID); getErr == nil && existing != nil {
			progressed = units
			s.publish(ownerID, event(progress.PhaseDone))
			return &IngestResult{DocumentID: documentID, AlreadyProcessed: true, Chunks: existing.ChunkCount, Stored: existing.ChunkCount}, nil
		}
		log.Error("catalog write failed, removing orphaned vectors", "err", err)
		s.cleanup(ctx, filter, log)
		fail()
		return nil, err
	}

	progressed = units
	s.publish(ownerID, event(progress.PhaseDone))
	log.Info("document ingested", "chunks", total, "stored", len(records), "failed", len(failed), "elapsed", time.Since(start).String())

	res := &IngestResult{
		DocumentID:   documentID,
		Chunks:       total,
		Stored:       len(records),
		FailedChunks: failed,
	}
	if len(failed) > 0 {
		return res, &PartialIngestionError{Failed: len(failed), Total: total, FailedChunks: failed}
	}
	return res, nil
}

// cleanup removes vectors written by an aborted run. It must run even when
// the request context is already cancelled.
func (s *IngestService) cleanup(ctx context.Context, filter vectorstore.Filter, log *logger.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.store.Delete(cleanupCtx, filter); err != nil {
		log.Error("orphaned vector cleanup failed", "err", err)
	}
}

func (s *IngestService) publish(ownerID string, ev progress.Event) {
	if s.progress != nil {
		s.progress.Publish(ownerID, ev)
	}
}
