package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studymate/internal/ai"
	"studymate/internal/progress"
)

func TestIngest_RankingAndOwnerIsolation(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx := context.Background()

	res := h.ingestBio(t, "u1")
	assert.Equal(t, "bio.pdf", res.DocumentID)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, res.Stored)
	assert.Empty(t, res.FailedChunks)

	doc, err := h.docs.Get(ctx, "u1", "bio.pdf")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 3, doc.ChunkCount)

	chunks, err := h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: "u1", DocumentID: "bio.pdf", Query: "what does chlorophyll do"})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, bioChunk2, chunks[0])

	other, err := h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: "u2", DocumentID: "bio.pdf", Query: "what does chlorophyll do"})
	require.NoError(t, err)
	assert.Empty(t, other)

	wrongDoc, err := h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: "u1", DocumentID: "chem.pdf", Query: "what does chlorophyll do"})
	require.NoError(t, err)
	assert.Empty(t, wrongDoc)
}

func TestIngest_SameDocumentNameAcrossOwnersStaysSeparate(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx := context.Background()

	h.ingestBio(t, "u1")
	_, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u2", DocumentID: "bio.pdf", Content: []byte("Sunlight notes of the second owner.")})
	require.NoError(t, err)

	for _, owner := range []string{"u1", "u2"} {
		chunks, err := h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: owner, DocumentID: "bio.pdf", Query: "sunlight"})
		require.NoError(t, err)
		for _, c := range chunks {
			if owner == "u1" {
				assert.NotContains(t, c, "second owner")
			} else {
				assert.Contains(t, c, "second owner")
			}
		}
	}
}

func TestIngest_AlreadyProcessedSkipsEmbeddingAndQuota(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx := context.Background()

	h.ingestBio(t, "u1")
	batches := h.embedder.batches

	res, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "uploads/bio.pdf", Content: bioDocument()})
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, batches, h.embedder.batches)

	usage, err := h.quota.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, usedOf(usage, FeatureUpload))
}

func TestIngest_SkippedBatchReportsPartial(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.embedder.fail = func(texts []string) error {
		for _, text := range texts {
			if strings.Contains(text, "Mitochondria") {
				return errFakeUpstream
			}
		}
		return nil
	}

	res, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartialIngestion))

	var partial *PartialIngestionError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 1, partial.Failed)
	assert.Equal(t, 3, partial.Total)

	require.NotNil(t, res)
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, []int{2}, res.FailedChunks)
	assert.Equal(t, 2, h.store.count("u1", "bio.pdf"))

	doc, err := h.docs.Get(context.Background(), "u1", "bio.pdf")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, 1, doc.FailedChunks)
}

func TestIngest_AllBatchesFailedWritesNoCatalog(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.embedder.fail = func([]string) error { return errFakeUpstream }

	_, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))

	doc, err := h.docs.Get(context.Background(), "u1", "bio.pdf")
	require.NoError(t, err)
	assert.Nil(t, doc)

	events := h.progress.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, progress.PhaseFailed, events[len(events)-1].Phase)

	usage, err := h.quota.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))
}

func TestIngest_UpsertFailureRemovesVectors(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.store.upsertErr = errFakeUpstream

	_, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Zero(t, h.store.count("u1", "bio.pdf"))

	doc, err := h.docs.Get(context.Background(), "u1", "bio.pdf")
	require.NoError(t, err)
	assert.Nil(t, doc)

	usage, err := h.quota.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))
}

func TestIngest_ProgressNeverDecreases(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingest.cfg.UpsertBatchSize = 1
	h.ingestBio(t, "u1")

	events := h.progress.Events()
	require.NotEmpty(t, events)
	last := 0
	var embedding, uploading []progress.Event
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Processed, last)
		assert.LessOrEqual(t, ev.Percentage, 100)
		assert.Equal(t, 7, ev.Total)
		last = ev.Processed
		switch ev.Phase {
		case progress.PhaseEmbedding:
			embedding = append(embedding, ev)
		case progress.PhaseUploading:
			uploading = append(uploading, ev)
		}
	}
	require.Len(t, embedding, 3)
	require.Len(t, uploading, 3)
	for i, ev := range uploading {
		assert.Equal(t, 4+i, ev.Processed)
		assert.Less(t, ev.Percentage, 100)
		assert.Equal(t, fmt.Sprintf("stored %d of 3 vectors", i+1), ev.Message)
	}
	assert.Greater(t, uploading[0].Percentage, embedding[2].Percentage)

	final := events[len(events)-1]
	assert.Equal(t, progress.PhaseDone, final.Phase)
	assert.Equal(t, 7, final.Processed)
	assert.Equal(t, 100, final.Percentage)
}

func TestIngest_ProgressCountsSkippedChunksAsDone(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.embedder.fail = func(texts []string) error {
		if strings.Contains(texts[0], "Mitochondria") {
			return errFakeUpstream
		}
		return nil
	}

	_, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.ErrorIs(t, err, ErrPartialIngestion)

	events := h.progress.Events()
	last := 0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Processed, last)
		last = ev.Processed
	}
	final := events[len(events)-1]
	assert.Equal(t, progress.PhaseDone, final.Phase)
	assert.Equal(t, final.Total, final.Processed)
}

func TestIngest_LifetimeUploadQuota(t *testing.T) {
	limits := defaultLimits()
	limits.LifetimeUploads = 1
	h := newHarness(t, limits)
	ctx := context.Background()

	h.ingestBio(t, "u1")
	_, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "chem.pdf", Content: []byte("Atoms bond.")})
	require.Error(t, err)

	var quotaErr *QuotaExceededError
	require.True(t, errors.As(err, &quotaErr))
	assert.Equal(t, FeatureUpload, quotaErr.Feature)
	assert.Equal(t, 1, quotaErr.Used)
	assert.Equal(t, 1, quotaErr.Limit)
}

func TestIngest_ParseFailureDoesNotChargeQuota(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx := context.Background()

	_, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "blank.txt", Content: []byte("   \n  ")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "photo.bin", Content: []byte{0xff, 0xfe, 0x00, 0x81}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	usage, err := h.quota.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))
}

func TestIngest_DimensionMismatchFails(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.ingest.cfg.Dimension = h.embedder.dim + 1

	_, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	usage, err := h.quota.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))
}

func TestIngest_EmbedderDimensionErrorFailsRunAtOnce(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.embedder.fail = func([]string) error {
		return fmt.Errorf("%w: got 3, want 4", ai.ErrDimensionMismatch)
	}

	res, err := h.ingest.Ingest(context.Background(), IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.False(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.False(t, errors.Is(err, ErrPartialIngestion))
	assert.Equal(t, 1, h.embedder.batches)

	events := h.progress.Events()
	require.Len(t, events, 1)
	assert.Equal(t, progress.PhaseFailed, events[0].Phase)

	doc, err := h.docs.Get(context.Background(), "u1", "bio.pdf")
	require.NoError(t, err)
	assert.Nil(t, doc)

	usage, err := h.quota.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))
}

func TestIngest_RejectsOverlongDocumentID(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx := context.Background()

	long := strings.Repeat("ü", 128) + ".pdf"
	_, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "notes/" + long, Content: bioDocument()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Zero(t, h.embedder.batches)

	usage, err := h.quota.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))

	fits := strings.Repeat("a", 251) + ".pdf"
	res, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: fits, Content: bioDocument()})
	require.NoError(t, err)
	assert.Equal(t, fits, res.DocumentID)
}

func TestIngest_CancelledContextStops(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx, cancel := context.WithCancel(context.Background())
	h.embedder.fail = func(texts []string) error {
		cancel()
		return nil
	}

	_, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, h.embedder.batches)
	assert.Zero(t, h.store.count("u1", "bio.pdf"))

	usage, err := h.quota.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, usedOf(usage, FeatureUpload))
}

func TestIngest_RefundFreesLifetimeSlot(t *testing.T) {
	limits := defaultLimits()
	limits.LifetimeUploads = 1
	h := newHarness(t, limits)
	ctx := context.Background()

	h.embedder.fail = func([]string) error { return errFakeUpstream }
	_, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)

	h.embedder.fail = nil
	res, err := h.ingest.Ingest(ctx, IngestInput{OwnerID: "u1", DocumentID: "bio.pdf", Content: bioDocument()})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stored)

	usage, err := h.quota.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, usedOf(usage, FeatureUpload))
}

func TestNormalizeDocumentID(t *testing.T) {
	assert.Equal(t, "bio.pdf", NormalizeDocumentID("bio.pdf"))
	assert.Equal(t, "bio.pdf", NormalizeDocumentID(`C:\books\bio.pdf`))
	assert.Equal(t, "bio.pdf", NormalizeDocumentID("../../bio.pdf"))
	assert.Equal(t, "", NormalizeDocumentID("  "))
	assert.Equal(t, "", NormalizeDocumentID(".."))
}

func usedOf(snap *UsageSnapshot, f Feature) int {
	for _, fu := range snap.Features {
		if fu.Feature == f.String() {
			return fu.Used
		}
	}
	return -1
}
