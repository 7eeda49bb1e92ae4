package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studymate/internal/ai"
	"studymate/internal/platform/logger"
	"studymate/internal/vectorstore"
)

func testContextOptions() ContextOptions {
	return ContextOptions{
		MaxChars:       3000,
		EndMarkers:     []string{"exercises", "glossary", "review questions", "references"},
		TruncationMark: "\n...[truncated]",
	}
}

func TestAssembleContext_JoinsAndCutsAtMarkers(t *testing.T) {
	chunks := []string{
		"Photosynthesis makes sugar.\nEXERCISES\n1. Draw a leaf.",
		"Respiration releases energy.",
		"Glossary: ATP is energy currency.",
	}
	got := AssembleContext(chunks, testContextOptions())
	assert.Equal(t, "Photosynthesis makes sugar.\n\nRespiration releases energy.", got)
}

func TestAssembleContext_NeverExceedsCap(t *testing.T) {
	opts := testContextOptions()
	chunks := []string{strings.Repeat("a", 2000), strings.Repeat("ü", 2000)}

	got := AssembleContext(chunks, opts)
	assert.Equal(t, opts.MaxChars, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, opts.TruncationMark))

	for _, limit := range []int{20, 100, 999} {
		opts.MaxChars = limit
		got := AssembleContext(chunks, opts)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), limit)
		assert.True(t, strings.HasSuffix(got, opts.TruncationMark))
	}
}

func TestAssembleContext_ShortInputUntouched(t *testing.T) {
	got := AssembleContext([]string{"one", "two"}, testContextOptions())
	assert.Equal(t, "one\n\ntwo", got)
	assert.Empty(t, AssembleContext(nil, testContextOptions()))
}

func TestCutAtMarker_KeepsMultibyteText(t *testing.T) {
	got := cutAtMarker("Ünïcode text İ\nReferences here", []string{"references"})
	assert.Equal(t, "Ünïcode text İ\n", got)
}

func TestAssembleContext_IgnoresMarkerWordsInsideSentences(t *testing.T) {
	chunks := []string{
		"Regular aerobic exercises strengthen the heart muscle. The heart has four chambers.",
		"Darwin's book references Mendel only indirectly.",
		"The glossary-like list below is part of the lesson.",
	}
	got := AssembleContext(chunks, testContextOptions())
	assert.Equal(t, strings.Join(chunks, "\n\n"), got)
}

func TestCutAtMarker_LineLeadingHeadings(t *testing.T) {
	markers := testContextOptions().EndMarkers
	cases := map[string]string{
		"Cells divide.\n  Exercises\n1. Name a cell.":       "Cells divide.\n",
		"Cells divide.\n## Review   Questions\nWhy?":        "Cells divide.\n",
		"Cells divide.\n5.3 Exercises\nDraw one.":           "Cells divide.\n",
		"Cells divide.\nExercised muscles grow.":            "Cells divide.\nExercised muscles grow.",
		"Cells divide.\nReferences:\n[1] Alberts, Biology.": "Cells divide.\n",
	}
	for in, want := range cases {
		assert.Equal(t, want, cutAtMarker(in, markers), in)
	}
	assert.Equal(t, "untouched", cutAtMarker("untouched", nil))
	assert.Equal(t, "untouched", cutAtMarker("untouched", []string{" ", ""}))
}

func TestRetrieve_RequiresOwnerAndDocument(t *testing.T) {
	h := newHarness(t, defaultLimits())
	ctx := context.Background()

	_, err := h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: "", DocumentID: "bio.pdf", Query: "x"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: "u1", DocumentID: "", Query: "x"})
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = h.retriever.Retrieve(ctx, RetrieveInput{OwnerID: "u1", DocumentID: "bio.pdf", Query: "  "})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Zero(t, h.store.queryCount())
}

func TestRetrieve_DimensionMismatchIsNotSwallowed(t *testing.T) {
	h := newHarness(t, defaultLimits())
	r := NewRetriever(h.embedder, h.store, h.embedder.dim+3, 5, RetryPolicy{Attempts: 1}, logger.Nop())

	_, err := r.Retrieve(context.Background(), RetrieveInput{OwnerID: "u1", DocumentID: "bio.pdf", Query: "sunlight"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Zero(t, h.store.queryCount())
}

func TestRetrieve_EmbedderDimensionErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.embedder.fail = func([]string) error {
		return fmt.Errorf("%w: got 3, want 4", ai.ErrDimensionMismatch)
	}

	_, err := h.retriever.Retrieve(context.Background(), RetrieveInput{OwnerID: "u1", DocumentID: "bio.pdf", Query: "sunlight"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.False(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Len(t, h.embedder.Queries(), 1)
	assert.Zero(t, h.store.queryCount())
}

func TestRetrieve_StoreDimensionErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.store.queryErr = fmt.Errorf("%w: query has 4, collection expects 8", vectorstore.ErrDimensionMismatch)

	_, err := h.retriever.Retrieve(context.Background(), RetrieveInput{OwnerID: "u1", DocumentID: "bio.pdf", Query: "sunlight"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.False(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.Equal(t, 1, h.store.queryCount())
}

func TestRetrieve_EmbedderOutageIsUpstream(t *testing.T) {
	h := newHarness(t, defaultLimits())
	h.embedder.fail = func([]string) error { return errFakeUpstream }

	_, err := h.retriever.Retrieve(context.Background(), RetrieveInput{OwnerID: "u1", DocumentID: "bio.pdf", Query: "sunlight"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
	assert.True(t, errors.Is(err, errFakeUpstream))
	assert.Len(t, h.embedder.Queries(), 2)
}
