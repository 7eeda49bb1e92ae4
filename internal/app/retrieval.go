package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"studymate/internal/pkg/retry"
	"studymate/internal/platform/logger"
	"studymate/internal/vectorstore"
)

// RetryPolicy bounds retries of upstream calls with a fixed delay.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	return retry.Do(ctx, attempts, p.Delay, func(ctx context.Context) error {
		err := op(ctx)
		if dimensionMismatch(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

type Retriever struct {
	embedder  Embedder
	store     VectorStore
	dimension int
	topK      int
	retry     RetryPolicy
	log       *logger.Logger
}

func NewRetriever(embedder Embedder, store VectorStore, dimension, topK int, policy RetryPolicy, log *logger.Logger) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{
		embedder:  embedder,
		store:     store,
		dimension: dimension,
		topK:      topK,
		retry:     policy,
		log:       log.With("service", "retriever"),
	}
}

type RetrieveInput struct {
	OwnerID    string
	DocumentID string
	Query      string
	TopK       int
}

// Retrieve returns chunk texts of one owner's document, most similar first.
func (r *Retriever) Retrieve(ctx context.Context, in RetrieveInput) ([]string, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, validationf("query is empty")
	}
	filter, err := vectorstore.NewFilter(in.OwnerID, in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	topK := in.TopK
	if topK <= 0 {
		topK = r.topK
	}

	var vec []float32
	err = r.retry.do(ctx, func(ctx context.Context) error {
		var embedErr error
		vec, embedErr = r.embedder.EmbedText(ctx, query)
		return embedErr
	})
	if err != nil {
		if dimensionMismatch(err) {
			return nil, asDimensionMismatch(err)
		}
		return nil, upstream("embed query", err)
	}
	if r.dimension > 0 && len(vec) != r.dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, store expects %d", ErrDimensionMismatch, len(vec), r.dimension)
	}

	var matches []vectorstore.Match
	err = r.retry.do(ctx, func(ctx context.Context) error {
		var queryErr error
		matches, queryErr = r.store.Query(ctx, vec, filter, topK)
		return queryErr
	})
	if err != nil {
		if dimensionMismatch(err) {
			return nil, asDimensionMismatch(err)
		}
		return nil, upstream("vector query", err)
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if !filter.Matches(m.OwnerID, m.DocumentID) {
			r.log.Error("vector store returned a match outside the filter", "owner_id", in.OwnerID, "match_id", m.ID)
			continue
		}
		texts = append(texts, m.Text)
	}
	return texts, nil
}

type ContextOptions struct {
	MaxChars       int
	EndMarkers     []string
	TruncationMark string
}

// AssembleContext joins ranked chunks with blank lines. Each chunk is cut at
// the first case-insensitive end marker, and the whole text is capped at
// MaxChars runes, ending with TruncationMark when the cap applies.
func AssembleContext(chunks []string, opts ContextOptions) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		chunk = strings.TrimSpace(cutAtMarker(chunk, opts.EndMarkers))
		if chunk != "" {
			parts = append(parts, chunk)
		}
	}
	text := strings.Join(parts, "\n\n")
	if opts.MaxChars <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= opts.MaxChars {
		return text
	}
	mark := []rune(opts.TruncationMark)
	if len(mark) >= opts.MaxChars {
		return string(mark[:opts.MaxChars])
	}
	return string(runes[:opts.MaxChars-len(mark)]) + string(mark)
}

// cutAtMarker drops everything from the first line that opens with an end
// marker. A marker counts only at the start of a line, after optional list or
// heading punctuation, and only as a whole word.
func cutAtMarker(text string, markers []string) string {
	re := markerPattern(markers)
	if re == nil {
		return text
	}
	if loc := re.FindStringIndex(text); loc != nil {
		return text[:loc[0]]
	}
	return text
}

func markerPattern(markers []string) *regexp.Regexp {
	alts := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		alt := strings.Join(strings.Fields(regexp.QuoteMeta(m)), `[ \t]+`)
		if r, _ := utf8.DecodeLastRuneInString(m); unicode.IsLetter(r) || unicode.IsDigit(r) {
			alt += `\b`
		}
		alts = append(alts, alt)
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?im)^[ \t#*>\-\d.)]*(?:` + strings.Join(alts, "|") + `)`)
}
