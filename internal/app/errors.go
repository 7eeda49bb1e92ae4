package app

import (
	"errors"
	"fmt"

	"studymate/internal/ai"
	"studymate/internal/vectorstore"
)

var (
	ErrValidation          = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrPartialIngestion    = errors.New("partial ingestion")
	ErrDimensionMismatch   = ai.ErrDimensionMismatch

	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
)

// QuotaExceededError carries the counts a client needs to explain the refusal.
type QuotaExceededError struct {
	Feature   Feature
	Used      int
	Limit     int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: used %d of %d, requested %d", e.Feature, e.Used, e.Limit, e.Requested)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// PartialIngestionError is returned alongside a usable IngestResult when some
// embedding batches were skipped.
type PartialIngestionError struct {
	Failed       int
	Total        int
	FailedChunks []int
}

func (e *PartialIngestionError) Error() string {
	return fmt.Sprintf("partial ingestion: %d of %d chunks failed", e.Failed, e.Total)
}

func (e *PartialIngestionError) Is(target error) bool {
	return target == ErrPartialIngestion
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// dimensionMismatch reports whether err is a vector shape mismatch from the
// embedder or the store. Retrying never fixes one.
func dimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) || errors.Is(err, vectorstore.ErrDimensionMismatch)
}

// asDimensionMismatch makes store mismatches match ErrDimensionMismatch too.
func asDimensionMismatch(err error) error {
	if errors.Is(err, ErrDimensionMismatch) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDimensionMismatch, err)
}

func upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}
