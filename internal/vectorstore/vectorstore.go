// Package vectorstore holds the chunk record types shared by ingestion and
// retrieval, and the Milvus-backed store.
package vectorstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFilterIncomplete  = errors.New("vector filter requires owner_id and document_id")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Record is one chunk vector keyed by RecordID(owner, document, index).
type Record struct {
	ID         string
	OwnerID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Vector     []float32
}

// Match is a ranked query hit.
type Match struct {
	ID         string
	OwnerID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Score      float32
}

// Filter scopes every read and delete to one owner's document. The zero value is
// invalid; build it with NewFilter.
type Filter struct {
	ownerID    string
	documentID string
}

func NewFilter(ownerID, documentID string) (Filter, error) {
	ownerID = strings.TrimSpace(ownerID)
	documentID = strings.TrimSpace(documentID)
	if ownerID == "" || documentID == "" {
		return Filter{}, ErrFilterIncomplete
	}
	return Filter{ownerID: ownerID, documentID: documentID}, nil
}

func (f Filter) OwnerID() string    { return f.ownerID }
func (f Filter) DocumentID() string { return f.documentID }

func (f Filter) Valid() bool {
	return f.ownerID != "" && f.documentID != ""
}

// Matches reports whether a record with the given identity falls inside the filter.
func (f Filter) Matches(ownerID, documentID string) bool {
	return f.Valid() && f.ownerID == ownerID && f.documentID == documentID
}

// Expr renders the filter as a Milvus boolean expression.
func (f Filter) Expr() (string, error) {
	if !f.Valid() {
		return "", ErrFilterIncomplete
	}
	return fmt.Sprintf(`owner_id == "%s" && document_id == "%s"`, escape(f.ownerID), escape(f.documentID)), nil
}

func RecordID(ownerID, documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s:%s:%d", ownerID, documentID, chunkIndex)
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
