package model

import "time"

// Document is the catalog entry written once a document's chunks are in the
// vector store. (OwnerID, DocumentID) is unique.
type Document struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	OwnerID      string    `gorm:"size:64;not null;uniqueIndex:idx_document_owner_doc" json:"owner_id"`
	DocumentID   string    `gorm:"size:255;not null;uniqueIndex:idx_document_owner_doc" json:"document_id"`
	ChunkCount   int       `gorm:"not null" json:"chunk_count"`
	FailedChunks int       `gorm:"not null;default:0" json:"failed_chunks"`
	CreatedAt    time.Time `json:"created_at"`
}
