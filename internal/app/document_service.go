package app

import (
	"context"
	"fmt"
	"strings"

	"studymate/internal/model"
	"studymate/internal/platform/logger"
	"studymate/internal/repository"
	"studymate/internal/vectorstore"
)

type DocumentService struct {
	docs     *repository.DocumentRepository
	turns    *repository.ChatTurnRepository
	results  *repository.QuizResultRepository
	mistakes *repository.MistakeRepository
	store    VectorStore
	history  HistoryCache
	log      *logger.Logger
}

func NewDocumentService(
	docs *repository.DocumentRepository,
	turns *repository.ChatTurnRepository,
	results *repository.QuizResultRepository,
	mistakes *repository.MistakeRepository,
	store VectorStore,
	history HistoryCache,
	log *logger.Logger,
) *DocumentService {
	return &DocumentService{
		docs:     docs,
		turns:    turns,
		results:  results,
		mistakes: mistakes,
		store:    store,
		history:  history,
		log:      log.With("service", "document"),
	}
}

func (s *DocumentService) List(ctx context.Context, ownerID string) ([]model.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, validationf("owner id is required")
	}
	return s.docs.ListByOwner(ctx, ownerID)
}

// Delete removes a document's vectors first, then everything keyed to it in
// the relational store. The catalog row goes last so a failed delete can be
// retried.
func (s *DocumentService) Delete(ctx context.Context, ownerID, documentID string) error {
	documentID = NormalizeDocumentID(documentID)
	filter, err := vectorstore.NewFilter(strings.TrimSpace(ownerID), documentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	doc, err := s.docs.Get(ctx, filter.OwnerID(), filter.DocumentID())
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: document %q", ErrNotFound, documentID)
	}

	if err := s.store.Delete(ctx, filter); err != nil {
		return upstream("vector delete", err)
	}
	if err := s.turns.DeleteByDocument(ctx, filter.OwnerID(), filter.DocumentID()); err != nil {
		return err
	}
	if err := s.results.DeleteByDocument(ctx, filter.OwnerID(), filter.DocumentID()); err != nil {
		return err
	}
	if err := s.mistakes.DeleteByDocument(ctx, filter.OwnerID(), filter.DocumentID()); err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, filter.OwnerID(), filter.DocumentID()); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Delete(ctx, filter.OwnerID(), filter.DocumentID()); err != nil {
			s.log.Warn("drop history cache failed", "owner_id", filter.OwnerID(), "document_id", filter.DocumentID(), "err", err)
		}
	}
	s.log.Info("document deleted", "owner_id", filter.OwnerID(), "document_id", filter.DocumentID())
	return nil
}
