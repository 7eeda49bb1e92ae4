package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"studymate/internal/platform/logger"
)

const (
	fieldID         = "id"
	fieldOwnerID    = "owner_id"
	fieldDocumentID = "document_id"
	fieldChunkIndex = "chunk_index"
	fieldText       = "text"
	fieldEmbedding  = "embedding"
)

var outputFields = []string{fieldOwnerID, fieldDocumentID, fieldChunkIndex, fieldText}

// MilvusStore keeps every tenant's chunks in one shared collection; isolation
// comes from the owner/document filter on each call.
type MilvusStore struct {
	log        *logger.Logger
	client     *milvusclient.Client
	collection string
	dim        int
}

func NewMilvusStore(log *logger.Logger, client *milvusclient.Client, collection string, dim int) *MilvusStore {
	return &MilvusStore{
		log:        log.With("service", "MilvusStore", "collection", collection),
		client:     client,
		collection: collection,
		dim:        dim,
	}
}

// EnsureCollection creates, indexes and loads the collection when missing, and
// refuses to start when an existing collection has a different dimension.
func (s *MilvusStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("check collection existence failed: %w", err)
	}
	if exists {
		if err := s.checkDimension(ctx); err != nil {
			return err
		}
		return s.load(ctx)
	}

	schema := entity.NewSchema().
		WithName(s.collection).
		WithDescription("study document chunks").
		WithAutoID(false).
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(512).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(fieldOwnerID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
		WithField(entity.NewField().WithName(fieldDocumentID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(255)).
		WithField(entity.NewField().WithName(fieldChunkIndex).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.collection, schema)); err != nil {
		return fmt.Errorf("create collection failed: %w", err)
	}

	idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
	idxTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.collection, fieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("create index failed: %w", err)
	}
	if err := idxTask.Await(ctx); err != nil {
		return fmt.Errorf("wait for index creation failed: %w", err)
	}
	s.log.Info("collection created", "dim", s.dim)
	return s.load(ctx)
}

func (s *MilvusStore) checkDimension(ctx context.Context) error {
	coll, err := s.client.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("describe collection failed: %w", err)
	}
	for _, f := range coll.Schema.Fields {
		if f.Name != fieldEmbedding {
			continue
		}
		dim, err := strconv.Atoi(f.TypeParams["dim"])
		if err != nil {
			return fmt.Errorf("parse collection dimension failed: %w", err)
		}
		if dim != s.dim {
			return fmt.Errorf("%w: collection %s has %d, embedder produces %d", ErrDimensionMismatch, s.collection, dim, s.dim)
		}
		return nil
	}
	return fmt.Errorf("collection %s has no %s field", s.collection, fieldEmbedding)
}

func (s *MilvusStore) load(ctx context.Context) error {
	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.collection))
	if err != nil {
		return fmt.Errorf("load collection failed: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("wait for collection loading failed: %w", err)
	}
	return nil
}

func (s *MilvusStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]string, len(records))
	owners := make([]string, len(records))
	docs := make([]string, len(records))
	indexes := make([]int64, len(records))
	texts := make([]string, len(records))
	vectors := make([][]float32, len(records))
	for i, r := range records {
		if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: record %s has %d, collection expects %d", ErrDimensionMismatch, r.ID, len(r.Vector), s.dim)
		}
		ids[i] = r.ID
		owners[i] = r.OwnerID
		docs[i] = r.DocumentID
		indexes[i] = int64(r.ChunkIndex)
		texts[i] = r.Text
		vectors[i] = r.Vector
	}

	_, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(s.collection,
		column.NewColumnVarChar(fieldID, ids),
		column.NewColumnVarChar(fieldOwnerID, owners),
		column.NewColumnVarChar(fieldDocumentID, docs),
		column.NewColumnInt64(fieldChunkIndex, indexes),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnFloatVector(fieldEmbedding, s.dim, vectors),
	))
	if err != nil {
		return fmt.Errorf("upsert into milvus failed: %w", err)
	}
	return nil
}

func (s *MilvusStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error) {
	expr, err := filter.Expr()
	if err != nil {
		return nil, err
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d", ErrDimensionMismatch, len(vector), s.dim)
	}

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		s.collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(fieldEmbedding).
		WithFilter(expr).
		WithOutputFields(outputFields...).
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, fmt.Errorf("search milvus failed: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	matches := make([]Match, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		matches[i].Score = rs.Scores[i]
	}
	if ids, ok := rs.IDs.(*column.ColumnVarChar); ok {
		for i := 0; i < rs.ResultCount && i < ids.Len(); i++ {
			matches[i].ID = ids.Data()[i]
		}
	}
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			data := col.Data()
			for i := 0; i < rs.ResultCount && i < len(data); i++ {
				switch col.Name() {
				case fieldOwnerID:
					matches[i].OwnerID = data[i]
				case fieldDocumentID:
					matches[i].DocumentID = data[i]
				case fieldText:
					matches[i].Text = data[i]
				}
			}
		case *column.ColumnInt64:
			if col.Name() != fieldChunkIndex {
				continue
			}
			data := col.Data()
			for i := 0; i < rs.ResultCount && i < len(data); i++ {
				matches[i].ChunkIndex = int(data[i])
			}
		}
	}
	return matches, nil
}

func (s *MilvusStore) Delete(ctx context.Context, filter Filter) error {
	expr, err := filter.Expr()
	if err != nil {
		return err
	}
	if _, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(s.collection).WithExpr(expr)); err != nil {
		return fmt.Errorf("delete from milvus failed: %w", err)
	}
	return nil
}

// Ping reports whether milvus answers a metadata call.
func (s *MilvusStore) Ping(ctx context.Context) error {
	if _, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.collection)); err != nil {
		return fmt.Errorf("milvus ping failed: %w", err)
	}
	return nil
}

func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
