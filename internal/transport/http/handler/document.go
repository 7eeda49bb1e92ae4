package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studymate/internal/app"
	"studymate/internal/pkg/docparse"
	"studymate/internal/progress"
	"studymate/internal/transport/http/response"
)

type DocumentHandler struct {
	ingestService   *app.IngestService
	documentService *app.DocumentService
	hub             *progress.Hub
	maxUploadBytes  int64
}

func NewDocumentHandler(
	ingestService *app.IngestService,
	documentService *app.DocumentService,
	hub *progress.Hub,
	maxUploadBytes int64,
) *DocumentHandler {
	return &DocumentHandler{
		ingestService:   ingestService,
		documentService: documentService,
		hub:             hub,
		maxUploadBytes:  maxUploadBytes,
	}
}

// Upload ingests a multipart "file". The form field "document_id" overrides
// the uploaded file name as the document id.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file (form field 'file')")
		return
	}
	if file.Size > h.maxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to open uploaded file")
		return
	}
	defer f.Close()

	content, err := docparse.ReadAll(f, h.maxUploadBytes)
	if err != nil {
		if errors.Is(err, docparse.ErrTooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read uploaded file")
		return
	}

	documentID := c.PostForm("document_id")
	if documentID == "" {
		documentID = file.Filename
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), app.IngestInput{
		OwnerID:    userID,
		DocumentID: documentID,
		Content:    content,
	})
	var partial *app.PartialIngestionError
	if errors.As(err, &partial) && result != nil {
		response.ErrorWithData(c, http.StatusMultiStatus, response.CodePartialIngestion, partial.Error(), result)
		return
	}
	if err != nil {
		writeError(c, err, "ingest document failed")
		return
	}

	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	docs, err := h.documentService.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	documentID := c.Param("id")
	if err := h.documentService.Delete(c.Request.Context(), userID, documentID); err != nil {
		if errors.Is(err, app.ErrNotFound) {
			response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
			return
		}
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"document_id": documentID, "deleted": true})
}

// Progress streams ingestion progress for the caller as server-sent events.
func (h *DocumentHandler) Progress(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	client := h.hub.Subscribe(userID)
	h.hub.Serve(c.Writer, c.Request, client)
}
