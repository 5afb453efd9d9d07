package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/services"
)

type DocumentHandler struct {
	log  *logger.Logger
	docs services.DocumentService
}

func NewDocumentHandler(log *logger.Logger, docs services.DocumentService) *DocumentHandler {
	return &DocumentHandler{
		log:  log.With("handler", "DocumentHandler"),
		docs: docs,
	}
}

// POST /api/documents (multipart, field "file")
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID := currentUserID(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "MISSING_FILE", err)
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "UNREADABLE_FILE", err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "UNREADABLE_FILE", err)
		return
	}

	doc, err := h.docs.Upload(c.Request.Context(), userID, fileHeader.Filename, fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, doc)
}

// GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	userID := currentUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rows, err := h.docs.List(c.Request.Context(), userID, limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"documents": rows})
}

// GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	doc, err := h.docs.Get(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, doc)
}

// DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.docs.Delete(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/documents/search?q=...&top_k=5
func (h *DocumentHandler) Search(c *gin.Context) {
	userID := currentUserID(c)
	query := c.Query("q")
	if query == "" {
		RespondError(c, http.StatusBadRequest, "MISSING_QUERY", nil)
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("top_k", "5"))

	hits := h.docs.Search(c.Request.Context(), userID, query, topK)
	results := make([]gin.H, 0, len(hits))
	for _, hit := range hits {
		results = append(results, gin.H{
			"document_id": hit.Chunk.DocumentID,
			"chunk_index": hit.Chunk.ChunkIndex,
			"text":        hit.Chunk.Text,
			"similarity":  hit.Similarity,
			"score":       hit.Score,
		})
	}
	RespondOK(c, gin.H{"results": results})
}
