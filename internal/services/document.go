package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nebulus/gantry/internal/data/repos"
	domainmemory "github.com/nebulus/gantry/internal/domain/memory"
	"github.com/nebulus/gantry/internal/domain/vault"
	"github.com/nebulus/gantry/internal/ingest"
	"github.com/nebulus/gantry/internal/jobs"
	"github.com/nebulus/gantry/internal/platform/apierr"
	"github.com/nebulus/gantry/internal/platform/dbctx"
	"github.com/nebulus/gantry/internal/platform/envutil"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/platform/vectorindex"
	"github.com/nebulus/gantry/internal/retrieval"
)

const maxUploadBytes = 32 << 20

type DocumentService interface {
	// Upload stores the raw file, creates a processing row and queues
	// extraction. The returned document is still status processing.
	Upload(ctx context.Context, userID uuid.UUID, filename, contentType string, data []byte) (*vault.Document, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*vault.Document, error)
	List(ctx context.Context, userID uuid.UUID, limit int) ([]*vault.Document, error)
	// Delete removes the document, its chunks and its index vectors.
	Delete(ctx context.Context, userID, id uuid.UUID) error
	// Search runs retrieval restricted to a user's document chunks.
	Search(ctx context.Context, userID uuid.UUID, query string, topK int) []retrieval.Hit
}

type documentService struct {
	db        *gorm.DB
	documents repos.DocumentRepo
	chunks    repos.ChunkRepo
	index     vectorindex.Store
	retriever retrieval.Retriever
	queue     jobs.Queue
	uploadDir string
	log       *logger.Logger
}

func NewDocumentService(
	db *gorm.DB,
	documents repos.DocumentRepo,
	chunks repos.ChunkRepo,
	index vectorindex.Store,
	retriever retrieval.Retriever,
	queue jobs.Queue,
	log *logger.Logger,
) DocumentService {
	return &documentService{
		db:        db,
		documents: documents,
		chunks:    chunks,
		index:     index,
		retriever: retriever,
		queue:     queue,
		uploadDir: envutil.Str("UPLOAD_DIR", "uploads"),
		log:       log.With("service", "DocumentService"),
	}
}

func (s *documentService) Upload(ctx context.Context, userID uuid.UUID, filename, contentType string, data []byte) (*vault.Document, error) {
	if userID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "UNAUTHENTICATED", fmt.Errorf("missing user"))
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return nil, apierr.New(http.StatusBadRequest, "INVALID_FILENAME", fmt.Errorf("missing filename"))
	}
	if len(data) == 0 {
		return nil, apierr.New(http.StatusBadRequest, "EMPTY_FILE", fmt.Errorf("file is empty"))
	}
	if len(data) > maxUploadBytes {
		return nil, apierr.New(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", fmt.Errorf("file exceeds %d bytes", maxUploadBytes))
	}

	id := uuid.New()
	dir := filepath.Join(s.uploadDir, userID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "STORAGE_ERROR", err)
	}
	path := filepath.Join(dir, id.String()+filepath.Ext(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "STORAGE_ERROR", err)
	}

	meta, _ := json.Marshal(map[string]any{"path": path})
	rows, err := s.documents.Create(dbctx.Context{Ctx: ctx}, []*vault.Document{{
		ID:          id,
		UserID:      userID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Status:      vault.DocumentStatusProcessing,
		Metadata:    datatypes.JSON(meta),
	}})
	if err != nil {
		_ = os.Remove(path)
		return nil, apierr.DB(err)
	}
	doc := rows[0]

	if err := s.queue.Enqueue(ctx, jobs.Job{
		Kind:       jobs.KindProcessDocument,
		UserID:     userID,
		DocumentID: doc.ID,
	}); err != nil {
		s.log.Error("document job enqueue failed", "document_id", doc.ID.String(), "error", err)
		_ = s.documents.UpdateFields(dbctx.Context{Ctx: ctx}, doc.ID, map[string]interface{}{
			"status": vault.DocumentStatusError,
			"error":  "failed to queue processing",
		})
		return nil, apierr.New(http.StatusInternalServerError, "QUEUE_ERROR", err)
	}
	return doc, nil
}

func (s *documentService) Get(ctx context.Context, userID, id uuid.UUID) (*vault.Document, error) {
	doc, err := s.documents.GetByID(dbctx.Context{Ctx: ctx}, userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apierr.NotFound(err)
		}
		return nil, apierr.DB(err)
	}
	return doc, nil
}

func (s *documentService) List(ctx context.Context, userID uuid.UUID, limit int) ([]*vault.Document, error) {
	rows, err := s.documents.ListByUser(dbctx.Context{Ctx: ctx}, userID, limit)
	if err != nil {
		return nil, apierr.DB(err)
	}
	return rows, nil
}

func (s *documentService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	doc, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	dbc := dbctx.Context{Ctx: ctx}
	chunks, err := s.chunks.ListBySource(dbc, userID, domainmemory.SourceKindDocument, doc.ID)
	if err != nil {
		return apierr.DB(err)
	}
	if len(chunks) > 0 {
		ids := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.VectorID)
		}
		if err := s.index.Delete(ctx, ingest.Namespace(userID), ids); err != nil {
			s.log.Warn("vector cleanup failed (continuing with delete)", "document_id", doc.ID.String(), "error", err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.chunks.DeleteByDocument(txc, doc.ID); err != nil {
			return err
		}
		return s.documents.Delete(txc, userID, doc.ID)
	})
	if err != nil {
		return apierr.DB(err)
	}

	if path := storedPath(doc); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("upload file cleanup failed", "document_id", doc.ID.String(), "error", err)
		}
	}
	return nil
}

func (s *documentService) Search(ctx context.Context, userID uuid.UUID, query string, topK int) []retrieval.Hit {
	opts := retrieval.DefaultOptions()
	if topK > 0 {
		opts.TopK = topK
	}
	opts.Filter = map[string]any{"source_kind": domainmemory.SourceKindDocument}
	return s.retriever.Retrieve(ctx, userID, query, opts)
}

func storedPath(doc *vault.Document) string {
	var meta struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(doc.Metadata, &meta); err != nil {
		return ""
	}
	return meta.Path
}
