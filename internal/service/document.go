package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"docstore/internal/model"
	"docstore/internal/repository"
	"docstore/internal/storage"
)

var (
	ErrIDRequired      = errors.New("id is required")
	ErrNotFound        = errors.New("document not found")
	ErrReaderNil       = errors.New("reader is nil")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrInvalidDocType  = errors.New("invalid document type")
)

// AllowedContentType reports whether ct may be uploaded.
// The allow-list is any image type plus PDF.
func AllowedContentType(ct string) bool {
	return strings.HasPrefix(ct, "image/") || ct == "application/pdf"
}

// UploadInput carries the declared attributes of an inbound file.
// Identity (UploadedBy) is extracted by the boundary layer upstream.
type UploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	Title       string
	Description string
	Type        model.DocumentType
	ProjectID   string
	Tags        []string
	UploadedBy  string
}

// UpdateInput holds the mutable document fields; nil means "leave unchanged".
type UpdateInput struct {
	Title       *string
	Description *string
	Type        *model.DocumentType
	ProjectID   *string
	Tags        *[]string
	IsPublic    *bool
}

// Download bundles everything the transport layer needs to stream a file:
// the metadata record, the blob attributes for the response headers, and the
// lazy body. The caller owns closing Body.
type Download struct {
	Document *model.Document
	Info     storage.BlobInfo
	Body     io.ReadCloser
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Upload validates the inbound file, streams it into the blob store, and
	// persists the metadata record only after the blob is finalized. On any
	// failure no document record exists for the attempt.
	Upload(ctx context.Context, r io.Reader, in UploadInput) (*model.Document, error)

	// Download resolves a document and opens its blob as a lazy byte stream.
	Download(ctx context.Context, id string) (*Download, error)

	// Get returns a single document's metadata by its ID.
	Get(ctx context.Context, id string) (*model.Document, error)

	// List returns documents using limit/offset and a total count, optionally
	// filtered to one project.
	List(ctx context.Context, limit, offset int, projectID string) (*DocumentListResult, error)

	// Update changes the non-binary fields of a document. The blob reference
	// and file name are immutable after creation.
	Update(ctx context.Context, id string, in UpdateInput) (*model.Document, error)

	// Delete removes the document record, the blob record, and all chunks.
	Delete(ctx context.Context, id string) error
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store   storage.BlobStore
	repo    repository.DocumentRepository
	maxSize int64
}

// NewDocumentService constructs a new DocumentService.
// maxSize is the upload size cap in bytes; zero or negative applies no cap.
func NewDocumentService(store storage.BlobStore, repo repository.DocumentRepository, maxSize int64) DocumentService {
	return &documentService{store: store, repo: repo, maxSize: maxSize}
}

func (s *documentService) Upload(ctx context.Context, r io.Reader, in UploadInput) (*model.Document, error) {
	if r == nil {
		return nil, ErrReaderNil
	}
	// Validation happens strictly before any storage write, so rejected
	// uploads leave zero chunks and zero records behind.
	if s.maxSize > 0 && in.Size > s.maxSize {
		return nil, fmt.Errorf("%d bytes: %w", in.Size, ErrFileTooLarge)
	}
	if !AllowedContentType(in.ContentType) {
		return nil, fmt.Errorf("%q: %w", in.ContentType, ErrUnsupportedType)
	}
	docType := in.Type
	if docType == "" {
		docType = model.TypeOther
	}
	if !docType.Valid() {
		return nil, fmt.Errorf("%q: %w", in.Type, ErrInvalidDocType)
	}

	info, err := s.store.Create(ctx, r, in.ContentType)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	title := in.Title
	if title == "" {
		title = in.FileName
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC()
	doc := &model.Document{
		ID:          uuid.New().String(),
		Title:       title,
		Description: in.Description,
		Type:        docType,
		FileName:    in.FileName,
		BlobID:      info.ID,
		ProjectID:   in.ProjectID,
		UploadedBy:  in.UploadedBy,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// Rollback: remove the finalized blob so the attempt leaves nothing.
		if delErr := s.store.Delete(ctx, info.ID); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return stored, nil
}

func (s *documentService) Download(ctx context.Context, id string) (*Download, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	body, info, err := s.store.Open(ctx, doc.BlobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// A document pointing at a missing blob is a data-integrity
			// anomaly, not a normal miss. Surface it as not-found but leave
			// an operational trail.
			logIntegrityFault(doc.ID, doc.BlobID)
			return nil, fmt.Errorf("blob %s missing for document %s: %w", doc.BlobID, doc.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}

	return &Download{Document: doc, Info: info, Body: body}, nil
}

// Get returns a document by ID.
func (s *documentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int, projectID string) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset, ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

func (s *documentService) Update(ctx context.Context, id string, in UpdateInput) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if in.Title != nil {
		doc.Title = *in.Title
	}
	if in.Description != nil {
		doc.Description = *in.Description
	}
	if in.Type != nil {
		if !in.Type.Valid() {
			return nil, fmt.Errorf("%q: %w", *in.Type, ErrInvalidDocType)
		}
		doc.Type = *in.Type
	}
	if in.ProjectID != nil {
		doc.ProjectID = *in.ProjectID
	}
	if in.Tags != nil {
		doc.Tags = *in.Tags
	}
	if in.IsPublic != nil {
		doc.IsPublic = *in.IsPublic
	}
	doc.UpdatedAt = time.Now().UTC()

	return s.repo.Update(ctx, doc)
}

// Delete removes the blob (chunks first, then the finalize record), then the
// document record. A crash in between leaves a document whose download
// reports an integrity fault; re-issuing the delete completes the job.
func (s *documentService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if err := s.store.Delete(ctx, doc.BlobID); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

func logIntegrityFault(docID, blobID string) {
	entry := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"level":       "error",
		"component":   "document_service",
		"event":       "blob_integrity_fault",
		"msg":         "document references a blob with no finalize record",
		"document_id": docID,
		"blob_id":     blobID,
	}
	if b, err := json.Marshal(entry); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
