package repository

import (
	"context"

	"docstore/internal/model"
)

// DocumentRepository defines data access for document metadata using SQL
// queries only. No business logic here — strictly persistence operations.
type DocumentRepository interface {
	// Create inserts a new document record.
	// The caller provides required fields (e.g., ID, CreatedAt) according to
	// the database schema defaults. Returns the stored document.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// List returns a paginated list of documents and total rows count for the given filter.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)

	// Update overwrites the mutable (non-binary) fields of a document and
	// returns the stored record. Binary content fields never change here.
	Update(ctx context.Context, doc *model.Document) (*model.Document, error)

	// Delete removes a document by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id string) error
}

// PageQuery holds limit/offset pagination parameters plus an optional
// project filter.
type PageQuery struct {
	Limit     int
	Offset    int
	ProjectID string
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
