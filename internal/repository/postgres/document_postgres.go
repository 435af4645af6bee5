package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docstore/internal/model"
	"docstore/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `id, title, description, doc_type, file_name, blob_id, project_id, uploaded_by, tags, is_public, created_at, updated_at`

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		INSERT INTO documents (id, title, description, doc_type, file_name, blob_id, project_id, uploaded_by, tags, is_public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + documentColumns
	tags, err := marshalTags(doc.Tags)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.Title,
		doc.Description,
		string(doc.Type),
		doc.FileName,
		doc.BlobID,
		nullableID(doc.ProjectID),
		doc.UploadedBy,
		tags,
		doc.IsPublic,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	return scanDocument(row)
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1
	`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
// An empty ProjectID matches all documents.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents WHERE ($1 = '' OR project_id = $1::uuid)`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, pq.ProjectID).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE ($1 = '' OR project_id = $1::uuid)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.ProjectID, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocumentRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// Update overwrites the mutable fields of a document row.
// The binary reference (blob_id, file_name) and audit fields stay untouched.
func (r *DocumentPostgres) Update(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		UPDATE documents
		SET title = $2, description = $3, doc_type = $4, project_id = $5, tags = $6, is_public = $7, updated_at = $8
		WHERE id = $1
		RETURNING ` + documentColumns
	tags, err := marshalTags(doc.Tags)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.Title,
		doc.Description,
		string(doc.Type),
		nullableID(doc.ProjectID),
		tags,
		doc.IsPublic,
		doc.UpdatedAt,
	)
	return scanDocument(row)
}

// Delete removes a document by ID. It does not return an error if the row does not exist.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d         model.Document
		docType   string
		projectID sql.NullString
		tags      []byte
	)
	if err := row.Scan(
		&d.ID,
		&d.Title,
		&d.Description,
		&docType,
		&d.FileName,
		&d.BlobID,
		&projectID,
		&d.UploadedBy,
		&tags,
		&d.IsPublic,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Type = model.DocumentType(docType)
	if projectID.Valid {
		d.ProjectID = projectID.String
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &d.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return &d, nil
}

func scanDocumentRows(rows *sql.Rows) (*model.Document, error) {
	return scanDocument(rows)
}

// marshalTags encodes the tag list for the JSONB column; nil becomes [].
func marshalTags(tags []string) ([]byte, error) {
	if tags == nil {
		tags = []string{}
	}
	return json.Marshal(tags)
}

// nullableID maps an empty string to SQL NULL for optional UUID columns.
func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
