package model

import "time"

// DocumentType classifies a stored document.
type DocumentType string

const (
	TypeReport      DocumentType = "report"
	TypeManual      DocumentType = "manual"
	TypePolicy      DocumentType = "policy"
	TypeCertificate DocumentType = "certificate"
	TypeImage       DocumentType = "image"
	TypeOther       DocumentType = "other"
)

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case TypeReport, TypeManual, TypePolicy, TypeCertificate, TypeImage, TypeOther:
		return true
	}
	return false
}

// Document is the metadata record for one uploaded file.
// It references exactly one finalized blob; the binary content is immutable,
// only the descriptive fields may change after creation.
// This is a pure domain model with no database-specific dependencies or tags.
type Document struct {
	ID          string       `json:"_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Type        DocumentType `json:"type"`
	FileName    string       `json:"fileName"`
	BlobID      string       `json:"blobId"`
	ProjectID   string       `json:"projectId,omitempty"`
	UploadedBy  string       `json:"uploadedBy"`
	Tags        []string     `json:"tags"`
	IsPublic    bool         `json:"isPublic"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
