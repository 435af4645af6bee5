package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"docstore/internal/model"
	"docstore/internal/service"
)

// HealthCheck reports whether the database dependency is reachable.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a plain 200 for orchestrator liveness checks.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadDocument accepts a multipart form with the file under the "document"
// field plus optional metadata fields (title, description, type, projectId,
// tags, isPublic). The uploader identity comes from the x-user-id header.
func UploadDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("document")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "document file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		in := service.UploadInput{
			FileName:    fh.Filename,
			ContentType: ct,
			Size:        fh.Size,
			Title:       c.FormValue("title"),
			Description: c.FormValue("description"),
			Type:        model.DocumentType(c.FormValue("type")),
			ProjectID:   c.FormValue("projectId"),
			Tags:        splitTags(c.FormValue("tags")),
			UploadedBy:  c.Get("x-user-id"),
		}

		doc, err := svc.Upload(c.UserContext(), f, in)
		if err != nil {
			// Validation rejections are all 400: the request was understood
			// and refused before any storage write.
			switch {
			case errors.Is(err, service.ErrFileTooLarge):
				return writeError(c, fiber.StatusBadRequest, "file exceeds the maximum upload size")
			case errors.Is(err, service.ErrUnsupportedType):
				return writeError(c, fiber.StatusBadRequest, "only image and PDF files are accepted")
			case errors.Is(err, service.ErrInvalidDocType):
				return writeError(c, fiber.StatusBadRequest, "invalid document type")
			default:
				return writeError(c, fiber.StatusInternalServerError, "internal server error")
			}
		}
		return c.Status(fiber.StatusCreated).JSON(successPayload{
			Success: true,
			Message: "document uploaded",
			Data:    doc,
		})
	}
}

// DownloadDocument streams the stored file back to the caller. Headers carry
// the original content type and a filename for the browser; the body is read
// from storage chunk by chunk, never buffered whole.
func DownloadDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			// An id that cannot be a document id names no document, so it is
			// reported the same way as a well-formed id nobody ever used.
			return writeError(c, fiber.StatusNotFound, "document not found")
		}

		res, err := svc.Download(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				return writeError(c, fiber.StatusNotFound, "document not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "internal server error")
		}

		c.Set(fiber.HeaderContentType, res.Info.ContentType)
		c.Set(fiber.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", res.Document.FileName))

		// SendStream sets Content-Length and closes the body when the
		// transfer ends. A mid-stream failure aborts the connection, which
		// is the only honest signal once the status line is out.
		body := &loggedStream{r: res.Body, docID: res.Document.ID}
		return c.SendStream(body, streamSize(res.Info.Length))
	}
}

// GetDocument returns a document's metadata by ID.
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusNotFound, "document not found")
		}
		doc, err := svc.Get(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
				return writeError(c, fiber.StatusNotFound, "document not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "internal server error")
		}
		return c.JSON(doc)
	}
}

// ListDocuments returns paginated documents, optionally filtered by the
// project_id query parameter.
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "10"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid offset")
		}
		projectID := c.Query("project_id")
		if projectID != "" {
			if _, err := uuid.Parse(projectID); err != nil {
				return writeError(c, fiber.StatusBadRequest, "invalid project_id")
			}
		}

		res, err := svc.List(c.UserContext(), limit, offset, projectID)
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "internal server error")
		}
		return c.JSON(res)
	}
}

type updateRequest struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Type        *model.DocumentType `json:"type"`
	ProjectID   *string             `json:"projectId"`
	Tags        *[]string           `json:"tags"`
	IsPublic    *bool               `json:"isPublic"`
}

// UpdateDocument patches the mutable fields of a document. Absent JSON
// fields are left unchanged.
func UpdateDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusNotFound, "document not found")
		}

		var req updateRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid request body")
		}

		doc, err := svc.Update(c.UserContext(), id, service.UpdateInput{
			Title:       req.Title,
			Description: req.Description,
			Type:        req.Type,
			ProjectID:   req.ProjectID,
			Tags:        req.Tags,
			IsPublic:    req.IsPublic,
		})
		if err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				return writeError(c, fiber.StatusNotFound, "document not found")
			case errors.Is(err, service.ErrInvalidDocType):
				return writeError(c, fiber.StatusBadRequest, "invalid document type")
			default:
				return writeError(c, fiber.StatusInternalServerError, "internal server error")
			}
		}
		return c.JSON(doc)
	}
}

// DeleteDocument removes a document, its blob record, and all stored chunks.
func DeleteDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusNotFound, "document not found")
		}
		if err := svc.Delete(c.UserContext(), id); err != nil {
			if errors.Is(err, service.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
				return writeError(c, fiber.StatusNotFound, "document not found")
			}
			return writeError(c, fiber.StatusInternalServerError, "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// streamSize narrows a blob length to the int SendStream expects. A length
// that does not fit (32-bit platforms with a very large configured upload
// cap) falls back to -1, which streams with chunked encoding instead of a
// truncated Content-Length.
func streamSize(n int64) int {
	if n > math.MaxInt {
		return -1
	}
	return int(n)
}

// splitTags turns a comma-separated form value into a tag slice.
func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// loggedStream leaves an operational trail when a download fails after the
// response status has already been written.
type loggedStream struct {
	r      io.ReadCloser
	docID  string
	logged bool
}

func (s *loggedStream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF && !s.logged {
		s.logged = true
		entry, _ := json.Marshal(map[string]any{
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
			"level":       "error",
			"event":       "download_stream_failed",
			"document_id": s.docID,
			"error":       err.Error(),
		})
		log.SetFlags(0)
		log.Println(string(entry))
	}
	return n, err
}

func (s *loggedStream) Close() error {
	return s.r.Close()
}
