package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// DefaultChunkSize is the fixed chunk payload size used when none is configured.
const DefaultChunkSize = 255 << 10

// Postgres implements BlobStore and ChunkStore on top of two tables:
// blob_chunks holds the binary fragments, blobs holds the finalize records.
// It is safe for concurrent use by multiple goroutines; writes to a given
// blob ID only ever happen inside a single Create call.
type Postgres struct {
	db        *sql.DB
	chunkSize int
}

// NewPostgres creates a chunked blob store backed by the given database handle.
func NewPostgres(db *sql.DB, chunkSize int) *Postgres {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Postgres{db: db, chunkSize: chunkSize}
}

var (
	_ BlobStore  = (*Postgres)(nil)
	_ ChunkStore = (*Postgres)(nil)
)

// PutChunk stores one chunk row. The upsert makes retried writes of the same
// (blobID, seq) idempotent.
func (p *Postgres) PutChunk(ctx context.Context, blobID string, seq int, data []byte) error {
	const q = `
		INSERT INTO blob_chunks (blob_id, seq, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (blob_id, seq) DO UPDATE SET data = EXCLUDED.data
	`
	if _, err := p.db.ExecContext(ctx, q, blobID, seq, data); err != nil {
		return err
	}
	return nil
}

// Chunks returns a lazy iterator over the blob's chunk rows in sequence order.
// The rows cursor stays open until the iterator is closed, so chunks are only
// pulled from the database as the consumer drains them.
func (p *Postgres) Chunks(ctx context.Context, blobID string) (ChunkIterator, error) {
	const q = `
		SELECT seq, data
		FROM blob_chunks
		WHERE blob_id = $1
		ORDER BY seq ASC
	`
	rows, err := p.db.QueryContext(ctx, q, blobID)
	if err != nil {
		return nil, err
	}
	return &sqlChunkIterator{rows: rows}, nil
}

// DeleteChunks removes all chunk rows of a blob. Deleting zero rows is not an error.
func (p *Postgres) DeleteChunks(ctx context.Context, blobID string) error {
	const q = `DELETE FROM blob_chunks WHERE blob_id = $1`
	_, err := p.db.ExecContext(ctx, q, blobID)
	return err
}

// Create streams r into chunk rows and writes the finalize record last.
// The blob ID is only valid for reads once that final insert succeeds; on any
// failure the chunks written so far are removed so they cannot leak as orphans.
func (p *Postgres) Create(ctx context.Context, r io.Reader, contentType string) (BlobInfo, error) {
	if r == nil {
		return BlobInfo{}, errors.New("nil reader")
	}

	id := uuid.NewString()

	length, count, err := writeChunks(ctx, p, id, r, p.chunkSize)
	if err != nil {
		p.discardChunks(id)
		return BlobInfo{}, fmt.Errorf("create blob: %w", err)
	}

	info := BlobInfo{
		ID:          id,
		Length:      length,
		ChunkSize:   p.chunkSize,
		ContentType: contentType,
		ChunkCount:  count,
		CreatedAt:   time.Now().UTC(),
	}

	const q = `
		INSERT INTO blobs (id, length, chunk_size, content_type, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := p.db.ExecContext(ctx, q,
		info.ID, info.Length, info.ChunkSize, info.ContentType, info.ChunkCount, info.CreatedAt,
	); err != nil {
		p.discardChunks(id)
		return BlobInfo{}, fmt.Errorf("finalize blob: %w", err)
	}

	return info, nil
}

// discardChunks is the compensating cleanup for a failed Create. Best effort:
// the blob was never finalized, so even if this fails no reader can see it.
// A fresh context is used because the request context may already be canceled.
func (p *Postgres) discardChunks(blobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = p.DeleteChunks(ctx, blobID)
}

// Stat fetches the finalize record.
func (p *Postgres) Stat(ctx context.Context, id string) (BlobInfo, error) {
	const q = `
		SELECT id, length, chunk_size, content_type, chunk_count, created_at
		FROM blobs
		WHERE id = $1
	`
	var info BlobInfo
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&info.ID,
		&info.Length,
		&info.ChunkSize,
		&info.ContentType,
		&info.ChunkCount,
		&info.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BlobInfo{}, fmt.Errorf("blob %q: %w", id, ErrNotFound)
		}
		return BlobInfo{}, fmt.Errorf("stat blob %q: %w", id, err)
	}
	return info, nil
}

// Open returns the finalize record and a lazy stream over the blob's chunks.
func (p *Postgres) Open(ctx context.Context, id string) (io.ReadCloser, BlobInfo, error) {
	info, err := p.Stat(ctx, id)
	if err != nil {
		return nil, BlobInfo{}, err
	}
	it, err := p.Chunks(ctx, id)
	if err != nil {
		return nil, BlobInfo{}, fmt.Errorf("open blob %q: %w", id, err)
	}
	return newBlobReader(it, info), info, nil
}

// Delete removes the blob's chunks and then its finalize record, so a partial
// delete never leaves chunks behind without a record pointing at them.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	if err := p.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("delete chunks of %q: %w", id, err)
	}
	const q = `DELETE FROM blobs WHERE id = $1`
	if _, err := p.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("delete blob %q: %w", id, err)
	}
	return nil
}

// sqlChunkIterator streams blob_chunks rows.
type sqlChunkIterator struct {
	rows *sql.Rows
	seq  int
	data []byte
	err  error
}

func (it *sqlChunkIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	if err := it.rows.Scan(&it.seq, &it.data); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *sqlChunkIterator) Seq() int     { return it.seq }
func (it *sqlChunkIterator) Data() []byte { return it.data }
func (it *sqlChunkIterator) Err() error   { return it.err }

func (it *sqlChunkIterator) Close() error {
	return it.rows.Close()
}
