// Package storage contains the chunked blob store: arbitrary byte payloads
// split into fixed-size chunks persisted in the database, decoupled from a
// finalize record that marks a blob readable. Implementations must rely on
// streaming I/O only; no payload is ever materialized past one chunk.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when no finalize record exists for a blob ID.
	// Chunks without a finalize record are invisible to readers.
	ErrNotFound = errors.New("blob not found")

	// ErrCorruptBlob is returned by a blob reader when the retrieved chunk
	// sequence does not match the finalize record (gap, missing chunks, or
	// a total length mismatch).
	ErrCorruptBlob = errors.New("blob chunks do not match finalize record")
)

// BlobInfo describes a finalized blob.
type BlobInfo struct {
	ID          string
	Length      int64
	ChunkSize   int
	ContentType string
	ChunkCount  int
	CreatedAt   time.Time
}

// ChunkIterator yields the chunks of one blob in ascending sequence order.
// Iteration order is load-bearing: concatenating the yielded payloads must
// reproduce the original byte stream.
//
//	it, err := cs.Chunks(ctx, id)
//	defer it.Close()
//	for it.Next() {
//		use(it.Seq(), it.Data())
//	}
//	if err := it.Err(); err != nil { ... }
type ChunkIterator interface {
	// Next advances to the next chunk. Returns false when iteration is
	// complete or an error occurred; check Err afterwards.
	Next() bool
	// Seq returns the current chunk's sequence number. Only valid after
	// Next returned true.
	Seq() int
	// Data returns the current chunk's payload. The slice is only valid
	// until the next call to Next.
	Data() []byte
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases resources and aborts any remaining iteration.
	Close() error
}

// ChunkStore persists fixed-size binary fragments keyed by (blobID, seq).
type ChunkStore interface {
	// PutChunk stores one chunk. Writing the same (blobID, seq) twice with
	// identical data is idempotent.
	PutChunk(ctx context.Context, blobID string, seq int, data []byte) error
	// Chunks returns a lazy iterator over the blob's chunks by ascending
	// sequence number.
	Chunks(ctx context.Context, blobID string) (ChunkIterator, error)
	// DeleteChunks removes all chunks of a blob. Removing a blob with no
	// chunks is not an error.
	DeleteChunks(ctx context.Context, blobID string) error
}

// BlobStore presents chunked storage as single logical byte streams.
type BlobStore interface {
	// Create consumes r, splits it into fixed-size chunks, and writes the
	// finalize record last. If Create fails at any point no finalize record
	// is written and already-written chunks are cleaned up, so a reader can
	// never observe a partial blob.
	Create(ctx context.Context, r io.Reader, contentType string) (BlobInfo, error)
	// Open returns the blob's info and a forward-only, single-pass stream of
	// its content. Returns ErrNotFound if the blob was never finalized.
	// The caller must close the stream; closing aborts chunk iteration.
	Open(ctx context.Context, id string) (io.ReadCloser, BlobInfo, error)
	// Stat returns the blob's finalize record without opening its content.
	Stat(ctx context.Context, id string) (BlobInfo, error)
	// Delete removes the blob's chunks and its finalize record.
	Delete(ctx context.Context, id string) error
}
