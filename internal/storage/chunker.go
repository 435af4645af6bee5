package storage

import (
	"context"
	"fmt"
	"io"
)

// writeChunks consumes r and stores consecutive fixed-size chunks under
// blobID. The final chunk may be shorter. Returns the total byte length and
// chunk count on success; on failure the caller owns cleanup of any chunks
// already written.
func writeChunks(ctx context.Context, cs ChunkStore, blobID string, r io.Reader, chunkSize int) (int64, int, error) {
	buf := make([]byte, chunkSize)
	var length int64
	seq := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if perr := cs.PutChunk(ctx, blobID, seq, buf[:n]); perr != nil {
				return length, seq, fmt.Errorf("write chunk %d: %w", seq, perr)
			}
			seq++
			length += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return length, seq, nil
		}
		if err != nil {
			return length, seq, fmt.Errorf("read source: %w", err)
		}
	}
}

// blobReader adapts a ChunkIterator into an io.ReadCloser. It is forward-only
// and single-pass. On stream exhaustion it verifies the retrieved chunk count
// and total length against the finalize record; sequence gaps fail as soon as
// they are observed, so a corrupted chunk set never silently yields wrong bytes.
type blobReader struct {
	it   ChunkIterator
	info BlobInfo

	buf    []byte
	off    int
	read   int64
	chunks int
	done   bool
	err    error
}

func newBlobReader(it ChunkIterator, info BlobInfo) *blobReader {
	return &blobReader{it: it, info: info}
}

func (br *blobReader) Read(p []byte) (int, error) {
	if br.err != nil {
		return 0, br.err
	}
	for br.off >= len(br.buf) {
		if br.done {
			return 0, io.EOF
		}
		if !br.it.Next() {
			if err := br.it.Err(); err != nil {
				br.err = fmt.Errorf("iterate chunks: %w", err)
				return 0, br.err
			}
			if br.chunks != br.info.ChunkCount || br.read != br.info.Length {
				br.err = fmt.Errorf("%w: got %d chunks / %d bytes, record says %d / %d",
					ErrCorruptBlob, br.chunks, br.read, br.info.ChunkCount, br.info.Length)
				return 0, br.err
			}
			br.done = true
			return 0, io.EOF
		}
		if br.it.Seq() != br.chunks {
			br.err = fmt.Errorf("%w: expected sequence %d, got %d", ErrCorruptBlob, br.chunks, br.it.Seq())
			return 0, br.err
		}
		// Copy out: the iterator's payload is only valid until the next Next.
		data := br.it.Data()
		br.buf = append(br.buf[:0], data...)
		br.off = 0
		br.chunks++
		br.read += int64(len(data))
	}
	n := copy(p, br.buf[br.off:])
	br.off += n
	return n, nil
}

// Close aborts chunk iteration. Closing mid-stream stops pulling further
// chunks promptly, which is how a disconnected download client cancels the
// underlying query.
func (br *blobReader) Close() error {
	br.done = true
	return br.it.Close()
}
