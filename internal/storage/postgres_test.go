package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgres_PutChunk(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db, 4)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO blob_chunks").
		WithArgs("blob-1", 0, []byte("data")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.PutChunk(ctx, "blob-1", 0, []byte("data"))

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db, 4)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		// "hello world" splits into "hell", "o wo", "rld" at chunk size 4
		mock.ExpectExec("INSERT INTO blob_chunks").
			WithArgs(sqlmock.AnyArg(), 0, []byte("hell")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO blob_chunks").
			WithArgs(sqlmock.AnyArg(), 1, []byte("o wo")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO blob_chunks").
			WithArgs(sqlmock.AnyArg(), 2, []byte("rld")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO blobs").
			WithArgs(sqlmock.AnyArg(), int64(11), 4, "application/pdf", 3, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		info, err := store.Create(ctx, bytes.NewReader([]byte("hello world")), "application/pdf")

		require.NoError(t, err)
		assert.NotEmpty(t, info.ID)
		assert.Equal(t, int64(11), info.Length)
		assert.Equal(t, 3, info.ChunkCount)
		assert.Equal(t, "application/pdf", info.ContentType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("chunk write failure cleans up and never finalizes", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO blob_chunks").
			WithArgs(sqlmock.AnyArg(), 0, []byte("hell")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO blob_chunks").
			WithArgs(sqlmock.AnyArg(), 1, []byte("o wo")).
			WillReturnError(errors.New("disk full"))
		mock.ExpectExec("DELETE FROM blob_chunks").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := store.Create(ctx, bytes.NewReader([]byte("hello world")), "application/pdf")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "write chunk 1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("finalize failure cleans up", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO blob_chunks").
			WithArgs(sqlmock.AnyArg(), 0, []byte("hi")).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO blobs").
			WillReturnError(errors.New("insert failed"))
		mock.ExpectExec("DELETE FROM blob_chunks").
			WithArgs(sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := store.Create(ctx, bytes.NewReader([]byte("hi")), "image/png")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "finalize blob")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil reader", func(t *testing.T) {
		_, err := store.Create(ctx, nil, "image/png")
		assert.Error(t, err)
	})
}

func TestPostgres_Stat(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db, 4)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "length", "chunk_size", "content_type", "chunk_count", "created_at"}).
			AddRow("blob-1", int64(11), 4, "application/pdf", 3, time.Now())

		mock.ExpectQuery("SELECT (.+) FROM blobs WHERE id = ?").
			WithArgs("blob-1").
			WillReturnRows(rows)

		info, err := store.Stat(ctx, "blob-1")

		require.NoError(t, err)
		assert.Equal(t, "blob-1", info.ID)
		assert.Equal(t, int64(11), info.Length)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM blobs WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Stat(ctx, "missing")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgres_Open(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db, 4)
	ctx := context.Background()

	t.Run("streams chunks in order", func(t *testing.T) {
		blobRows := sqlmock.NewRows([]string{"id", "length", "chunk_size", "content_type", "chunk_count", "created_at"}).
			AddRow("blob-1", int64(11), 4, "application/pdf", 3, time.Now())
		mock.ExpectQuery("SELECT (.+) FROM blobs WHERE id = ?").
			WithArgs("blob-1").
			WillReturnRows(blobRows)

		chunkRows := sqlmock.NewRows([]string{"seq", "data"}).
			AddRow(0, []byte("hell")).
			AddRow(1, []byte("o wo")).
			AddRow(2, []byte("rld"))
		mock.ExpectQuery("SELECT seq, data FROM blob_chunks").
			WithArgs("blob-1").
			WillReturnRows(chunkRows)

		rc, info, err := store.Open(ctx, "blob-1")
		require.NoError(t, err)
		defer rc.Close()

		assert.Equal(t, "application/pdf", info.ContentType)

		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(got))
	})

	t.Run("missing finalize record", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM blobs WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, _, err := store.Open(ctx, "missing")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("chunk set shorter than record", func(t *testing.T) {
		blobRows := sqlmock.NewRows([]string{"id", "length", "chunk_size", "content_type", "chunk_count", "created_at"}).
			AddRow("blob-2", int64(8), 4, "image/png", 2, time.Now())
		mock.ExpectQuery("SELECT (.+) FROM blobs WHERE id = ?").
			WithArgs("blob-2").
			WillReturnRows(blobRows)

		chunkRows := sqlmock.NewRows([]string{"seq", "data"}).
			AddRow(0, []byte("aaaa"))
		mock.ExpectQuery("SELECT seq, data FROM blob_chunks").
			WithArgs("blob-2").
			WillReturnRows(chunkRows)

		rc, _, err := store.Open(ctx, "blob-2")
		require.NoError(t, err)
		defer rc.Close()

		_, err = io.ReadAll(rc)
		assert.ErrorIs(t, err, ErrCorruptBlob)
	})
}

func TestPostgres_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db, 4)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM blob_chunks").
		WithArgs("blob-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM blobs").
		WithArgs("blob-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Delete(ctx, "blob-1")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_DefaultChunkSize(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgres(db, 0)
	assert.Equal(t, DefaultChunkSize, store.chunkSize)
}
