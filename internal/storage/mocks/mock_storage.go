package mocks

import (
	"context"
	"io"

	"docstore/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Create(ctx context.Context, r io.Reader, contentType string) (storage.BlobInfo, error) {
	args := m.Called(ctx, r, contentType)
	if f, ok := args.Get(0).(func(context.Context, io.Reader, string) storage.BlobInfo); ok {
		return f(ctx, r, contentType), args.Error(1)
	}
	return args.Get(0).(storage.BlobInfo), args.Error(1)
}

func (m *MockBlobStore) Open(ctx context.Context, id string) (io.ReadCloser, storage.BlobInfo, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Get(1).(storage.BlobInfo), args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.Get(1).(storage.BlobInfo), args.Error(2)
}

func (m *MockBlobStore) Stat(ctx context.Context, id string) (storage.BlobInfo, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(storage.BlobInfo), args.Error(1)
}

func (m *MockBlobStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
