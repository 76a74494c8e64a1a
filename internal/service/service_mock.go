package service

import (
	"bytes"
	"context"
	"image"
	"io"
	"mime/multipart"

	"github.com/ferrywell/cutout/internal/model"
	"github.com/ferrywell/cutout/internal/segment"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

type mockResolver struct {
	resolveFn func(ctx context.Context, cred model.Credential) (*model.Account, error)
}

func (m *mockResolver) Resolve(ctx context.Context, cred model.Credential) (*model.Account, error) {
	return m.resolveFn(ctx, cred)
}

//----------------------------------

type mockRepo struct {
	resolveKeyFn func(ctx context.Context, hash string) (*model.Account, error)
	consumeFn    func(ctx context.Context, userID uuid.UUID) (bool, error)
	refundFn     func(ctx context.Context, userID uuid.UUID) error
	addUsageFn   func(ctx context.Context, keyID uuid.UUID, n int64) error
}

func (m *mockRepo) ResolveKeyHash(ctx context.Context, hash string) (*model.Account, error) {
	return m.resolveKeyFn(ctx, hash)
}

func (m *mockRepo) ConsumeCredit(ctx context.Context, userID uuid.UUID) (bool, error) {
	return m.consumeFn(ctx, userID)
}

func (m *mockRepo) RefundCredit(ctx context.Context, userID uuid.UUID) error {
	if m.refundFn == nil {
		return nil
	}
	return m.refundFn(ctx, userID)
}

func (m *mockRepo) AddKeyUsage(ctx context.Context, keyID uuid.UUID, n int64) error {
	if m.addUsageFn == nil {
		return nil
	}
	return m.addUsageFn(ctx, keyID, n)
}

//----------------------------------

type mockSegmenter struct {
	segmentFn func(ctx context.Context, src *image.NRGBA) (*image.Gray, error)
	modelInfo segment.ModelInfo
}

func (m *mockSegmenter) Segment(ctx context.Context, src *image.NRGBA) (*image.Gray, error) {
	return m.segmentFn(ctx, src)
}

func (m *mockSegmenter) Info() segment.ModelInfo {
	return m.modelInfo
}

//----------------------------------

type mockPublisher struct {
	sendFn func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error
}

func (m *mockPublisher) SendWithRetry(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
	if m.sendFn == nil {
		return nil
	}
	return m.sendFn(ctx, s, key, v)
}

//----------------------------------

type mockArchive struct {
	getFn func(ctx context.Context, key string) (io.ReadCloser, string, error)
	putFn func(ctx context.Context, key string, size int64, ct string, r io.Reader) error
}

func (m *mockArchive) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return m.getFn(ctx, key)
}

func (m *mockArchive) Put(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
	if m.putFn == nil {
		return nil
	}
	return m.putFn(ctx, key, size, ct, r)
}

//----------------------------------

type fakeMultipartFile struct {
	*bytes.Reader
}

func (fakeMultipartFile) Close() error { return nil }

func newFakeFile(content []byte) multipart.File {
	return fakeMultipartFile{bytes.NewReader(content)}
}

// untouchableFile reports any read attempt - used to prove the decoder
// is never reached on short-circuit paths.
type untouchableFile struct {
	touched *bool
}

func (u untouchableFile) Read(p []byte) (int, error) {
	*u.touched = true
	return 0, io.EOF
}

func (u untouchableFile) ReadAt(p []byte, off int64) (int, error) {
	*u.touched = true
	return 0, io.EOF
}

func (u untouchableFile) Seek(offset int64, whence int) (int64, error) {
	*u.touched = true
	return 0, nil
}

func (untouchableFile) Close() error { return nil }
