package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ferrywell/cutout/internal/model"
	"github.com/ferrywell/cutout/internal/segment"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
)

func pngUpload(t *testing.T, w, h int, c color.NRGBA) ([]byte, *model.RemoveRequest) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	data := buf.Bytes()
	return data, &model.RemoveRequest{
		Image:       newFakeFile(data),
		ContentType: model.PNG,
		SizeBytes:   int64(len(data)),
		Format:      model.FormatPNG,
	}
}

// passthrough mask: whatever the test sets per request
func maskSegmenter(fn func(src *image.NRGBA) *image.Gray) *mockSegmenter {
	return &mockSegmenter{
		segmentFn: func(ctx context.Context, src *image.NRGBA) (*image.Gray, error) {
			return fn(src), nil
		},
		modelInfo: segment.ModelInfo{ID: "u2net-v1"},
	}
}

func fullForegroundSegmenter() *mockSegmenter {
	return maskSegmenter(func(src *image.NRGBA) *image.Gray {
		m := image.NewGray(src.Bounds())
		for i := range m.Pix {
			m.Pix[i] = 255
		}
		return m
	})
}

func grantingRepo() *mockRepo {
	return &mockRepo{
		consumeFn: func(ctx context.Context, userID uuid.UUID) (bool, error) {
			return true, nil
		},
	}
}

func resolverFor(acc *model.Account) *mockResolver {
	return &mockResolver{
		resolveFn: func(ctx context.Context, cred model.Credential) (*model.Account, error) {
			return acc, nil
		},
	}
}

// REMOVE - UNAUTHENTICATED SHORT-CIRCUITS BEFORE THE GATE
func TestCutoutService_Remove_Unauthenticated(t *testing.T) {
	quotaCalled := false

	resolver := &mockResolver{
		resolveFn: func(ctx context.Context, cred model.Credential) (*model.Account, error) {
			return nil, model.ErrUnauthenticated
		},
	}
	repo := &mockRepo{
		consumeFn: func(ctx context.Context, userID uuid.UUID) (bool, error) {
			quotaCalled = true
			return true, nil
		},
	}

	svc := NewCutoutService(resolver, repo, fullForegroundSegmenter(), &mockPublisher{}, &mockArchive{}, 0)

	_, req := pngUpload(t, 2, 2, color.NRGBA{A: 255})
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_bad"}, req)

	require.ErrorIs(t, err, model.ErrUnauthenticated)
	require.False(t, quotaCalled)
}

// REMOVE - ZERO BALANCE NEVER TOUCHES THE DECODER
func TestCutoutService_Remove_QuotaExceeded(t *testing.T) {
	touched := false
	segCalled := false

	repo := &mockRepo{
		consumeFn: func(ctx context.Context, userID uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	seg := &mockSegmenter{
		segmentFn: func(ctx context.Context, src *image.NRGBA) (*image.Gray, error) {
			segCalled = true
			return nil, nil
		},
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, seg, &mockPublisher{}, &mockArchive{}, 0)

	req := &model.RemoveRequest{
		Image:       untouchableFile{touched: &touched},
		ContentType: model.PNG,
		SizeBytes:   100,
		Format:      model.FormatPNG,
	}
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)

	require.ErrorIs(t, err, model.ErrQuotaExceeded)
	require.False(t, touched)
	require.False(t, segCalled)
}

// REMOVE - STORE FAILURE IS A 500, NOT A QUOTA REJECTION
func TestCutoutService_Remove_CreditStoreDown(t *testing.T) {
	repo := &mockRepo{
		consumeFn: func(ctx context.Context, userID uuid.UUID) (bool, error) {
			return false, errors.New("store unreachable")
		},
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, fullForegroundSegmenter(), &mockPublisher{}, &mockArchive{}, 0)

	_, req := pngUpload(t, 2, 2, color.NRGBA{A: 255})
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)

	require.ErrorIs(t, err, model.ErrCommon500)
	require.NotErrorIs(t, err, model.ErrQuotaExceeded)
}

// REMOVE - POST-GATE VALIDATION FAILURE REFUNDS THE UNIT
func TestCutoutService_Remove_OversizedRefunds(t *testing.T) {
	refunded := make(chan struct{}, 1)
	touched := false

	repo := grantingRepo()
	repo.refundFn = func(ctx context.Context, userID uuid.UUID) error {
		refunded <- struct{}{}
		return nil
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, fullForegroundSegmenter(), &mockPublisher{}, &mockArchive{}, 0)

	req := &model.RemoveRequest{
		Image:       untouchableFile{touched: &touched},
		ContentType: model.PNG,
		SizeBytes:   model.DefaultMaxUpload + 1,
		Format:      model.FormatPNG,
	}
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)

	require.ErrorIs(t, err, model.ErrTooLarge)
	require.False(t, touched)

	select {
	case <-refunded:
	case <-time.After(time.Second):
		t.Fatal("refund was never called")
	}
}

// REMOVE - BROKEN BYTES REFUND TOO
func TestCutoutService_Remove_BrokenImageRefunds(t *testing.T) {
	refunds := 0

	repo := grantingRepo()
	repo.refundFn = func(ctx context.Context, userID uuid.UUID) error {
		refunds++
		return nil
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, fullForegroundSegmenter(), &mockPublisher{}, &mockArchive{}, 0)

	req := &model.RemoveRequest{
		Image:       newFakeFile([]byte("not-an-image")),
		ContentType: model.PNG,
		SizeBytes:   12,
		Format:      model.FormatPNG,
	}
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)

	require.ErrorIs(t, err, model.ErrBrokenImage)
	require.Equal(t, 1, refunds)
}

// REMOVE - MODEL FAILURE IS A 500 AND REFUNDS
func TestCutoutService_Remove_ModelFailure(t *testing.T) {
	refunds := 0

	repo := grantingRepo()
	repo.refundFn = func(ctx context.Context, userID uuid.UUID) error {
		refunds++
		return nil
	}

	seg := &mockSegmenter{
		segmentFn: func(ctx context.Context, src *image.NRGBA) (*image.Gray, error) {
			return nil, errors.New("inference backend gone")
		},
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, seg, &mockPublisher{}, &mockArchive{}, 0)

	_, req := pngUpload(t, 4, 4, color.NRGBA{R: 10, A: 255})
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)

	require.ErrorIs(t, err, model.ErrCommon500)
	require.Equal(t, 1, refunds)
}

// REMOVE - BAD FORMAT VALUE
func TestCutoutService_Remove_BadFormat(t *testing.T) {
	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), grantingRepo(), fullForegroundSegmenter(), &mockPublisher{}, &mockArchive{}, 0)

	_, req := pngUpload(t, 2, 2, color.NRGBA{A: 255})
	req.Format = model.OutputFormat("bmp")

	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)
	require.ErrorIs(t, err, model.ErrBadFormat)
}

// REMOVE - FULL PIPELINE, SPLIT MASK
func TestCutoutService_Remove_SplitMask(t *testing.T) {
	var archived []byte
	refunds := 0

	repo := grantingRepo()
	repo.refundFn = func(ctx context.Context, userID uuid.UUID) error {
		refunds++
		return nil
	}

	// left half foreground, right half background
	seg := maskSegmenter(func(src *image.NRGBA) *image.Gray {
		m := image.NewGray(src.Bounds())
		w := src.Rect.Dx()
		h := src.Rect.Dy()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if x < w/2 {
					m.Pix[y*m.Stride+x] = 255
				}
			}
		}
		return m
	})

	arch := &mockArchive{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			archived = data
			return nil
		},
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, seg, &mockPublisher{}, arch, 0)

	_, req := pngUpload(t, 100, 100, color.NRGBA{R: 255, A: 255})
	res, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)

	require.NoError(t, err)
	require.Equal(t, model.PNG, res.ContentType)
	require.Equal(t, "png", res.Ext)
	require.Equal(t, "u2net-v1", res.ModelID)
	require.Equal(t, 0, refunds)
	require.Equal(t, res.Data, archived)

	out, err := imaging.Decode(bytes.NewReader(res.Data))
	require.NoError(t, err)
	nrgba := imaging.Clone(out)

	// left half: opaque red; right half: fully transparent, red intact
	li := (50*100 + 10) * 4
	ri := (50*100 + 90) * 4
	require.Equal(t, uint8(255), nrgba.Pix[li])
	require.Equal(t, uint8(255), nrgba.Pix[li+3])
	require.Equal(t, uint8(255), nrgba.Pix[ri])
	require.Equal(t, uint8(0), nrgba.Pix[ri+3])
}

// REMOVE - USAGE EVENT ONLY FOR KEY AUTH
func TestCutoutService_Remove_UsagePublish(t *testing.T) {
	keyID := uuid.New()
	published := make(chan []byte, 1)

	pub := &mockPublisher{
		sendFn: func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
			published <- key
			return nil
		},
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New(), KeyID: &keyID}), grantingRepo(), fullForegroundSegmenter(), pub, &mockArchive{}, 0)

	_, req := pngUpload(t, 2, 2, color.NRGBA{A: 255})
	_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)
	require.NoError(t, err)

	select {
	case key := <-published:
		require.Equal(t, keyID.String(), string(key))
	case <-time.After(time.Second):
		t.Fatal("usage event was never published")
	}
}

func TestCutoutService_Remove_NoUsageForBearer(t *testing.T) {
	publishes := 0

	pub := &mockPublisher{
		sendFn: func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
			publishes++
			return nil
		},
	}

	// bearer-resolved accounts carry no key id
	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), grantingRepo(), fullForegroundSegmenter(), pub, &mockArchive{}, 0)

	_, req := pngUpload(t, 2, 2, color.NRGBA{A: 255})
	_, err := svc.RemoveBackground(context.Background(), model.Credential{BearerToken: "tok"}, req)
	require.NoError(t, err)
	require.Equal(t, 0, publishes)
}

// GATE - N CONCURRENT CONSUMES AGAINST BALANCE N: EXACTLY N GRANTS
func TestCutoutService_Remove_ConcurrentQuota(t *testing.T) {
	const balance = 5
	const callers = 8

	var mu sync.Mutex
	left := int64(balance)

	repo := &mockRepo{
		consumeFn: func(ctx context.Context, userID uuid.UUID) (bool, error) {
			// stands in for the store-side conditional decrement
			mu.Lock()
			defer mu.Unlock()
			if left < 1 {
				return false, nil
			}
			left--
			return true, nil
		},
	}

	svc := NewCutoutService(resolverFor(&model.Account{UserID: uuid.New()}), repo, fullForegroundSegmenter(), &mockPublisher{}, &mockArchive{}, 0)

	imgData, _ := pngUpload(t, 2, 2, color.NRGBA{A: 255})

	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := &model.RemoveRequest{
				Image:       newFakeFile(imgData),
				ContentType: model.PNG,
				SizeBytes:   int64(len(imgData)),
				Format:      model.FormatPNG,
			}
			_, err := svc.RemoveBackground(context.Background(), model.Credential{APIKey: "sk_ok"}, req)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	grants, rejections := 0, 0
	for err := range results {
		switch {
		case err == nil:
			grants++
		case errors.Is(err, model.ErrQuotaExceeded):
			rejections++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	require.Equal(t, balance, grants)
	require.Equal(t, callers-balance, rejections)
	require.Equal(t, int64(0), left)
}

// LOADRESULT
func TestCutoutService_LoadResult(t *testing.T) {
	svc := NewCutoutService(nil, nil, nil, nil, &mockArchive{
		getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
			return nil, "", model.ErrResultNotFound
		},
	}, 0)

	_, _, err := svc.LoadResult(context.Background(), "bad-id")
	require.ErrorIs(t, err, model.ErrIncorrectID)

	_, _, err = svc.LoadResult(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, model.ErrResultNotFound)
}

func TestCutoutService_LoadResult_OK(t *testing.T) {
	id := uuid.New().String()

	svc := NewCutoutService(nil, nil, nil, nil, &mockArchive{
		getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
			require.Equal(t, "results/"+id, key)
			return io.NopCloser(bytes.NewReader([]byte("png-bytes"))), model.PNG, nil
		},
	}, 0)

	rc, cType, err := svc.LoadResult(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.PNG, cType)

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
}
