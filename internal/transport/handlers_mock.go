package transport

import (
	"context"
	"io"

	"github.com/ferrywell/cutout/internal/model"
	"github.com/gin-gonic/gin"
)

type mockCutoutService struct {
	removeFn     func(ctx context.Context, cred model.Credential, req *model.RemoveRequest) (*model.RemoveResult, error)
	loadResultFn func(ctx context.Context, id string) (io.ReadCloser, string, error)
}

func (m *mockCutoutService) RemoveBackground(ctx context.Context, cred model.Credential, req *model.RemoveRequest) (*model.RemoveResult, error) {
	return m.removeFn(ctx, cred, req)
}

func (m *mockCutoutService) LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error) {
	return m.loadResultFn(ctx, id)
}

func init() {
	gin.SetMode(gin.TestMode)
}
