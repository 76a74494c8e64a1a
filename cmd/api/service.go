package main

import (
	"context"
	"io"

	"github.com/ferrywell/cutout/internal/model"
)

type CutoutAPIService interface {
	RemoveBackground(ctx context.Context, cred model.Credential, req *model.RemoveRequest) (*model.RemoveResult, error)
	LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error)
}
