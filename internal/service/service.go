// Package service provides business-logic for the app
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"time"

	"github.com/ferrywell/cutout/internal/imageproc"
	"github.com/ferrywell/cutout/internal/model"
	"github.com/ferrywell/cutout/internal/mwlogger"
	"github.com/ferrywell/cutout/internal/repository"
	"github.com/ferrywell/cutout/internal/segment"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

// CredentialResolver - contract for turning raw credentials into an
// account identity
type CredentialResolver interface {
	Resolve(ctx context.Context, cred model.Credential) (*model.Account, error)
}

// Segmenter - contract for the segmentation step: source pixels in,
// source-resolution mask out
type Segmenter interface {
	Segment(ctx context.Context, src *image.NRGBA) (*image.Gray, error)
	Info() segment.ModelInfo
}

// UsagePublisher - contract for the usage-accounting queue
type UsagePublisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

// ResultArchive - contract for the processed-output store
type ResultArchive interface {
	Get(ctx context.Context, key string) (output io.ReadCloser, ctype string, err error)
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
}

var retryStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    3 * time.Second,
	Backoff:  1.5,
}

type CutoutService struct {
	resolver        CredentialResolver
	repo            repository.AccountRepo
	segmenter       Segmenter
	publisher       UsagePublisher
	archive         ResultArchive
	maxUpload       int64
	resultKeyPrefix string
}

func NewCutoutService(res CredentialResolver, repo repository.AccountRepo, seg Segmenter, pub UsagePublisher, arch ResultArchive, maxUpload int64) *CutoutService {
	if maxUpload <= 0 {
		maxUpload = model.DefaultMaxUpload
	}
	return &CutoutService{
		resolver:        res,
		repo:            repo,
		segmenter:       seg,
		publisher:       pub,
		archive:         arch,
		maxUpload:       maxUpload,
		resultKeyPrefix: "results/",
	}
}

// RemoveBackground runs the whole pipeline: resolve the caller, debit
// one credit, then validate/decode/segment/composite/encode. Once a
// credit is consumed, any failure before a successful response refunds
// it.
func (c CutoutService) RemoveBackground(ctx context.Context, cred model.Credential, req *model.RemoveRequest) (*model.RemoveResult, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	acc, err := c.resolver.Resolve(ctx, cred)
	if err != nil {
		return nil, err
	}

	// fire-and-forget usage accounting for key-authenticated callers
	if acc.KeyID != nil {
		c.publishUsage(ctx, *acc.KeyID)
	}

	granted, err := c.repo.ConsumeCredit(ctx, acc.UserID)
	if err != nil {
		// "could not check" must never look like "out of credits"
		logger.Error().Err(err).Msg("Credit store failed to evaluate consume")
		return nil, model.ErrCommon500
	}
	if !granted {
		return nil, model.ErrQuotaExceeded
	}

	res, err := c.process(ctx, req)
	if err != nil {
		c.refund(ctx, acc.UserID)
		return nil, err
	}

	return res, nil
}

// process covers everything downstream of the quota gate.
func (c CutoutService) process(ctx context.Context, req *model.RemoveRequest) (*model.RemoveResult, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if err := imageproc.Validate(req, c.maxUpload); err != nil {
		return nil, err
	}

	if req.Format == "" {
		req.Format = model.FormatPNG
	}
	if !model.OutputFormatMap[req.Format] {
		return nil, model.ErrBadFormat
	}

	src, err := imageproc.Decode(req.Image)
	if err != nil {
		return nil, err
	}

	mask, err := c.segmenter.Segment(ctx, src)
	if err != nil {
		logger.Error().Err(err).Msg("Segmentation failed")
		return nil, model.ErrCommon500
	}

	out, err := imageproc.Composite(src, mask)
	if err != nil {
		logger.Error().Err(err).Msg("Compositing failed")
		return nil, model.ErrCommon500
	}

	data, cType, ext, err := imageproc.Encode(out, req.Format)
	if err != nil {
		if errors.Is(err, model.ErrBadFormat) {
			return nil, err
		}
		logger.Error().Err(err).Msg("Encoding failed")
		return nil, model.ErrCommon500
	}

	uid := uuid.New()

	// archive is best-effort - the caller still gets their bytes
	key := c.resultKeyPrefix + uid.String()
	if err := c.archive.Put(ctx, key, int64(len(data)), cType, bytes.NewReader(data)); err != nil {
		logger.Error().Err(err).Msg("Failed to archive result")
	}

	info := c.segmenter.Info()

	return &model.RemoveResult{
		UID:         uid,
		Data:        data,
		ContentType: cType,
		Ext:         ext,
		ModelID:     info.ID,
		ModelErrors: info.Errors,
	}, nil
}

// LoadResult re-serves an archived output by its UID.
func (c CutoutService) LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if err := uuid.Validate(id); err != nil {
		return nil, "", model.ErrIncorrectID
	}

	data, cType, err := c.archive.Get(ctx, c.resultKeyPrefix+id)
	if err != nil {
		if errors.Is(err, model.ErrResultNotFound) {
			return nil, "", model.ErrResultNotFound
		}
		logger.Error().Err(err).Msg("Failed to fetch archived result")
		return nil, "", model.ErrCommon500
	}

	return data, cType, nil
}

// publishUsage queues a usage increment without gating the request on
// the broker. The queue write keeps retrying off the request's cancel
// signal so a fast response doesn't drop the event.
func (c CutoutService) publishUsage(ctx context.Context, keyID uuid.UUID) {
	logger := mwlogger.LoggerFromContext(ctx)

	ev, err := json.Marshal(model.UsageEvent{KeyID: keyID, At: time.Now().UTC()})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to marshal usage event")
		return
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		if err := c.publisher.SendWithRetry(bg, retryStrategy, []byte(keyID.String()), ev); err != nil {
			logger.Error().Err(err).Msg("Failed to publish usage event")
		}
	}()
}

// refund returns the consumed unit after a post-gate failure.
func (c CutoutService) refund(ctx context.Context, userID uuid.UUID) {
	logger := mwlogger.LoggerFromContext(ctx)

	bg := context.WithoutCancel(ctx)
	if err := c.repo.RefundCredit(bg, userID); err != nil {
		logger.Error().Err(err).Msg("Failed to refund credit after pipeline failure")
	}
}
