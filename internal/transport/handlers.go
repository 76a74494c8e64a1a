// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ferrywell/cutout/internal/model"
	"github.com/wb-go/wbf/ginext"
)

type CutoutHandler struct {
	service CutoutService
	timeout time.Duration
}

type CutoutService interface {
	RemoveBackground(ctx context.Context, cred model.Credential, req *model.RemoveRequest) (*model.RemoveResult, error)
	LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error)
}

func NewCutoutHandler(svc CutoutService, timeout time.Duration) *CutoutHandler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CutoutHandler{
		service: svc,
		timeout: timeout,
	}
}

func (h CutoutHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

func (h CutoutHandler) Remove(ctx *ginext.Context) {
	cred := model.Credential{
		APIKey:      ctx.Request.Header.Get("x-api-key"),
		BearerToken: strings.TrimPrefix(ctx.Request.Header.Get("Authorization"), "Bearer "),
	}

	var req model.RemoveRequest

	// a missing file is judged by the service after the admission gate,
	// so auth failures keep their priority over validation failures
	if imageFile, imageHeader, err := ctx.Request.FormFile("image"); err == nil {
		defer closeFileFlow(imageFile)
		req.Image = imageFile
		req.ContentType = imageHeader.Header.Get("Content-Type")
		req.SizeBytes = imageHeader.Size
	}

	req.Format = model.OutputFormat(ctx.PostForm("format"))
	if req.Format == "" {
		req.Format = model.FormatPNG
	}
	req.BgColor = ctx.PostForm("bg_color")
	if req.BgColor == "" {
		req.BgColor = "#ffffff"
	}
	req.RemoveColor = ctx.PostForm("remove_color")
	if tolStr := ctx.PostForm("remove_tolerance"); tolStr != "" {
		if val, err := strconv.Atoi(tolStr); err == nil {
			req.RemoveTolerance = &val
		}
	}

	// the whole pipeline runs under one wall-clock budget
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), h.timeout)
	defer cancel()

	res, err := h.service.RemoveBackground(reqCtx, cred, &req)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	modelErrs, err := json.Marshal(res.ModelErrors)
	if err != nil {
		modelErrs = []byte("[]")
	}

	header := ctx.Writer.Header()
	header.Set("Content-Type", res.ContentType)
	header.Set("Content-Disposition", `inline; filename="removed-bg.`+res.Ext+`"`)
	header.Set("X-Model-Used", res.ModelID)
	header.Set("X-Model-Errors", string(modelErrs))
	header.Set("X-Request-Uid", res.UID.String())
	ctx.Writer.WriteHeader(200)
	if n, err := ctx.Writer.Write(res.Data); err != nil {
		log.Printf("Failed to write response at byte %d: %v", n, err)
	}
}

func (h CutoutHandler) LoadResult(ctx *ginext.Context) {
	id := ctx.Param("id")

	res, cType, err := h.service.LoadResult(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}
	defer closeFileFlow(res)

	ctx.Writer.Header().Set("Content-Type", cType)
	ctx.Writer.WriteHeader(200)
	if n, err := io.Copy(ctx.Writer, res); err != nil {
		log.Printf("Failed to write response at byte %d for result id %q: %v", n, id, err)
	}
}
