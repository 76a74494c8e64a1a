// Package imageproc implements the pixel pipeline: upload validation,
// decode to RGBA, mask compositing and output encoding.
package imageproc

import (
	"github.com/ferrywell/cutout/internal/model"
)

// Validate enforces the upload constraints before any decode work.
// The declared content-type is a routing hint only - Decode still fails
// closed on malformed bytes.
func Validate(req *model.RemoveRequest, maxBytes int64) error {
	if req.Image == nil || req.SizeBytes <= 0 {
		return model.ErrNoImage
	}
	if req.SizeBytes > maxBytes {
		return model.ErrTooLarge
	}
	if !model.InImageTypeMap[req.ContentType] {
		return model.ErrUnsupportedType
	}
	return nil
}
