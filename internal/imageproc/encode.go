package imageproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/ferrywell/cutout/internal/model"
)

// Encode serializes the composited buffer. Returns the bytes plus the
// content-type and filename extension describing what was actually
// written. jpeg cannot carry alpha, so callers requesting it knowingly
// lose transparency; webp has no encoder in this stack and falls back to
// png - the returned metadata reports png in that case, never a mislabel.
func Encode(img *image.NRGBA, format model.OutputFormat) ([]byte, string, string, error) {
	var buf bytes.Buffer

	switch format {
	case model.FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
			return nil, "", "", fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), model.JPEG, "jpg", nil
	case model.FormatPNG, model.FormatWEBP:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), model.PNG, "png", nil
	default:
		return nil, "", "", model.ErrBadFormat
	}
}
