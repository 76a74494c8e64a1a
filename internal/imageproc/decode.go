package imageproc

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/ferrywell/cutout/internal/model"

	_ "golang.org/x/image/webp" // webp decode support for image.Decode
)

// Decode turns raw upload bytes into a 4-channel NRGBA buffer. Sources
// without an alpha channel come out fully opaque.
func Decode(r io.Reader) (*image.NRGBA, error) {
	if r == nil {
		return nil, model.ErrNoImage
	}

	img, err := imaging.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBrokenImage, err)
	}

	// Clone always yields NRGBA regardless of the source color model.
	return imaging.Clone(img), nil
}
