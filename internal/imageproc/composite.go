package imageproc

import (
	"fmt"
	"image"
)

// AlphaThreshold - midpoint cutoff: mask values below it become fully
// transparent, everything else fully opaque. No soft matte.
const AlphaThreshold = 128

// Composite copies RGB from src untouched and derives the alpha channel
// from the mask. The output never shares backing storage with src.
func Composite(src *image.NRGBA, mask *image.Gray) (*image.NRGBA, error) {
	w := src.Rect.Dx()
	h := src.Rect.Dy()

	if mask.Rect.Dx() != w || mask.Rect.Dy() != h {
		return nil, fmt.Errorf("mask size %dx%d does not match source %dx%d",
			mask.Rect.Dx(), mask.Rect.Dy(), w, h)
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		srcRow := src.Pix[y*src.Stride:]
		maskRow := mask.Pix[y*mask.Stride:]
		outRow := out.Pix[y*out.Stride:]

		for x := 0; x < w; x++ {
			si := x * 4
			outRow[si] = srcRow[si]
			outRow[si+1] = srcRow[si+1]
			outRow[si+2] = srcRow[si+2]

			if maskRow[x] >= AlphaThreshold {
				outRow[si+3] = 255
			} else {
				outRow[si+3] = 0
			}
		}
	}

	return out, nil
}
