// Package segment adapts decoded pixel buffers to the segmentation
// model's tensor layout and turns its output back into an alpha mask.
package segment

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Tensor - flat float32 buffer plus its shape, the wire unit exchanged
// with the model.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ModelInfo identifies which model served a request; Errors carries any
// problems recorded while bringing the model up.
type ModelInfo struct {
	ID     string
	Errors []string
}

// Model - the external segmentation model: a probability tensor out for
// an image tensor in. Implementations must be safe for concurrent use.
type Model interface {
	Infer(ctx context.Context, in *Tensor) (*Tensor, error)
	Info() ModelInfo
}

// Adapter runs the full segment step: normalize the source into the
// model's input layout, invoke it, and deliver a source-resolution
// grayscale mask.
type Adapter struct {
	model     Model
	inputSize int
}

func NewAdapter(m Model, inputSize int) *Adapter {
	return &Adapter{model: m, inputSize: inputSize}
}

func (a *Adapter) Info() ModelInfo {
	return a.model.Info()
}

// Segment produces a mask with the same dimensions as src. Values are
// scaled into 0-255; resizing back to source resolution uses nearest
// neighbor so no resampling ringing is introduced around the threshold.
func (a *Adapter) Segment(ctx context.Context, src *image.NRGBA) (*image.Gray, error) {
	in := tensorFromImage(src, a.inputSize)

	out, err := a.model.Infer(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}

	mask, err := maskFromTensor(out)
	if err != nil {
		return nil, err
	}

	w := src.Rect.Dx()
	h := src.Rect.Dy()
	if mask.Rect.Dx() == w && mask.Rect.Dy() == h {
		return mask, nil
	}

	resized := resize.Resize(uint(w), uint(h), mask, resize.NearestNeighbor)
	return toGray(resized), nil
}

// tensorFromImage resizes the source to the model's square working
// resolution and lays it out as NCHW float32 in 0..1.
func tensorFromImage(src *image.NRGBA, size int) *Tensor {
	scaled := imaging.Resize(src, size, size, imaging.Linear)

	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		row := scaled.Pix[y*scaled.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			si := x * 4
			data[i] = float32(row[si]) / 255
			data[plane+i] = float32(row[si+1]) / 255
			data[2*plane+i] = float32(row[si+2]) / 255
		}
	}

	return &Tensor{Shape: []int{1, 3, size, size}, Data: data}
}

// maskFromTensor expects a single-channel tensor, shape [H,W] possibly
// wrapped in leading 1s, with probability-like values that get scaled
// into the 0-255 grayscale range.
func maskFromTensor(t *Tensor) (*image.Gray, error) {
	dims := t.Shape
	for len(dims) > 2 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("unexpected mask tensor shape %v", t.Shape)
	}

	h, w := dims[0], dims[1]
	if h <= 0 || w <= 0 || len(t.Data) != h*w {
		return nil, fmt.Errorf("mask tensor shape %v does not match %d values", t.Shape, len(t.Data))
	}

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range t.Data {
		p := v * 255
		switch {
		case p < 0:
			p = 0
		case p > 255:
			p = 255
		}
		mask.Pix[i] = uint8(p)
	}

	return mask, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	out := image.NewGray(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
