package telemetry

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/born-ml/cvodepth/internal/tensor"
)

// ImageWriter saves sample images as PNG files under
// <dir>/<mode>/<step>/<tag>.png. Images smaller than the configured size
// are upscaled so every scale of a tag lines up.
type ImageWriter struct {
	dir    string
	height int
	width  int
}

// NewImageWriter creates dir. Images are written at height×width.
func NewImageWriter(dir string, height, width int) (*ImageWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create image dir")
	}
	return &ImageWriter{dir: dir, height: height, width: width}, nil
}

// Write saves sample j of t (B×C×h×w with C of 1 or 3). Single-channel
// maps are normalized by their maximum when normalize is set; other values
// are clamped to [0, 1].
func (w *ImageWriter) Write(mode, tag string, step, j int, t *tensor.Tensor, normalize bool) (string, error) {
	img, err := TensorImage(t, j, normalize)
	if err != nil {
		return "", errors.Wrap(err, tag)
	}
	if b := img.Bounds(); b.Dx() != w.width || b.Dy() != w.height {
		dst := image.NewNRGBA(image.Rect(0, 0, w.width, w.height))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		img = dst
	}

	dir := filepath.Join(w.dir, mode, fmt.Sprintf("%08d", step))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create step dir")
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", sanitize(tag), j))
	if err := imaging.Save(img, path); err != nil {
		return "", errors.Wrapf(err, "save %s", path)
	}
	return path, nil
}

// TensorImage converts sample j of a B×C×h×w tensor to an image.
func TensorImage(t *tensor.Tensor, j int, normalize bool) (*image.NRGBA, error) {
	shape := t.Shape()
	if len(shape) != 4 || (shape[1] != 1 && shape[1] != 3) {
		return nil, errors.Errorf("cannot render shape %v", shape)
	}
	if j < 0 || j >= shape[0] {
		return nil, errors.Errorf("sample %d out of range [0, %d)", j, shape[0])
	}
	c, h, wd := shape[1], shape[2], shape[3]
	plane := h * wd
	data := t.Data()[j*c*plane : (j+1)*c*plane]

	scale := float32(1)
	if normalize && c == 1 {
		peak := float32(0)
		for _, v := range data {
			peak = max(peak, v)
		}
		if peak > 0 {
			scale = 1 / peak
		}
	}
	to8 := func(v float32) uint8 {
		return uint8(255*min(max(v*scale, 0), 1) + 0.5)
	}

	img := image.NewNRGBA(image.Rect(0, 0, wd, h))
	for y := 0; y < h; y++ {
		for x := 0; x < wd; x++ {
			i := y*wd + x
			if c == 1 {
				g := to8(data[i])
				img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: to8(data[i]),
				G: to8(data[plane+i]),
				B: to8(data[2*plane+i]),
				A: 255,
			})
		}
	}
	return img, nil
}

func sanitize(tag string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(tag)
}
