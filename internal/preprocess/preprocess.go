// Package preprocess turns encoded image bytes into the normalized NCHW
// tensor an ImageNet classifier expects.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/Brownie44l1/imagenet-classifier/internal/model"
	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

const (
	targetWidth  = model.ImageWidth
	targetHeight = model.ImageHeight
	channelLen   = targetWidth * targetHeight
)

var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

// StrideMode selects the pixel layout of the sampled buffer.
type StrideMode int

const (
	// StrideSampled walks the converted NRGBA window, 4 bytes per pixel.
	StrideSampled StrideMode = iota
	// StrideSource repacks the window in the decoded image's own pixel
	// size (3 or 4 bytes) and walks it with that stride.
	StrideSource
)

func ParseStrideMode(s string) (StrideMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sampled":
		return StrideSampled, nil
	case "source":
		return StrideSource, nil
	default:
		return StrideSampled, fmt.Errorf("unknown stride mode %q", s)
	}
}

func ParseFilter(s string) (resize.InterpolationFunction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bilinear":
		return resize.Bilinear, nil
	case "bicubic":
		return resize.Bicubic, nil
	case "mitchell":
		return resize.MitchellNetravali, nil
	case "lanczos2":
		return resize.Lanczos2, nil
	case "lanczos3":
		return resize.Lanczos3, nil
	default:
		return resize.Bilinear, fmt.Errorf("unknown resize filter %q", s)
	}
}

const (
	DefaultMaxPixels      = 40_000_000
	DefaultMaxAspectRatio = 32
)

type Options struct {
	Filter resize.InterpolationFunction
	Stride StrideMode
	// MaxPixels and MaxAspectRatio bound what is accepted for decoding and
	// scaling. Zero means the default.
	MaxPixels      int
	MaxAspectRatio int
}

func DefaultOptions() Options {
	return Options{
		Filter:         resize.Bilinear,
		Stride:         StrideSampled,
		MaxPixels:      DefaultMaxPixels,
		MaxAspectRatio: DefaultMaxAspectRatio,
	}
}

func (o Options) limits() (int, int) {
	maxPixels, maxAspect := o.MaxPixels, o.MaxAspectRatio
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if maxAspect <= 0 {
		maxAspect = DefaultMaxAspectRatio
	}
	return maxPixels, maxAspect
}

// CheckSize rejects images that are empty, larger than MaxPixels, or whose
// long side exceeds MaxAspectRatio times the short side. Scaling allocates in
// proportion to the long side, so thin images are refused before decoding.
func CheckSize(w, h int, opts Options) error {
	if w <= 0 || h <= 0 {
		return &model.DecodeError{Err: fmt.Errorf("empty image %dx%d", w, h)}
	}
	maxPixels, maxAspect := opts.limits()
	if int64(w)*int64(h) > int64(maxPixels) {
		return &model.DecodeError{Err: fmt.Errorf("image %dx%d exceeds %d pixels", w, h, maxPixels)}
	}
	short, long := min(w, h), max(w, h)
	if long > short*maxAspect {
		return &model.DecodeError{Err: fmt.Errorf("image %dx%d exceeds aspect ratio %d:1", w, h, maxAspect)}
	}
	return nil
}

// Preprocess decodes data and converts it to a [1,3,224,224] tensor.
func Preprocess(data []byte, opts Options) (*model.Tensor, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &model.DecodeError{Err: err}
	}
	if err := CheckSize(cfg.Width, cfg.Height, opts); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &model.DecodeError{Err: err}
	}
	bounds := src.Bounds()
	log.Debug().Str("format", format).Int("width", bounds.Dx()).Int("height", bounds.Dy()).Msg("decoded image")

	return FromImage(src, opts)
}

// FromImage runs the resize, crop and normalization steps on a decoded image.
func FromImage(src image.Image, opts Options) (*model.Tensor, error) {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if err := CheckSize(w, h, opts); err != nil {
		return nil, err
	}

	var sampled *image.NRGBA
	if w == targetWidth && h == targetHeight {
		sampled = imaging.Clone(src)
	} else {
		scaledW, scaledH := ScaledSize(w, h)
		scaled := resize.Resize(uint(scaledW), uint(scaledH), src, opts.Filter)
		left, top := CropOffsets(scaledW, scaledH)
		origin := scaled.Bounds().Min
		rect := image.Rect(left, top, left+targetWidth, top+targetHeight).Add(origin)
		sampled = imaging.Crop(scaled, rect)
	}

	pix, bpp := sampled.Pix, 4
	if opts.Stride == StrideSource {
		// Keep the sampled pixels in the decoded image's layout.
		bpp = BytesPerPixel(src)
		pix = pack(sampled, bpp)
	}
	data, err := normalize(pix, bpp)
	if err != nil {
		return nil, err
	}
	return model.NewTensor(model.InputShape(), data)
}

// ScaledSize scales (w, h) so that the shorter side is exactly 224 and the
// aspect ratio is kept; the longer side is rounded down.
func ScaledSize(w, h int) (int, int) {
	short := w
	if h < short {
		short = h
	}
	target := targetWidth
	if targetHeight < target {
		target = targetHeight
	}
	return w * target / short, h * target / short
}

// CropOffsets returns the top-left corner of the centered 224x224 window.
func CropOffsets(scaledW, scaledH int) (int, int) {
	return max(0, scaledW-targetWidth) / 2, max(0, scaledH-targetHeight) / 2
}

// Normalize maps an 8-bit channel value through the ImageNet statistics
// of channel c (0=R, 1=G, 2=B).
func Normalize(c int, v uint8) float32 {
	return (float32(v)/255 - mean[c]) / std[c]
}

// pack copies the 224x224 NRGBA window into a tightly packed buffer with
// bpp bytes per pixel, R, G and B first.
func pack(img *image.NRGBA, bpp int) []byte {
	if bpp == 4 && img.Stride == targetWidth*4 {
		return img.Pix
	}
	out := make([]byte, channelLen*bpp)
	for y := 0; y < targetHeight; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < targetWidth; x++ {
			copy(out[(y*targetWidth+x)*bpp:], row[x*4:x*4+min(bpp, 4)])
		}
	}
	return out
}

func normalize(pix []byte, bpp int) ([]float32, error) {
	rowLength := targetWidth * bpp
	out := make([]float32, channelLen*model.NumChannels)

	idx := 0
	for y := 0; y < targetHeight; y++ {
		rowOffset := y * rowLength
		for x, columnOffset := 0, 0; x < targetWidth; x, columnOffset = x+1, columnOffset+bpp {
			off := rowOffset + columnOffset
			if off+2 >= len(pix) {
				return nil, &model.DecodeError{Err: fmt.Errorf("pixel (%d,%d) at offset %d is outside the %d byte buffer", x, y, off, len(pix))}
			}
			out[idx] = Normalize(0, pix[off])
			out[idx+channelLen] = Normalize(1, pix[off+1])
			out[idx+2*channelLen] = Normalize(2, pix[off+2])
			idx++
		}
	}
	return out, nil
}

// BytesPerPixel reports the 8-bit pixel size of a decoded image: 4 when
// its pixel type carries alpha, 3 otherwise. Gray images expand to RGB.
func BytesPerPixel(img image.Image) int {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.NYCbCrA, *image.Paletted:
		return 4
	default:
		return 3
	}
}
