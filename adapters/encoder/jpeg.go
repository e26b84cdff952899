// Package encoder serialises decoded bitmaps back to image files.
package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

// JPEG encodes images to JPEG. Translucent pixels are composited onto
// Background first since JPEG has no alpha channel.
type JPEG struct {
	DefaultQuality int // used when EncodeOptions.Quality == 0
	Background     color.Color
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &JPEG{DefaultQuality: defaultQuality, Background: color.White}
}

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := j.EncodeTo(ctx, &buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes the JPEG encoding of img to w.
func (j *JPEG) EncodeTo(ctx context.Context, w io.Writer, img *core.ImageData, opts core.EncodeOptions) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return apperrors.New(apperrors.CategoryEncode, "jpeg.encode", apperrors.ErrEmptyInput)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = j.DefaultQuality
	}
	if img.Meta.HasAlpha && j.Background != nil {
		src = flatten(src, j.Background)
	}
	if err := jpeg.Encode(w, src, &jpeg.Options{Quality: quality}); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return nil
}

func flatten(src image.Image, bg color.Color) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
