// Package decoder provides format-specific image decoders.
package decoder

import (
	"context"
	"image"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

// JPEG decodes JPEG images using the standard library. With AutoOrient set
// the EXIF orientation tag is applied to the pixels while decoding.
type JPEG struct {
	AutoOrient bool
}

// NewJPEG returns an initialised JPEG decoder.
func NewJPEG() *JPEG { return &JPEG{} }

// NewOrientedJPEG returns a JPEG decoder that honours EXIF orientation.
func NewOrientedJPEG() *JPEG { return &JPEG{AutoOrient: true} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG || format == core.FormatUnknown
}

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}

	var (
		img image.Image
		err error
	)
	if j.AutoOrient {
		img, err = imaging.Decode(r, imaging.AutoOrientation(true))
	} else {
		img, err = jpeg.Decode(r)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return describe(img, core.FormatJPEG), nil
}

func describe(img image.Image, format core.Format) *core.ImageData {
	bounds := img.Bounds()
	return &core.ImageData{
		Image:  img,
		Format: format,
		Meta: core.Metadata{
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Format:     format,
			ColorSpace: colorSpace(img),
			HasAlpha:   hasAlpha(img),
		},
	}
}

// colorSpace returns the colour space of an image.Image.
func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.RGBA, *image.NRGBA, *image.RGBA64:
		return core.ColorSpaceRGBA
	case *image.CMYK:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.Paletted:
		return true
	}
	return false
}
