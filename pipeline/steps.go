package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/utils"
)

// sourceImage returns the decoded pixels of img or an ErrEmptyInput error
// attributed to step.
func sourceImage(step string, img *core.ImageData) (image.Image, error) {
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, step, apperrors.ErrEmptyInput)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, step, apperrors.ErrEmptyInput)
	}
	return src, nil
}

func withImage(img *core.ImageData, dst image.Image) *core.ImageData {
	out := *img
	out.Image = dst
	b := dst.Bounds()
	out.Meta.Width = b.Dx()
	out.Meta.Height = b.Dy()
	return &out
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep resizes the image to the given dimensions, preserving aspect ratio
// when one axis is 0. With Fit set the image is only scaled down, into the
// Width×Height box.
type ResizeStep struct {
	Width, Height int
	Fit           bool
	// Resampler controls quality vs speed.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	srcB := src.Bounds()
	var dstW, dstH int
	if s.Fit {
		if s.Width <= 0 || s.Height <= 0 {
			return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
		}
		dstW, dstH = utils.FitWithin(srcB.Dx(), srcB.Dy(), s.Width, s.Height)
	} else {
		dstW, dstH = utils.ScaleDimensions(srcB.Dx(), srcB.Dy(), s.Width, s.Height)
	}

	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil // nothing to do
	}
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Over, nil)
	return withImage(img, dst), nil
}

// ── Crop ──────────────────────────────────────────────────────────────────────

// CropStep crops a rectangle from the image.
type CropStep struct {
	X, Y, Width, Height int
}

func (s *CropStep) Name() string { return "crop" }

func (s *CropStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	rect := image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height).Add(b.Min)
	if s.Width <= 0 || s.Height <= 0 || !rect.In(b) {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: crop rect %v exceeds image bounds %v", apperrors.ErrInvalidDimensions, rect, b))
	}

	dst := image.NewRGBA(image.Rect(0, 0, s.Width, s.Height))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return withImage(img, dst), nil
}

// ── Thumbnail ────────────────────────────────────────────────────────────────

// ThumbnailStep is a convenience step that combines Resize with square cropping.
type ThumbnailStep struct {
	Size int // square size in pixels
}

func (s *ThumbnailStep) Name() string { return "thumbnail" }

func (s *ThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}
	if s.Size <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	// Resize so the smallest dimension == s.Size.
	bounds := src.Bounds()
	rw, rh := 0, s.Size
	if bounds.Dx() < bounds.Dy() {
		rw, rh = s.Size, 0
	}
	resized, err := (&ResizeStep{Width: rw, Height: rh}).Execute(ctx, img)
	if err != nil {
		return nil, err
	}

	// Centre-crop to square.
	rb := resized.Image.(image.Image).Bounds()
	size := min(s.Size, rb.Dx(), rb.Dy())
	ox := (rb.Dx() - size) / 2
	oy := (rb.Dy() - size) / 2
	return (&CropStep{X: ox, Y: oy, Width: size, Height: size}).Execute(ctx, resized)
}

// ── Blur ──────────────────────────────────────────────────────────────────────

// DefaultBlurRadius is used when BlurStep.Radius is zero.
const DefaultBlurRadius = 35

// BlurStep applies a Gaussian blur. Sigma is half the radius.
type BlurStep struct {
	Radius int
}

func (s *BlurStep) Name() string { return "blur" }

func (s *BlurStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}
	radius := s.Radius
	if radius == 0 {
		radius = DefaultBlurRadius
	}
	if radius < 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("blur radius %d must not be negative", radius))
	}
	return withImage(img, imaging.Blur(src, float64(radius)/2)), nil
}

// ── Orientation ───────────────────────────────────────────────────────────────

// AutoOrientStep applies Meta.Orientation to the pixels and resets it to 1.
// Decoders that already rotated the image leave the tag at 0 or 1.
type AutoOrientStep struct{}

func (s *AutoOrientStep) Name() string { return "auto_orient" }

func (s *AutoOrientStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}
	var dst image.Image
	switch img.Meta.Orientation {
	case 2:
		dst = imaging.FlipH(src)
	case 3:
		dst = imaging.Rotate180(src)
	case 4:
		dst = imaging.FlipV(src)
	case 5:
		dst = imaging.Transpose(src)
	case 6:
		dst = imaging.Rotate270(src)
	case 7:
		dst = imaging.Transverse(src)
	case 8:
		dst = imaging.Rotate90(src)
	default:
		return img, nil
	}
	out := withImage(img, dst)
	out.Meta.Orientation = 1
	return out, nil
}

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	format := img.Format
	if format == "" || format == core.FormatUnknown {
		format = core.Format(utils.DetectFormat(img.Data))
	}
	dec, ok := s.Registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}

	// Preserve the raw data bytes alongside the decoded representation.
	decoded.Data = img.Data
	decoded.OriginalSize = img.OriginalSize
	decoded.Meta.SizeBytes = int64(len(img.Data))
	return decoded, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the image.Image into encoded bytes using the registry.
// Format overrides the image's own format when set.
type EncodeStep struct {
	Registry    core.Registry
	Format      core.Format
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	format := img.Format
	if s.Format != "" {
		format = s.Format
	}
	enc, ok := s.Registry.EncoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	data, err := enc.Encode(ctx, img, s.BaseOptions)
	if err != nil {
		return nil, err
	}

	out := *img
	out.Data = data
	out.Format = format
	out.Meta.Format = format
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}

// ── Grayscale ─────────────────────────────────────────────────────────────────

// GrayscaleStep converts the image to grayscale.
type GrayscaleStep struct{}

func (s *GrayscaleStep) Name() string { return "grayscale" }

func (s *GrayscaleStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}

	out := withImage(img, dst)
	out.Meta.ColorSpace = core.ColorSpaceGray
	out.Meta.HasAlpha = false
	return out, nil
}

// ── Watermark ─────────────────────────────────────────────────────────────────

// WatermarkStep composites a watermark image at the given offset.
type WatermarkStep struct {
	Watermark image.Image
	OffsetX   int
	OffsetY   int
}

func (s *WatermarkStep) Name() string { return "watermark" }

func (s *WatermarkStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, err := sourceImage(s.Name(), img)
	if err != nil {
		return nil, err
	}
	if s.Watermark == nil {
		return img, nil
	}

	dst := image.NewRGBA(src.Bounds())
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	offset := image.Point{X: s.OffsetX, Y: s.OffsetY}.Add(dst.Bounds().Min)
	draw.Draw(dst, s.Watermark.Bounds().Add(offset), s.Watermark, s.Watermark.Bounds().Min, draw.Over)
	return withImage(img, dst), nil
}
