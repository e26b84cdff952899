package imageloader

import (
	"image"

	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/pipeline"
)

// ── Post-processor shortcuts ──────────────────────────────────────────────────
//
// These build steps for request.Options.PostProcessor. Chain several with
// Chain; they run on the decoded image before it is copied into a bitmap.

// Chain runs steps in order as a single post-processor.
func Chain(steps ...core.Step) core.Step { return pipeline.New(steps...) }

// Resize scales to width×height. Pass 0 for one axis to keep the aspect ratio.
func Resize(width, height int) core.Step { return &pipeline.ResizeStep{Width: width, Height: height} }

// Crop extracts the given rectangle.
func Crop(x, y, width, height int) core.Step {
	return &pipeline.CropStep{X: x, Y: y, Width: width, Height: height}
}

// Thumbnail produces a centred square of size×size pixels.
func Thumbnail(size int) core.Step { return &pipeline.ThumbnailStep{Size: size} }

// Grayscale converts to 8-bit luminance.
func Grayscale() core.Step { return &pipeline.GrayscaleStep{} }

// Blur applies a Gaussian blur. A radius of 0 uses pipeline.DefaultBlurRadius.
func Blur(radius int) core.Step { return &pipeline.BlurStep{Radius: radius} }

// Watermark draws mark over the image at the given offset.
func Watermark(mark image.Image, x, y int) core.Step {
	return &pipeline.WatermarkStep{Watermark: mark, OffsetX: x, OffsetY: y}
}
