package core

import (
	"context"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatGIF     Format = "gif"
	FormatUnknown Format = "unknown"
)

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information without loading pixel data.
type Metadata struct {
	Width       int
	Height      int
	Format      Format
	ColorSpace  ColorSpace
	HasAlpha    bool
	SizeBytes   int64
	EXIF        map[string]string // nil when stripped or absent
	HasEXIF     bool
	Orientation int // EXIF orientation tag (1-8), 0 when unknown
}

// ImageData is the in-memory representation passed through decode and
// post-processing steps. Data holds encoded bytes; Image holds the decoded
// pixel buffer once a decoder has run.
type ImageData struct {
	// Encoded bytes, non-nil for raw input.
	Data   []byte
	Format Format

	// Decoded pixel buffer. Usually an image.Image; the vips backend stores
	// its own handle type here.
	Image any

	Meta Metadata

	// Size of the original raw input.
	OriginalSize int64
}

// Step is the fundamental post-processing building block. Each Step
// transforms an *ImageData value and must be safe for concurrent use across
// goroutines. Request post-processors are Steps.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored object.
type StorageKey struct {
	Bucket string
	Path   string
}
