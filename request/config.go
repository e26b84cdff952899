package request

import (
	"fmt"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

// CacheTier names the cache partition a request reads and fills.
type CacheTier int

const (
	CacheDefault CacheTier = iota
	CacheSmall
)

func (c CacheTier) String() string {
	if c == CacheSmall {
		return "small"
	}
	return "default"
}

// Size is a requested decode size. Decoded images are scaled down to fit
// inside it; they are never scaled up.
type Size struct {
	Width, Height int
}

// Options are the optional knobs of a request. The zero value fetches the
// original image from the default cache with no transforms.
type Options struct {
	TargetSize       *Size
	CacheTier        CacheTier
	AutoRotate       bool
	Progressive      bool
	PostProcessor    core.Step
	ThumbnailPreview bool
}

// Config is an immutable, validated request. Build it with New.
type Config struct {
	source           Source
	targetSize       *Size
	cacheTier        CacheTier
	autoRotate       bool
	progressive      bool
	postProcessor    core.Step
	thumbnailPreview bool
}

// New validates src and opts and returns the request. Local file sources
// always allow thumbnail previews.
func New(src Source, opts Options) (Config, error) {
	if err := src.validate(); err != nil {
		return Config{}, apperrors.New(apperrors.CategoryInput, "request.new", err)
	}
	cfg := Config{
		source:           src,
		cacheTier:        opts.CacheTier,
		autoRotate:       opts.AutoRotate,
		progressive:      opts.Progressive,
		postProcessor:    opts.PostProcessor,
		thumbnailPreview: opts.ThumbnailPreview || src.Kind() == KindLocalFile,
	}
	if opts.TargetSize != nil {
		if opts.TargetSize.Width <= 0 || opts.TargetSize.Height <= 0 {
			return Config{}, apperrors.New(apperrors.CategoryInput, "request.new",
				fmt.Errorf("%w: target size %dx%d", apperrors.ErrInvalidDimensions,
					opts.TargetSize.Width, opts.TargetSize.Height))
		}
		size := *opts.TargetSize
		cfg.targetSize = &size
	}
	return cfg, nil
}

// MustNew is New that panics on invalid input. Meant for literals in tests
// and examples.
func MustNew(src Source, opts Options) Config {
	cfg, err := New(src, opts)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Display returns the options used when binding an image for display:
// EXIF auto-rotation and progressive rendering on.
func Display() Options {
	return Options{AutoRotate: true, Progressive: true}
}

func (c Config) Source() Source { return c.source }

// TargetSize returns the requested size and whether one was set.
func (c Config) TargetSize() (Size, bool) {
	if c.targetSize == nil {
		return Size{}, false
	}
	return *c.targetSize, true
}

func (c Config) CacheTier() CacheTier { return c.cacheTier }
func (c Config) AutoRotate() bool { return c.autoRotate }
func (c Config) Progressive() bool { return c.progressive }
func (c Config) PostProcessor() core.Step { return c.postProcessor }
func (c Config) ThumbnailPreview() bool { return c.thumbnailPreview }
func (c Config) IsZero() bool { return c.source.IsEmpty() }

// CacheKey identifies the encoded bytes of this request in a cache tier.
func (c Config) CacheKey() string {
	return c.source.String()
}
