package encoder

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

// PNG encodes images to PNG. Encoder buffers are pooled across calls.
type PNG struct {
	buffers pngBufferPool
}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.EncodeTo(ctx, &buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes the PNG encoding of img to w.
func (p *PNG) EncodeTo(ctx context.Context, w io.Writer, img *core.ImageData, opts core.EncodeOptions) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return apperrors.New(apperrors.CategoryEncode, "png.encode", apperrors.ErrEmptyInput)
	}

	enc := &png.Encoder{CompressionLevel: png.DefaultCompression, BufferPool: &p.buffers}
	if opts.Lossless {
		enc.CompressionLevel = png.BestCompression
	}
	if err := enc.Encode(w, src); err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return nil
}

type pngBufferPool struct{ pool sync.Pool }

func (b *pngBufferPool) Get() *png.EncoderBuffer {
	buf, _ := b.pool.Get().(*png.EncoderBuffer)
	return buf
}

func (b *pngBufferPool) Put(buf *png.EncoderBuffer) { b.pool.Put(buf) }
