package core

import (
	"bytes"
	"image"
	"io"
	"sync"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/utils"
)

// ── Encoded bytes ─────────────────────────────────────────────────────────────

// PooledBytes is an encoded byte stream held in a pooled buffer. Readers must
// not outlive Release; reads after Release fail with ErrReleased.
type PooledBytes struct {
	mu  sync.RWMutex
	buf *bytes.Buffer
}

// NewPooledBytes copies data into a buffer taken from the shared pool.
func NewPooledBytes(data []byte) *PooledBytes {
	b := utils.AcquireBuffer()
	b.Write(data)
	return &PooledBytes{buf: b}
}

// Size returns the number of bytes held, or 0 once released.
func (p *PooledBytes) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.buf == nil {
		return 0
	}
	return p.buf.Len()
}

// IsValid reports whether the buffer still holds pool memory.
func (p *PooledBytes) IsValid() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buf != nil
}

// NewReader returns a reader over the pooled bytes.
func (p *PooledBytes) NewReader() io.Reader {
	return &pooledReader{p: p}
}

// Release hands the memory back to the pool. Later calls are no-ops.
func (p *PooledBytes) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf != nil {
		utils.ReleaseBuffer(p.buf)
		p.buf = nil
	}
}

type pooledReader struct {
	p   *PooledBytes
	off int
}

func (r *pooledReader) Read(dst []byte) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()
	if r.p.buf == nil {
		return 0, apperrors.ErrReleased
	}
	src := r.p.buf.Bytes()
	if r.off >= len(src) {
		return 0, io.EOF
	}
	n := copy(dst, src[r.off:])
	r.off += n
	return n, nil
}

// ── Decoded bitmaps ───────────────────────────────────────────────────────────

// PooledBitmap is a decoded RGBA pixel buffer whose backing memory belongs to
// a BitmapPool. Once recycled the pixels may be reused by another decode.
type PooledBitmap struct {
	mu       sync.RWMutex
	img      *image.RGBA
	pool     *BitmapPool
	recycled bool
}

// Width returns the bitmap width in pixels.
func (b *PooledBitmap) Width() int { return b.img.Rect.Dx() }

// Height returns the bitmap height in pixels.
func (b *PooledBitmap) Height() int { return b.img.Rect.Dy() }

// Underlying exposes the pooled pixel buffer for the producer that fills it.
// Consumers must use Copy.
func (b *PooledBitmap) Underlying() *image.RGBA { return b.img }

// IsRecycled reports whether the pixels have been returned to the pool.
func (b *PooledBitmap) IsRecycled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recycled
}

// Copy returns a deep copy of the pixels that stays valid after Recycle.
func (b *PooledBitmap) Copy() (*image.RGBA, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.recycled {
		return nil, apperrors.ErrReleased
	}
	out := image.NewRGBA(image.Rect(0, 0, b.img.Rect.Dx(), b.img.Rect.Dy()))
	rowBytes := 4 * b.img.Rect.Dx()
	for y := 0; y < b.img.Rect.Dy(); y++ {
		src := b.img.Pix[y*b.img.Stride : y*b.img.Stride+rowBytes]
		copy(out.Pix[y*out.Stride:], src)
	}
	return out, nil
}

// Recycle returns the pixels to the pool. Later calls are no-ops.
func (b *PooledBitmap) Recycle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.recycled {
		return
	}
	b.recycled = true
	if b.pool != nil {
		b.pool.put(b.img)
	}
	b.img = &image.RGBA{Rect: b.img.Rect}
}

// BitmapPool reuses RGBA pixel slices across decodes.
type BitmapPool struct {
	pool sync.Pool
	// MaxPixels caps the size of buffers kept for reuse; 0 keeps everything.
	MaxPixels int
}

// NewBitmapPool returns an empty pool.
func NewBitmapPool(maxPixels int) *BitmapPool {
	return &BitmapPool{MaxPixels: maxPixels}
}

// Get returns a zeroed w×h bitmap, reusing pooled memory when large enough.
func (p *BitmapPool) Get(w, h int) *PooledBitmap {
	n := 4 * w * h
	var img *image.RGBA
	if v, ok := p.pool.Get().(*image.RGBA); ok && cap(v.Pix) >= n {
		v.Pix = v.Pix[:n]
		clear(v.Pix)
		v.Stride = 4 * w
		v.Rect = image.Rect(0, 0, w, h)
		img = v
	} else {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	return &PooledBitmap{img: img, pool: p}
}

func (p *BitmapPool) put(img *image.RGBA) {
	if p.MaxPixels > 0 && img.Rect.Dx()*img.Rect.Dy() > p.MaxPixels {
		return
	}
	p.pool.Put(img)
}
