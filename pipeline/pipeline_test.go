package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imageloader/adapters/decoder"
	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func newPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h, color.RGBA{R: 50, G: 50, B: 200, A: 255})))
	return buf.Bytes()
}

func decoded(w, h int) *core.ImageData {
	img := solid(w, h, color.RGBA{R: 200, G: 50, B: 50, A: 255})
	return &core.ImageData{Image: img, Format: core.FormatPNG, Meta: core.Metadata{Width: w, Height: h}}
}

func bounds(t *testing.T, img *core.ImageData) image.Rectangle {
	t.Helper()
	src, ok := img.Image.(image.Image)
	require.True(t, ok)
	return src.Bounds()
}

type flakyStep struct {
	failures int
	calls    int
}

func (s *flakyStep) Name() string { return "flaky" }

func (s *flakyStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, apperrors.Transient("flaky", errors.New("try again"))
	}
	return img, nil
}

type recordingHook struct {
	mu     sync.Mutex
	before []string
	after  []string
	errs   []error
}

func (h *recordingHook) BeforeStep(_ context.Context, name string, _ *core.ImageData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = append(h.before, name)
}

func (h *recordingHook) AfterStep(_ context.Context, name string, _ *core.ImageData, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, name)
	h.errs = append(h.errs, err)
}

func (h *recordingHook) steps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.after...)
}

// ── Pipeline ──────────────────────────────────────────────────────────────────

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run steps in order and call hooks", func(t *testing.T) {
		hook := &recordingHook{}
		p := New(&ResizeStep{Width: 10}, &GrayscaleStep{}).AddHook(hook)

		out, timings, err := p.Run(ctx, decoded(40, 20))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 10, 5), bounds(t, out))
		assert.Equal(t, core.ColorSpaceGray, out.Meta.ColorSpace)
		assert.Equal(t, []string{"resize", "grayscale"}, hook.before)
		assert.Equal(t, []string{"resize", "grayscale"}, hook.after)
		assert.Contains(t, timings, "resize")
	})

	t.Run("Should retry transient failures", func(t *testing.T) {
		step := &flakyStep{failures: 2}
		_, _, err := New(step).WithRetry(2, 0).Run(ctx, decoded(2, 2))
		require.NoError(t, err)
		assert.Equal(t, 3, step.calls)
	})

	t.Run("Should give up after the retry budget", func(t *testing.T) {
		step := &flakyStep{failures: 5}
		_, _, err := New(step).WithRetry(1, 0).Run(ctx, decoded(2, 2))
		assert.True(t, apperrors.IsRetryable(err))
		assert.Equal(t, 2, step.calls)
	})

	t.Run("Should stop on a cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := New(&GrayscaleStep{}).Run(cctx, decoded(2, 2))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Should act as a step", func(t *testing.T) {
		var step core.Step = New(&ResizeStep{Width: 4}, &BlurStep{Radius: 2})
		assert.Equal(t, "resize+blur", step.Name())
		out, err := step.Execute(ctx, decoded(8, 8))
		require.NoError(t, err)
		assert.Equal(t, 4, out.Meta.Width)
		assert.Equal(t, "pipeline", New().Name())
	})

	t.Run("Should clone independently", func(t *testing.T) {
		base := New(&GrayscaleStep{})
		cp := base.Clone().Use(&BlurStep{})
		assert.Equal(t, 1, base.Len())
		assert.Equal(t, 2, cp.Len())
	})
}

// ── Steps ─────────────────────────────────────────────────────────────────────

func TestResizeStep(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fit inside the box without upscaling", func(t *testing.T) {
		out, err := (&ResizeStep{Width: 20, Height: 20, Fit: true}).Execute(ctx, decoded(100, 50))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 20, 10), bounds(t, out))

		small := decoded(10, 5)
		out, err = (&ResizeStep{Width: 20, Height: 20, Fit: true}).Execute(ctx, small)
		require.NoError(t, err)
		assert.Same(t, small, out)
	})

	t.Run("Should reject an empty box when fitting", func(t *testing.T) {
		_, err := (&ResizeStep{Fit: true}).Execute(ctx, decoded(10, 10))
		assert.ErrorIs(t, err, apperrors.ErrInvalidDimensions)
	})

	t.Run("Should reject images without pixels", func(t *testing.T) {
		_, err := (&ResizeStep{Width: 1}).Execute(ctx, &core.ImageData{})
		assert.ErrorIs(t, err, apperrors.ErrEmptyInput)
	})
}

func TestCropAndThumbnail(t *testing.T) {
	ctx := context.Background()

	out, err := (&CropStep{X: 2, Y: 2, Width: 4, Height: 3}).Execute(ctx, decoded(10, 10))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), bounds(t, out))

	_, err = (&CropStep{X: 8, Y: 8, Width: 4, Height: 4}).Execute(ctx, decoded(10, 10))
	assert.ErrorIs(t, err, apperrors.ErrInvalidDimensions)

	out, err = (&ThumbnailStep{Size: 16}).Execute(ctx, decoded(64, 32))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), bounds(t, out))
}

func TestBlurStep(t *testing.T) {
	ctx := context.Background()
	img := solid(9, 9, color.Black)
	img.Set(4, 4, color.White)

	out, err := (&BlurStep{Radius: 4}).Execute(ctx, &core.ImageData{Image: img})
	require.NoError(t, err)
	blurred := out.Image.(image.Image)
	r, _, _, _ := blurred.At(4, 4).RGBA()
	n, _, _, _ := blurred.At(5, 4).RGBA()
	assert.Less(t, r, uint32(0xffff))
	assert.Positive(t, n)

	_, err = (&BlurStep{Radius: -1}).Execute(ctx, &core.ImageData{Image: img})
	assert.Error(t, err)
}

func TestAutoOrientStep(t *testing.T) {
	ctx := context.Background()
	img := decoded(4, 2)

	img.Meta.Orientation = 6
	out, err := (&AutoOrientStep{}).Execute(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 4), bounds(t, out))
	assert.Equal(t, 1, out.Meta.Orientation)

	img.Meta.Orientation = 3
	out, err = (&AutoOrientStep{}).Execute(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), bounds(t, out))

	img.Meta.Orientation = 0
	out, err = (&AutoOrientStep{}).Execute(ctx, img)
	require.NoError(t, err)
	assert.Same(t, img, out)
}

func TestDecodeStep(t *testing.T) {
	ctx := context.Background()
	reg := core.NewRegistry()
	decoder.Register(reg)
	step := &DecodeStep{Registry: reg}

	t.Run("Should sniff the format when unknown", func(t *testing.T) {
		raw := newPNG(t, 6, 3)
		out, err := step.Execute(ctx, &core.ImageData{Data: raw})
		require.NoError(t, err)
		assert.Equal(t, core.FormatPNG, out.Format)
		assert.Equal(t, 6, out.Meta.Width)
		assert.Equal(t, int64(len(raw)), out.Meta.SizeBytes)
	})

	t.Run("Should reject empty input", func(t *testing.T) {
		_, err := step.Execute(ctx, &core.ImageData{})
		assert.ErrorIs(t, err, apperrors.ErrEmptyInput)
	})

	t.Run("Should reject formats without a decoder", func(t *testing.T) {
		_, err := (&DecodeStep{Registry: core.NewRegistry()}).Execute(ctx, &core.ImageData{Data: []byte("not an image")})
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
	})
}

func TestGrayscaleAndWatermark(t *testing.T) {
	ctx := context.Background()

	out, err := (&GrayscaleStep{}).Execute(ctx, decoded(3, 3))
	require.NoError(t, err)
	_, isGray := out.Image.(*image.Gray)
	assert.True(t, isGray)

	mark := solid(2, 2, color.RGBA{G: 255, A: 255})
	out, err = (&WatermarkStep{Watermark: mark, OffsetX: 1, OffsetY: 1}).Execute(ctx, decoded(4, 4))
	require.NoError(t, err)
	dst := out.Image.(image.Image)
	assert.Equal(t, color.RGBAModel.Convert(color.RGBA{G: 255, A: 255}), color.RGBAModel.Convert(dst.At(1, 1)))
	assert.Equal(t, color.RGBAModel.Convert(color.RGBA{R: 200, G: 50, B: 50, A: 255}), color.RGBAModel.Convert(dst.At(0, 0)))
}
