package decoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

func sample() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(40 * x), G: uint8(60 * y), A: 255})
		}
	}
	return img
}

func TestDecoders(t *testing.T) {
	ctx := context.Background()
	var pngBuf, jpegBuf, gifBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, sample()))
	require.NoError(t, jpeg.Encode(&jpegBuf, sample(), nil))
	require.NoError(t, gif.Encode(&gifBuf, sample(), nil))

	cases := []struct {
		name   string
		dec    core.Decoder
		data   []byte
		format core.Format
	}{
		{"png", NewPNG(), pngBuf.Bytes(), core.FormatPNG},
		{"jpeg", NewJPEG(), jpegBuf.Bytes(), core.FormatJPEG},
		{"jpeg oriented", NewOrientedJPEG(), jpegBuf.Bytes(), core.FormatJPEG},
		{"gif", NewGIF(), gifBuf.Bytes(), core.FormatGIF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, tc.dec.CanDecode(tc.format))
			out, err := tc.dec.Decode(ctx, bytes.NewReader(tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.format, out.Format)
			assert.Equal(t, 6, out.Meta.Width)
			assert.Equal(t, 4, out.Meta.Height)
		})
	}
}

func TestDecoders_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := NewPNG().Decode(ctx, bytes.NewReader([]byte("not a png")))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryDecode))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewWebP().Decode(cctx, bytes.NewReader(nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegister(t *testing.T) {
	reg := core.NewRegistry()
	Register(reg)
	assert.Equal(t, []core.Format{core.FormatGIF, core.FormatJPEG, core.FormatPNG, core.FormatWebP}, reg.DecodableFormats())

	d, ok := reg.DecoderFor(core.FormatUnknown)
	require.True(t, ok)
	assert.IsType(t, &JPEG{}, d)
}
