package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

func transparent(w, h int) *core.ImageData {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	return &core.ImageData{Image: img, Meta: core.Metadata{Width: w, Height: h, HasAlpha: true}}
}

func TestJPEG_FlattensOntoBackground(t *testing.T) {
	data, err := NewJPEG(90).Encode(context.Background(), transparent(8, 8), core.EncodeOptions{})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, g, b, _ := img.At(4, 4).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestPNG_KeepsAlpha(t *testing.T) {
	enc := NewPNG()
	for i := 0; i < 2; i++ {
		data, err := enc.Encode(context.Background(), transparent(3, 3), core.EncodeOptions{Lossless: i == 1})
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(img.At(1, 1)))
	}
}

func TestEncoders_RejectEmptyImage(t *testing.T) {
	ctx := context.Background()
	_, err := NewPNG().Encode(ctx, &core.ImageData{}, core.EncodeOptions{})
	assert.ErrorIs(t, err, apperrors.ErrEmptyInput)
	_, err = NewJPEG(0).Encode(ctx, &core.ImageData{}, core.EncodeOptions{})
	assert.ErrorIs(t, err, apperrors.ErrEmptyInput)
}

func TestRegister(t *testing.T) {
	reg := core.NewRegistry()
	Register(reg, 70)
	e, ok := reg.EncoderFor(core.FormatJPEG)
	require.True(t, ok)
	assert.Equal(t, 70, e.(*JPEG).DefaultQuality)
	_, ok = reg.EncoderFor(core.FormatPNG)
	assert.True(t, ok)
}
