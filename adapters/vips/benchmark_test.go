//go:build vips

package vips_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/Skryldev/imageloader/adapters/decoder"
	"github.com/Skryldev/imageloader/adapters/vips"
	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/pipeline"
)

func makeJPEG(b *testing.B, w, h int) []byte {
	b.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
		b.Fatal(err)
	}
	return buf.Bytes()
}

func stdlibRegistry() core.Registry {
	reg := core.NewRegistry()
	decoder.Register(reg)
	return reg
}

func vipsRegistry(b *testing.B) core.Registry {
	b.Helper()
	backend := vips.NewBackend(vips.BackendConfig{DefaultQuality: 85})
	b.Cleanup(backend.Shutdown)
	reg := core.NewRegistry()
	vips.RegisterVipsBackend(reg, backend)
	return reg
}

func benchPipeline(b *testing.B, raw []byte, p *pipeline.Pipeline) {
	b.Helper()
	b.ReportAllocs()
	b.SetBytes(int64(len(raw)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.Execute(context.Background(), &core.ImageData{Data: raw, Format: core.FormatJPEG}); err != nil {
			b.Fatal(err)
		}
	}
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func BenchmarkDecode_Stdlib_1920x1080(b *testing.B) {
	benchPipeline(b, makeJPEG(b, 1920, 1080), pipeline.New(&pipeline.DecodeStep{Registry: stdlibRegistry()}))
}

func BenchmarkDecode_Vips_1920x1080(b *testing.B) {
	benchPipeline(b, makeJPEG(b, 1920, 1080), pipeline.New(&pipeline.DecodeStep{Registry: vipsRegistry(b)}))
}

// ─── Thumbnail ────────────────────────────────────────────────────────────────

func BenchmarkThumbnail_Stdlib_4K(b *testing.B) {
	benchPipeline(b, makeJPEG(b, 3840, 2160), pipeline.New(
		&pipeline.DecodeStep{Registry: stdlibRegistry()},
		&pipeline.ThumbnailStep{Size: 256},
	))
}

func BenchmarkThumbnail_Vips_4K(b *testing.B) {
	_ = vipsRegistry(b)
	benchPipeline(b, makeJPEG(b, 3840, 2160), pipeline.New(&vips.ThumbnailStep{Size: 256}))
}
