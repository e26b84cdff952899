package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	imageloader "github.com/Skryldev/imageloader"
	"github.com/Skryldev/imageloader/adapters/storage"
	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/executor"
	"github.com/Skryldev/imageloader/pipeline"
	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/subscription"
)

type decodeFlags struct {
	tier      string
	width     int
	height    int
	noRotate  bool
	grayscale bool
	blur      int
	quality   int
	format    string
}

func decodeCmd(g *globalFlags) *cobra.Command {
	var f decodeFlags
	cmd := &cobra.Command{
		Use:   "decode <uri> <out>",
		Short: "Decode an image, optionally scale and filter it, and re-encode it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(args[1], f.format)
			if err != nil {
				return err
			}
			req, err := buildRequest(args[0], f.tier, f.options())
			if err != nil {
				return err
			}
			s, err := newSession(g)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()

			sub := s.loader.LoadBitmap(ctx, req, executor.Immediate(), subscription.BitmapSinkFunc(func(*image.RGBA) {}))
			res, err := sub.Wait(ctx)
			if err != nil {
				return err
			}
			if err := resultErr(args[0], res.Status, res.Err); err != nil {
				return err
			}

			enc := &pipeline.EncodeStep{
				Registry:    s.loader.Registry(),
				Format:      format,
				BaseOptions: core.EncodeOptions{Quality: f.quality},
			}
			b := res.Value.Bounds()
			out, err := enc.Execute(ctx, &core.ImageData{
				Image:  res.Value,
				Format: format,
				Meta:   core.Metadata{Width: b.Dx(), Height: b.Dy()},
			})
			if err != nil {
				return err
			}

			p, err := storage.NewLocal("", 0)
			if err != nil {
				return err
			}
			if err := p.Persist(ctx, args[1], bytes.NewReader(out.Data)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d %s %d bytes\n", args[1], b.Dx(), b.Dy(), format, len(out.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&f.tier, "cache", "default", "cache tier: default or small")
	cmd.Flags().IntVar(&f.width, "width", 0, "fit inside this width (requires --height)")
	cmd.Flags().IntVar(&f.height, "height", 0, "fit inside this height (requires --width)")
	cmd.Flags().BoolVar(&f.noRotate, "no-rotate", false, "ignore the EXIF orientation")
	cmd.Flags().BoolVar(&f.grayscale, "grayscale", false, "convert to grayscale")
	cmd.Flags().IntVar(&f.blur, "blur", 0, "blur radius in pixels; 0 disables")
	cmd.Flags().IntVar(&f.quality, "quality", 0, "encode quality 1-100; 0 uses the configured default")
	cmd.Flags().StringVar(&f.format, "format", "", "output format; defaults to the extension of <out>")
	return cmd
}

func (f decodeFlags) options() request.Options {
	opts := request.Options{AutoRotate: !f.noRotate}
	if f.width > 0 || f.height > 0 {
		opts.TargetSize = &request.Size{Width: f.width, Height: f.height}
	}
	var steps []core.Step
	if f.grayscale {
		steps = append(steps, imageloader.Grayscale())
	}
	if f.blur > 0 {
		steps = append(steps, imageloader.Blur(f.blur))
	}
	if len(steps) > 0 {
		opts.PostProcessor = imageloader.Chain(steps...)
	}
	return opts
}

func outputFormat(path, override string) (core.Format, error) {
	name := override
	if name == "" {
		name = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	switch strings.ToLower(name) {
	case "jpg", "jpeg":
		return core.FormatJPEG, nil
	case "png":
		return core.FormatPNG, nil
	case "webp":
		return core.FormatWebP, nil
	}
	return "", fmt.Errorf("cannot infer output format from %q; pass --format", path)
}
