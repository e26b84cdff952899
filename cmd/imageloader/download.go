package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/subscription"
)

func downloadCmd(g *globalFlags) *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "download <uri> <path>",
		Short: "Fetch the encoded bytes of an image and write them to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(args[0], tier, request.Options{})
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

			sink := subscription.DownloadTo(args[1], func(path string, ok bool) {
				if ok {
					fmt.Fprintln(cmd.OutOrStdout(), path)
				}
			})
			res, err := s.loader.Download(ctx, req, sink).Wait(ctx)
			if err != nil {
				return err
			}
			return resultErr(args[0], res.Status, res.Err)
		},
	}
	cmd.Flags().StringVar(&tier, "cache", "default", "cache tier: default or small")
	return cmd
}

func buildRequest(uri, tier string, opts request.Options) (request.Config, error) {
	src, err := request.ParseSource(uri)
	if err != nil {
		return request.Config{}, err
	}
	switch tier {
	case "", "default":
		opts.CacheTier = request.CacheDefault
	case "small":
		opts.CacheTier = request.CacheSmall
	default:
		return request.Config{}, fmt.Errorf("unknown cache tier %q", tier)
	}
	return request.New(src, opts)
}

func resultErr(uri string, status subscription.Status, err error) error {
	switch status {
	case subscription.StatusSuccess:
		return nil
	case subscription.StatusFailure:
		return fmt.Errorf("%s: %w", uri, err)
	}
	return fmt.Errorf("%s: %s", uri, status)
}
