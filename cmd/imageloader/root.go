package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	imageloader "github.com/Skryldev/imageloader"
	"github.com/Skryldev/imageloader/config"
	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/hooks"
)

// backends run against the loader registry before the first request. Build
// tags add entries.
var backends []func(cfg config.Config, reg core.Registry) (shutdown func())

type globalFlags struct {
	metricsAddr string
	logLevel    string
	logFormat   string
	timeout     time.Duration
}

// RootCmd builds the command tree.
func RootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "imageloader",
		Short:         "Fetch images to disk or decode them to bitmaps",
		Long:          "Configuration is read from IMAGELOADER_* environment variables; flags override it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "override the configured log format (text or json)")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", time.Minute, "overall deadline for the command")

	root.AddCommand(
		downloadCmd(&g),
		decodeCmd(&g),
	)
	return root
}

// session is a started Loader plus everything that has to be torn down with it.
type session struct {
	loader  *imageloader.Loader
	logger  *hooks.SlogLogger
	cleanup []func()
}

func (s *session) Close() {
	if s.loader != nil {
		s.loader.Stop()
	}
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func newSession(g *globalFlags) (*session, error) {
	cfg, err := config.FromEnv(config.EnvPrefix)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logger := hooks.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	s := &session{logger: logger}

	var metrics core.MetricsCollector = core.NopMetrics{}
	if g.metricsAddr != "" {
		prom := hooks.NewPromMetrics("imageloader", prometheus.NewRegistry())
		metrics = prom
		srv := &http.Server{Addr: g.metricsAddr, Handler: prom.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", g.metricsAddr, "error", err.Error())
			}
		}()
		s.cleanup = append(s.cleanup, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}

	l, err := imageloader.New(cfg,
		imageloader.WithLogger(logger),
		imageloader.WithMetrics(metrics),
		imageloader.WithHook(hooks.NewLoggingHook(logger)),
	)
	if err != nil {
		s.Close()
		return nil, err
	}
	for _, register := range backends {
		if shutdown := register(cfg, l.Registry()); shutdown != nil {
			s.cleanup = append(s.cleanup, shutdown)
		}
	}
	s.loader = l
	l.Start()
	return s, nil
}
