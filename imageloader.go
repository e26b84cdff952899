// Package imageloader is the entry point of the library. A Loader fetches
// images from network, file and embedded-resource sources and delivers them
// either as decoded bitmaps or as files written to disk, calling the caller's
// sink on the executor the caller picks.
package imageloader

import (
	"context"
	"image"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/Skryldev/imageloader/adapters/cache"
	"github.com/Skryldev/imageloader/adapters/decoder"
	"github.com/Skryldev/imageloader/adapters/encoder"
	"github.com/Skryldev/imageloader/adapters/fetcher"
	"github.com/Skryldev/imageloader/adapters/storage"
	"github.com/Skryldev/imageloader/config"
	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/executor"
	"github.com/Skryldev/imageloader/hooks"
	"github.com/Skryldev/imageloader/pipeline"
	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/subscription"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Loader wires the fetch client, executors, persistence and subscriptions.
// It is safe for concurrent use.
type Loader struct {
	cfg        config.Config
	reg        *core.DefaultRegistry
	client     *pipeline.Client
	persister  storage.Persister
	background *executor.Pool
	logger     core.Logger
	metrics    core.MetricsCollector
	closers    []func() error
}

// Option configures a Loader.
type Option func(*options)

type options struct {
	logger     core.Logger
	metrics    core.MetricsCollector
	fetcher    fetcher.Fetcher
	fs         afero.Fs
	resources  fs.FS
	persister  storage.Persister
	shared     cache.Store
	hooks      []core.Hook
	httpClient *http.Client
}

// WithLogger attaches a structured logger.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics attaches a metrics collector.
func WithMetrics(m core.MetricsCollector) Option { return func(o *options) { o.metrics = m } }

// WithFetcher replaces the built-in source router.
func WithFetcher(f fetcher.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithFileSystem sets the file system local sources are read from and
// downloads are written to. Defaults to the OS file system.
func WithFileSystem(fsys afero.Fs) Option { return func(o *options) { o.fs = fsys } }

// WithResources sets the file system embedded resources are resolved in.
func WithResources(fsys fs.FS) Option { return func(o *options) { o.resources = fsys } }

// WithPersister replaces the default file persister used by Download.
func WithPersister(p storage.Persister) Option { return func(o *options) { o.persister = p } }

// WithSharedCache puts s behind the in-process cache tiers instead of the
// Redis cache named in the config.
func WithSharedCache(s cache.Store) Option { return func(o *options) { o.shared = s } }

// WithHook registers a hook run around decode and post-processing steps.
func WithHook(h core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h) } }

// WithHTTPClient replaces the transport of the network fetcher.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// New creates a Loader with the standard codecs registered. Call Start
// before loading and Stop when done.
func New(cfg config.Config, opts ...Option) (*Loader, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "loader.new", err)
	}
	o := options{
		logger:  core.NopLogger{},
		metrics: core.NopMetrics{},
		fs:      afero.NewOsFs(),
	}
	for _, fn := range opts {
		fn(&o)
	}

	reg := core.NewRegistry()
	decoder.Register(reg)
	encoder.Register(reg, cfg.DefaultQuality)

	f := o.fetcher
	if f == nil {
		f = fetcher.NewRouter().
			Register(request.KindNetwork, fetcher.NewHTTP(fetcher.HTTPOptions{
				Timeout:   cfg.HTTP.Timeout,
				UserAgent: cfg.HTTP.UserAgent,
				MaxBytes:  cfg.MaxImageBytes,
				ChunkSize: cfg.ChunkSize,
				Client:    o.httpClient,
			})).
			Register(request.KindLocalFile, fetcher.NewFile(o.fs, cfg.MaxImageBytes, cfg.ChunkSize)).
			Register(request.KindResource, fetcher.NewResource(o.resources, cfg.MaxImageBytes))
	}

	l := &Loader{cfg: cfg, reg: reg, logger: o.logger, metrics: o.metrics}

	l.persister = o.persister
	if l.persister == nil {
		p, err := storage.NewFS(o.fs, cfg.Download.RootDir, os.FileMode(cfg.Download.Permissions), cfg.ChunkSize)
		if err != nil {
			return nil, apperrors.New(apperrors.CategoryStorage, "loader.new", err)
		}
		l.persister = p
	}

	client, err := pipeline.NewClient(cfg, reg, f)
	if err != nil {
		return nil, err
	}
	client.SetLogger(o.logger)
	client.SetMetrics(o.metrics)
	client.AddHook(hooks.NewMetricsHook(o.metrics))
	for _, h := range o.hooks {
		client.AddHook(h)
	}

	shared := o.shared
	if shared == nil && cfg.Cache.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r, closeFn, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPrefix, cfg.Cache.RedisTTL)
		cancel()
		if err != nil {
			return nil, err
		}
		shared = r
		l.closers = append(l.closers, closeFn)
	}
	if shared != nil {
		client.SetSharedCache(shared)
	}
	l.client = client

	l.background = executor.NewSerial(cfg.QueueSize, func(p any, stack []byte) {
		l.logger.Error("background task panicked", "tag", subscription.DefaultTag, "panic", p, "stack", string(stack))
	})
	return l, nil
}

// Start launches the fetch workers.
func (l *Loader) Start() { l.client.Start() }

// Stop cancels outstanding fetches, drains the background executor and
// closes the shared cache connection.
func (l *Loader) Stop() {
	l.client.Stop()
	l.background.Close()
	for _, closeFn := range l.closers {
		if err := closeFn(); err != nil {
			l.logger.Warn("close failed", "error", err.Error())
		}
	}
	l.closers = nil
}

// Registry exposes the codec registry so callers can add codecs.
func (l *Loader) Registry() *core.DefaultRegistry { return l.reg }

// Client exposes the underlying fetch client.
func (l *Loader) Client() *pipeline.Client { return l.client }

// Background is the single-worker executor downloads are reported on.
func (l *Loader) Background() executor.Executor { return l.background }

// LoadBitmap fetches and decodes req and hands an independent copy of the
// pixels to sink on exec. The sink is not called on failure unless it
// implements subscription.FailureSink.
func (l *Loader) LoadBitmap(ctx context.Context, req request.Config, exec executor.Executor, sink subscription.BitmapSink, opts ...subscription.Option) *subscription.Subscription[*image.RGBA] {
	h := l.client.FetchDecoded(ctx, req)
	return subscription.SubscribeBitmap(h, exec, sink, l.subscriptionOptions(ctx, opts)...)
}

// Download fetches the encoded bytes of req, writes them to sink.FilePath()
// and reports the outcome to sink on the background executor. The sink is
// called exactly once unless the subscription is cancelled.
func (l *Loader) Download(ctx context.Context, req request.Config, sink subscription.DownloadSink, opts ...subscription.Option) *subscription.Subscription[string] {
	return l.DownloadWith(ctx, req, l.background, l.persister, sink, opts...)
}

// DownloadWith is Download with an explicit executor and persister.
func (l *Loader) DownloadWith(ctx context.Context, req request.Config, exec executor.Executor, p storage.Persister, sink subscription.DownloadSink, opts ...subscription.Option) *subscription.Subscription[string] {
	h := l.client.FetchEncoded(ctx, req)
	return subscription.SubscribeDownload(h, exec, sink, p, l.subscriptionOptions(ctx, opts)...)
}

func (l *Loader) subscriptionOptions(ctx context.Context, opts []subscription.Option) []subscription.Option {
	base := []subscription.Option{
		subscription.WithContext(ctx),
		subscription.WithLogger(l.logger),
		subscription.WithMetrics(l.metrics),
	}
	return append(base, opts...)
}
