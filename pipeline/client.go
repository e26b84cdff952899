package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Skryldev/imageloader/adapters/cache"
	"github.com/Skryldev/imageloader/adapters/decoder"
	"github.com/Skryldev/imageloader/adapters/fetcher"
	"github.com/Skryldev/imageloader/config"
	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/datasource"
	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/ref"
	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/utils"
)

// Client turns requests into data sources. Fetches run on a bounded worker
// pool; encoded bytes are cached per cache tier and concurrent fetches of
// the same key share one download. It is safe for concurrent use.
type Client struct {
	cfg      config.Config
	registry core.Registry
	fetcher  fetcher.Fetcher
	hooks    []core.Hook
	logger   core.Logger
	metrics  core.MetricsCollector

	tiers   map[request.CacheTier]*cache.LRU
	shared  cache.Store
	group   singleflight.Group
	bitmaps *core.BitmapPool
	rotated core.Registry

	// Worker pool.
	jobQueue   chan job
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	mu         sync.RWMutex
	stopped    bool
	base       context.Context
	cancelBase context.CancelFunc

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	run    func(ctx context.Context) error
	fail   func(err error)
}

// NewClient creates a Client. Call Start() before fetching; call Stop() when
// done.
func NewClient(cfg config.Config, reg core.Registry, f fetcher.Fetcher) (*Client, error) {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	tiers := make(map[request.CacheTier]*cache.LRU, 2)
	for tier, size := range map[request.CacheTier]int{
		request.CacheDefault: cfg.Cache.DefaultEntries,
		request.CacheSmall:   cfg.Cache.SmallEntries,
	} {
		c, err := cache.NewLRU(size)
		if err != nil {
			return nil, apperrors.New(apperrors.CategoryConfig, "client.new", fmt.Errorf("%s tier: %w", tier, err))
		}
		tiers[tier] = c
	}
	base, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:        cfg,
		registry:   reg,
		fetcher:    f,
		logger:     core.NopLogger{},
		metrics:    core.NopMetrics{},
		tiers:      tiers,
		bitmaps:    core.NewBitmapPool(cfg.MaxBitmapPixels),
		rotated:    orientedRegistry{Registry: reg, jpeg: decoder.NewOrientedJPEG()},
		jobQueue:   make(chan job, queueSize),
		base:       base,
		cancelBase: cancel,
	}, nil
}

// SetLogger attaches a structured logger.
func (c *Client) SetLogger(l core.Logger) { c.logger = l }

// SetMetrics attaches a metrics collector.
func (c *Client) SetMetrics(m core.MetricsCollector) { c.metrics = m }

// AddHook registers a hook run around decode and post-processing steps.
func (c *Client) AddHook(h core.Hook) { c.hooks = append(c.hooks, h) }

// SetSharedCache puts s behind the in-process cache tiers.
func (c *Client) SetSharedCache(s cache.Store) { c.shared = s }

// SetBitmapPool replaces the pool decoded bitmaps are drawn from.
func (c *Client) SetBitmapPool(p *core.BitmapPool) { c.bitmaps = p }

// Registry returns the underlying registry so callers can register
// decoders after construction.
func (c *Client) Registry() core.Registry { return c.registry }

// Start launches the worker pool.  It is idempotent.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		workerCount := c.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			c.wg.Add(1)
			go c.worker()
		}
	})
}

// Stop cancels in-flight fetches and waits for the workers to exit. Queued
// fetches fail with ErrClientStopped; later fetches fail immediately.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		c.cancelBase()
		close(c.jobQueue)
		c.Start() // drain the queue even if never started
		c.wg.Wait()
	})
}

// FetchEncoded returns a data source yielding the encoded bytes of req.
func (c *Client) FetchEncoded(ctx context.Context, req request.Config) *datasource.DataSource[*core.PooledBytes] {
	return submitFetch(ctx, c, req, func(ctx context.Context, ds *datasource.DataSource[*core.PooledBytes]) error {
		data, err := c.encoded(ctx, req)
		if err != nil {
			return err
		}
		ds.SetResult(ref.New(core.NewPooledBytes(data), (*core.PooledBytes).Release), true)
		return nil
	})
}

// FetchDecoded returns a data source yielding the decoded bitmap of req.
// Progressive and thumbnail-preview requests first publish a downscaled
// preview as an intermediate result.
func (c *Client) FetchDecoded(ctx context.Context, req request.Config) *datasource.DataSource[*core.PooledBitmap] {
	return submitFetch(ctx, c, req, func(ctx context.Context, ds *datasource.DataSource[*core.PooledBitmap]) error {
		data, err := c.encoded(ctx, req)
		if err != nil {
			return err
		}
		ds.SetProgress(0.5)

		img, err := c.decode(ctx, req, data)
		if err != nil {
			return err
		}
		if req.Progressive() || req.ThumbnailPreview() {
			if preview := c.preview(img); preview != nil {
				ds.SetResult(c.bitmap(preview), false)
			}
		}
		img, err = c.finish(ctx, req, img)
		if err != nil {
			return err
		}
		src, ok := img.Image.(image.Image)
		if !ok || src == nil {
			return apperrors.New(apperrors.CategoryPipeline, "client.finish", apperrors.ErrEmptyInput)
		}
		ds.SetResult(c.bitmap(src), true)
		return nil
	})
}

// submitFetch queues run for req and returns its data source. Closing the
// data source cancels the fetch.
func submitFetch[T any](ctx context.Context, c *Client, req request.Config, run func(context.Context, *datasource.DataSource[T]) error) *datasource.DataSource[T] {
	if req.IsZero() {
		return datasource.Failed[T](apperrors.New(apperrors.CategoryInput, "client.fetch", apperrors.ErrEmptySource))
	}
	jobCtx, cancel := context.WithCancel(ctx)
	ds := datasource.New[T](datasource.WithCancel(cancel))
	err := c.submit(job{
		ctx:    jobCtx,
		cancel: cancel,
		run:    func(ctx context.Context) error { return run(ctx, ds) },
		fail:   func(err error) { ds.SetFailure(err) },
	})
	if err != nil {
		cancel()
		c.recordError("submit", err)
		ds.SetFailure(err)
	}
	return ds
}

// submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (c *Client) submit(j job) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrClientStopped)
	}
	select {
	case c.jobQueue <- j:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (c *Client) worker() {
	defer c.wg.Done()
	for j := range c.jobQueue {
		c.processJob(j)
	}
}

func (c *Client) processJob(j job) {
	defer j.cancel()
	if c.base.Err() != nil {
		err := apperrors.New(apperrors.CategoryPipeline, "client.fetch", apperrors.ErrClientStopped)
		c.recordError("fetch", err)
		j.fail(err)
		return
	}
	stop := context.AfterFunc(c.base, j.cancel)
	defer stop()

	ctx := j.ctx
	if c.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.JobTimeout)
		defer cancel()
	}

	err := c.runJob(ctx, j)
	if err == nil {
		atomic.AddInt64(&c.processedCount, 1)
		return
	}
	if c.base.Err() != nil {
		err = apperrors.New(apperrors.CategoryPipeline, "client.fetch", fmt.Errorf("%w: %w", apperrors.ErrClientStopped, err))
	}
	c.recordError("fetch", err)
	j.fail(err)
}

func (c *Client) runJob(ctx context.Context, j job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperrors.New(apperrors.CategoryPipeline, "client.fetch",
				fmt.Errorf("panic: %v\n%s", p, debug.Stack()))
		}
	}()
	if err := ctx.Err(); err != nil {
		return apperrors.New(apperrors.CategoryFetch, "client.fetch", err)
	}
	return j.run(ctx)
}

// ── fetch and cache ───────────────────────────────────────────────────────────

func (c *Client) tier(t request.CacheTier) *cache.LRU {
	if l, ok := c.tiers[t]; ok {
		return l
	}
	return c.tiers[request.CacheDefault]
}

// encoded returns the encoded bytes of req from its cache tier, the shared
// cache or the fetcher, in that order.
func (c *Client) encoded(ctx context.Context, req request.Config) ([]byte, error) {
	tier := c.tier(req.CacheTier())
	key := req.CacheKey()
	if data, ok, _ := tier.Get(ctx, key); ok {
		return data, nil
	}

	v, err, _ := c.group.Do(req.CacheTier().String()+"|"+key, func() (any, error) {
		if data, ok := c.sharedGet(ctx, key); ok {
			_ = tier.Set(ctx, key, data)
			return data, nil
		}
		data, err := c.fetchWithRetry(ctx, req.Source())
		if err != nil {
			return nil, err
		}
		_ = tier.Set(ctx, key, data)
		c.sharedSet(ctx, key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) sharedGet(ctx context.Context, key string) ([]byte, bool) {
	if c.shared == nil {
		return nil, false
	}
	data, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared cache read failed", "key", key, "error", err.Error())
		return nil, false
	}
	return data, ok
}

func (c *Client) sharedSet(ctx context.Context, key string, data []byte) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, data); err != nil {
		c.logger.Warn("shared cache write failed", "key", key, "error", err.Error())
	}
}

func (c *Client) fetchWithRetry(ctx context.Context, src request.Source) ([]byte, error) {
	start := time.Now()
	var (
		payload *fetcher.Payload
		err     error
	)
	for i := 0; i <= c.cfg.MaxRetries; i++ {
		payload, err = c.fetcher.Fetch(ctx, src)
		if err == nil || !apperrors.IsRetryable(err) {
			break
		}
		if i < c.cfg.MaxRetries {
			c.logger.Debug("retrying fetch", "source", src.String(), "attempt", i+1, "error", err.Error())
			if werr := sleep(ctx, c.cfg.RetryDelay); werr != nil {
				return nil, apperrors.New(apperrors.CategoryFetch, "client.fetch", werr)
			}
		}
	}
	c.metrics.RecordProcessingTime("fetch", time.Since(start))
	if err != nil {
		return nil, err
	}
	c.metrics.RecordThroughput(int64(len(payload.Data)))
	return payload.Data, nil
}

// ── decode and post-processing ────────────────────────────────────────────────

func (c *Client) decode(ctx context.Context, req request.Config, data []byte) (*core.ImageData, error) {
	reg := c.registry
	if req.AutoRotate() {
		reg = c.rotated
	}
	p := New(&DecodeStep{Registry: reg})
	if req.AutoRotate() {
		p.Use(&AutoOrientStep{})
	}
	start := time.Now()
	img, err := c.run(ctx, p, &core.ImageData{
		Data:         data,
		Format:       core.Format(utils.DetectFormat(data)),
		OriginalSize: int64(len(data)),
	})
	c.metrics.RecordProcessingTime("decode", time.Since(start))
	return img, err
}

func (c *Client) finish(ctx context.Context, req request.Config, img *core.ImageData) (*core.ImageData, error) {
	p := New()
	if size, ok := req.TargetSize(); ok {
		p.Use(&ResizeStep{Width: size.Width, Height: size.Height, Fit: true})
	}
	if pp := req.PostProcessor(); pp != nil {
		p.Use(pp)
	}
	if p.Len() == 0 {
		return img, nil
	}
	start := time.Now()
	out, err := c.run(ctx, p, img)
	c.metrics.RecordProcessingTime("postprocess", time.Since(start))
	return out, err
}

func (c *Client) run(ctx context.Context, p *Pipeline, img *core.ImageData) (*core.ImageData, error) {
	for _, h := range c.hooks {
		p.AddHook(h)
	}
	return p.Execute(ctx, img)
}

// preview returns img scaled down to the preview size, or nil when the image
// is already that small.
func (c *Client) preview(img *core.ImageData) image.Image {
	size := c.cfg.PreviewSize
	src, ok := img.Image.(image.Image)
	if size <= 0 || !ok || src == nil {
		return nil
	}
	b := src.Bounds()
	if b.Dx() <= size && b.Dy() <= size {
		return nil
	}
	out, err := (&ResizeStep{Width: size, Height: size, Fit: true}).Execute(context.Background(), img)
	if err != nil {
		return nil
	}
	return out.Image.(image.Image)
}

// bitmap copies src into a pooled bitmap owned by the returned reference.
func (c *Client) bitmap(src image.Image) *ref.Ref[*core.PooledBitmap] {
	b := src.Bounds()
	bm := c.bitmaps.Get(b.Dx(), b.Dy())
	dst := bm.Underlying()
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return ref.New(bm, (*core.PooledBitmap).Recycle)
}

func (c *Client) recordError(stage string, err error) {
	atomic.AddInt64(&c.errorCount, 1)
	cat := apperrors.CategoryOf(err)
	if cat == "" {
		cat = apperrors.CategoryPipeline
	}
	c.metrics.RecordError(stage, string(cat))
}

// ProcessedCount returns the total number of fetches that produced a result.
func (c *Client) ProcessedCount() int64 { return atomic.LoadInt64(&c.processedCount) }

// ErrorCount returns the total number of failed fetches.
func (c *Client) ErrorCount() int64 { return atomic.LoadInt64(&c.errorCount) }

// orientedRegistry serves JPEG through an EXIF-orienting decoder.
type orientedRegistry struct {
	core.Registry
	jpeg core.Decoder
}

func (r orientedRegistry) DecoderFor(f core.Format) (core.Decoder, bool) {
	if f == core.FormatJPEG {
		return r.jpeg, true
	}
	return r.Registry.DecoderFor(f)
}
