package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imageloader/adapters/cache"
	"github.com/Skryldev/imageloader/adapters/decoder"
	"github.com/Skryldev/imageloader/adapters/fetcher"
	"github.com/Skryldev/imageloader/config"
	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/datasource"
	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/executor"
	"github.com/Skryldev/imageloader/request"
)

type fakeFetcher struct {
	calls atomic.Int32
	data  []byte
	mu    sync.Mutex
	errs  []error
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ request.Source) (*fetcher.Payload, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, apperrors.New(apperrors.CategoryFetch, "fake.fetch", ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &fetcher.Payload{Data: f.data}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.WorkerCount = 2
	cfg.QueueSize = 16
	cfg.RetryDelay = 0
	cfg.JobTimeout = 5 * time.Second
	return cfg
}

func newClient(t *testing.T, cfg config.Config, f fetcher.Fetcher) *Client {
	t.Helper()
	reg := core.NewRegistry()
	decoder.Register(reg)
	c, err := NewClient(cfg, reg, f)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}

func waitFinished[T any](t *testing.T, h datasource.Handle[T]) {
	t.Helper()
	require.Eventually(t, h.IsFinished, 2*time.Second, time.Millisecond)
}

type bitmapRecorder struct {
	mu    sync.Mutex
	sizes []image.Point
	done  chan struct{}
	once  sync.Once
}

func newBitmapRecorder() *bitmapRecorder { return &bitmapRecorder{done: make(chan struct{})} }

func (r *bitmapRecorder) OnNewResult(h datasource.Handle[*core.PooledBitmap]) {
	if res := h.Result(); res != nil {
		r.mu.Lock()
		r.sizes = append(r.sizes, image.Pt(res.Get().Width(), res.Get().Height()))
		r.mu.Unlock()
		_ = res.Close()
	}
	if h.IsFinished() {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *bitmapRecorder) OnFailure(datasource.Handle[*core.PooledBitmap]) {
	r.once.Do(func() { close(r.done) })
}

func (r *bitmapRecorder) OnCancellation(datasource.Handle[*core.PooledBitmap]) {
	r.once.Do(func() { close(r.done) })
}

func (r *bitmapRecorder) OnProgressUpdate(datasource.Handle[*core.PooledBitmap]) {}

func TestClient_FetchEncoded(t *testing.T) {
	ctx := context.Background()

	t.Run("Should deliver the bytes and cache them per tier", func(t *testing.T) {
		f := &fakeFetcher{data: []byte("0123456789")}
		c := newClient(t, testConfig(), f)
		c.Start()

		req := request.MustNew(request.NetworkURL("https://img.example/a.png"), request.Options{})
		ds := c.FetchEncoded(ctx, req)
		waitFinished(t, ds)
		res := ds.Result()
		require.NotNil(t, res)
		assert.Equal(t, 10, res.Get().Size())
		require.NoError(t, res.Close())
		ds.Close()

		again := c.FetchEncoded(ctx, req)
		waitFinished(t, again)
		again.Close()
		assert.Equal(t, int32(1), f.calls.Load())

		small := request.MustNew(request.NetworkURL("https://img.example/a.png"), request.Options{CacheTier: request.CacheSmall})
		other := c.FetchEncoded(ctx, small)
		waitFinished(t, other)
		other.Close()
		assert.Equal(t, int32(2), f.calls.Load())
		assert.Equal(t, int64(3), c.ProcessedCount())
	})

	t.Run("Should read through the shared cache", func(t *testing.T) {
		f := &fakeFetcher{data: []byte("fresh")}
		c := newClient(t, testConfig(), f)
		shared, err := cache.NewLRU(4)
		require.NoError(t, err)
		req := request.MustNew(request.NetworkURL("https://img.example/b.png"), request.Options{})
		require.NoError(t, shared.Set(ctx, req.CacheKey(), []byte("shared")))
		c.SetSharedCache(shared)
		c.Start()

		ds := c.FetchEncoded(ctx, req)
		waitFinished(t, ds)
		defer ds.Close()
		assert.Equal(t, 6, ds.Result().Get().Size())
		assert.Zero(t, f.calls.Load())
	})

	t.Run("Should fill the shared cache after a fetch", func(t *testing.T) {
		f := &fakeFetcher{data: []byte("fresh")}
		c := newClient(t, testConfig(), f)
		shared, err := cache.NewLRU(4)
		require.NoError(t, err)
		c.SetSharedCache(shared)
		c.Start()

		req := request.MustNew(request.NetworkURL("https://img.example/c.png"), request.Options{})
		ds := c.FetchEncoded(ctx, req)
		waitFinished(t, ds)
		ds.Close()
		v, ok, err := shared.Get(ctx, req.CacheKey())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("fresh"), v)
	})

	t.Run("Should retry transient fetch errors", func(t *testing.T) {
		f := &fakeFetcher{
			data: []byte("ok"),
			errs: []error{apperrors.Transient("fake", errors.New("503")), apperrors.Transient("fake", errors.New("503"))},
		}
		c := newClient(t, testConfig(), f)
		c.Start()

		ds := c.FetchEncoded(ctx, request.MustNew(request.NetworkURL("https://img.example/d.png"), request.Options{}))
		waitFinished(t, ds)
		defer ds.Close()
		assert.False(t, ds.HasFailed())
		assert.Equal(t, int32(3), f.calls.Load())
	})

	t.Run("Should fail on permanent fetch errors", func(t *testing.T) {
		f := &fakeFetcher{errs: []error{apperrors.New(apperrors.CategoryFetch, "fake", apperrors.ErrSourceNotFound)}}
		c := newClient(t, testConfig(), f)
		c.Start()

		ds := c.FetchEncoded(ctx, request.MustNew(request.NetworkURL("https://img.example/e.png"), request.Options{}))
		waitFinished(t, ds)
		assert.True(t, ds.HasFailed())
		assert.ErrorIs(t, ds.FailureCause(), apperrors.ErrSourceNotFound)
		assert.Equal(t, int32(1), f.calls.Load())
		assert.Equal(t, int64(1), c.ErrorCount())
	})

	t.Run("Should fail empty requests", func(t *testing.T) {
		c := newClient(t, testConfig(), &fakeFetcher{})
		ds := c.FetchEncoded(ctx, request.Config{})
		assert.True(t, ds.HasFailed())
		assert.ErrorIs(t, ds.FailureCause(), apperrors.ErrEmptySource)
	})
}

func TestClient_FetchDecoded(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fit the target size", func(t *testing.T) {
		c := newClient(t, testConfig(), &fakeFetcher{data: newPNG(t, 100, 50)})
		c.Start()

		size := request.Size{Width: 20, Height: 20}
		ds := c.FetchDecoded(ctx, request.MustNew(request.NetworkURL("https://img.example/f.png"), request.Options{TargetSize: &size}))
		waitFinished(t, ds)
		defer ds.Close()
		require.False(t, ds.HasFailed(), "%v", ds.FailureCause())
		bm := ds.Result()
		require.NotNil(t, bm)
		defer bm.Close()
		assert.Equal(t, 20, bm.Get().Width())
		assert.Equal(t, 10, bm.Get().Height())
	})

	t.Run("Should publish a preview before the final bitmap", func(t *testing.T) {
		cfg := testConfig()
		cfg.PreviewSize = 32
		c := newClient(t, cfg, &fakeFetcher{data: newPNG(t, 128, 64)})

		ds := c.FetchDecoded(ctx, request.MustNew(request.NetworkURL("https://img.example/g.png"), request.Display()))
		rec := newBitmapRecorder()
		ds.Subscribe(rec, executor.Immediate())
		c.Start()

		select {
		case <-rec.done:
		case <-time.After(2 * time.Second):
			t.Fatal("fetch did not finish")
		}
		ds.Close()
		rec.mu.Lock()
		defer rec.mu.Unlock()
		assert.Equal(t, []image.Point{{32, 16}, {128, 64}}, rec.sizes)
	})

	t.Run("Should run the post-processor with hooks", func(t *testing.T) {
		c := newClient(t, testConfig(), &fakeFetcher{data: newPNG(t, 8, 8)})
		hook := &recordingHook{}
		c.AddHook(hook)
		c.Start()

		ds := c.FetchDecoded(ctx, request.MustNew(request.NetworkURL("https://img.example/h.png"),
			request.Options{PostProcessor: &GrayscaleStep{}}))
		waitFinished(t, ds)
		defer ds.Close()
		assert.False(t, ds.HasFailed())
		assert.Equal(t, []string{"decode", "grayscale"}, hook.steps())
	})

	t.Run("Should fail undecodable bytes", func(t *testing.T) {
		c := newClient(t, testConfig(), &fakeFetcher{data: []byte("definitely not pixels")})
		c.Start()

		ds := c.FetchDecoded(ctx, request.MustNew(request.NetworkURL("https://img.example/i.png"), request.Options{}))
		waitFinished(t, ds)
		assert.True(t, ds.HasFailed())
		assert.True(t, apperrors.IsCategory(ds.FailureCause(), apperrors.CategoryDecode))
	})
}

func TestClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	req := request.MustNew(request.NetworkURL("https://img.example/j.png"), request.Options{})

	t.Run("Should cancel the fetch when the handle is closed", func(t *testing.T) {
		f := &fakeFetcher{block: make(chan struct{})}
		c := newClient(t, testConfig(), f)
		c.Start()

		ds := c.FetchEncoded(ctx, req)
		require.Eventually(t, func() bool { return f.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
		assert.True(t, ds.Close())
		require.Eventually(t, func() bool { return c.ErrorCount() == 1 }, 2*time.Second, time.Millisecond)
		assert.False(t, ds.HasResult())
	})

	t.Run("Should reject fetches when the queue is full", func(t *testing.T) {
		cfg := testConfig()
		cfg.QueueSize = 1
		c := newClient(t, cfg, &fakeFetcher{data: []byte("x")})

		first := c.FetchEncoded(ctx, req)
		second := c.FetchEncoded(ctx, req)
		assert.False(t, first.IsFinished())
		assert.ErrorIs(t, second.FailureCause(), apperrors.ErrWorkerPoolFull)
	})

	t.Run("Should fail queued and later fetches after Stop", func(t *testing.T) {
		c := newClient(t, testConfig(), &fakeFetcher{data: []byte("x")})
		queued := c.FetchEncoded(ctx, req)
		c.Stop()

		assert.ErrorIs(t, queued.FailureCause(), apperrors.ErrClientStopped)
		late := c.FetchEncoded(ctx, req)
		assert.ErrorIs(t, late.FailureCause(), apperrors.ErrClientStopped)
	})
}
