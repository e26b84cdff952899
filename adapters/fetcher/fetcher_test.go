package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/request"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

func TestHTTP_Fetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return the body and content type", func(t *testing.T) {
		var ua atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua.Store(r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngMagic)
		}))
		defer srv.Close()

		h := NewHTTP(HTTPOptions{UserAgent: "test-agent"})
		p, err := h.Fetch(ctx, request.NetworkURL(srv.URL+"/a.png"))
		require.NoError(t, err)
		assert.Equal(t, pngMagic, p.Data)
		assert.Equal(t, "image/png", p.ContentType)
		assert.Equal(t, "test-agent", ua.Load())
	})

	t.Run("Should classify status codes", func(t *testing.T) {
		cases := []struct {
			status    int
			retryable bool
			notFound  bool
		}{
			{http.StatusNotFound, false, true},
			{http.StatusForbidden, false, false},
			{http.StatusRequestTimeout, true, false},
			{http.StatusTooManyRequests, true, false},
			{http.StatusBadGateway, true, false},
		}
		for _, tc := range cases {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			_, err := NewHTTP(HTTPOptions{}).Fetch(ctx, request.NetworkURL(srv.URL))
			srv.Close()

			require.Error(t, err, "status %d", tc.status)
			assert.Equal(t, tc.retryable, apperrors.IsRetryable(err), "status %d", tc.status)
			assert.Equal(t, tc.notFound, errors.Is(err, apperrors.ErrSourceNotFound), "status %d", tc.status)
		}
	})

	t.Run("Should reject bodies over the limit", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(make([]byte, 64))
		}))
		defer srv.Close()

		_, err := NewHTTP(HTTPOptions{MaxBytes: 16}).Fetch(ctx, request.NetworkURL(srv.URL))
		assert.ErrorIs(t, err, apperrors.ErrTooLarge)
		assert.False(t, apperrors.IsRetryable(err))
	})

	t.Run("Should mark connection errors transient", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewHTTP(HTTPOptions{}).Fetch(ctx, request.NetworkURL(url))
		assert.True(t, apperrors.IsRetryable(err))
	})

	t.Run("Should refuse other source kinds", func(t *testing.T) {
		_, err := NewHTTP(HTTPOptions{}).Fetch(ctx, request.LocalFile("/a.png"))
		assert.ErrorIs(t, err, apperrors.ErrInvalidSource)
	})
}

func TestFile_Fetch(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/img/a.png", pngMagic, 0o644))
	require.NoError(t, afero.WriteFile(mem, "/img/empty.png", nil, 0o644))

	f := NewFile(mem, 1024, 0)

	p, err := f.Fetch(ctx, request.LocalFile("/img/a.png"))
	require.NoError(t, err)
	assert.Equal(t, pngMagic, p.Data)

	_, err = f.Fetch(ctx, request.LocalFile("/img/missing.png"))
	assert.ErrorIs(t, err, apperrors.ErrSourceNotFound)

	_, err = f.Fetch(ctx, request.LocalFile("/img/empty.png"))
	assert.ErrorIs(t, err, apperrors.ErrEmptyInput)

	_, err = f.Fetch(ctx, request.LocalFile("/img"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSource)

	_, err = NewFile(mem, 4, 0).Fetch(ctx, request.LocalFile("/img/a.png"))
	assert.ErrorIs(t, err, apperrors.ErrTooLarge)
}

func TestResource_Fetch(t *testing.T) {
	ctx := context.Background()
	fsys := fstest.MapFS{"icons/logo.png": &fstest.MapFile{Data: pngMagic}}
	r := NewResource(fsys, 0)

	p, err := r.Fetch(ctx, request.EmbeddedResource("/icons/logo.png"))
	require.NoError(t, err)
	assert.Equal(t, pngMagic, p.Data)

	_, err = r.Fetch(ctx, request.EmbeddedResource("icons/none.png"))
	assert.ErrorIs(t, err, apperrors.ErrSourceNotFound)
}

func TestRouter_Fetch(t *testing.T) {
	ctx := context.Background()
	var calls int
	router := NewRouter().Register(request.KindResource, Func(func(context.Context, request.Source) (*Payload, error) {
		calls++
		return &Payload{Data: pngMagic}, nil
	}))

	_, err := router.Fetch(ctx, request.EmbeddedResource("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = router.Fetch(ctx, request.NetworkURL("https://x/y.png"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSource)
}
