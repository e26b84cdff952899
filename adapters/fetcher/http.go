package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/utils"
)

const defaultUserAgent = "imageloader/1.0"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	Timeout   time.Duration
	UserAgent string
	// MaxBytes caps the body size; 0 means unlimited.
	MaxBytes  int64
	ChunkSize int
	// Client replaces the default transport, e.g. in tests.
	Client    *http.Client
}

// HTTP fetches network sources.
type HTTP struct {
	client    *resty.Client
	maxBytes  int64
	chunkSize int
}

// NewHTTP builds an HTTP fetcher. Retries are left to the caller so that
// they share one policy with the other fetchers.
func NewHTTP(opts HTTPOptions) *HTTP {
	var client *resty.Client
	if opts.Client != nil {
		client = resty.NewWithClient(opts.Client)
	} else {
		client = resty.New()
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	client.
		SetHeader("User-Agent", ua).
		SetHeader("Accept", "image/*").
		SetRetryCount(0)
	return &HTTP{client: client, maxBytes: opts.MaxBytes, chunkSize: opts.ChunkSize}
}

func (h *HTTP) Fetch(ctx context.Context, src request.Source) (*Payload, error) {
	if err := checkKind("http.fetch", src, request.KindNetwork); err != nil {
		return nil, err
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(src.Value())
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.New(apperrors.CategoryFetch, "http.fetch", ctx.Err())
		}
		return nil, apperrors.Transient("http.fetch", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if err := statusErr(resp.StatusCode(), src.Value()); err != nil {
		return nil, err
	}
	data, err := utils.ReadAll(ctx, &utils.LimitedReader{R: body, Max: h.maxBytes}, h.chunkSize)
	if err != nil {
		return nil, readErr("http.read", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryFetch, "http.read", apperrors.ErrEmptyInput)
	}
	return &Payload{Data: data, ContentType: resp.Header().Get("Content-Type")}, nil
}

// statusErr maps HTTP status codes to errors: 408, 429 and 5xx are
// transient, any other non-2xx status is permanent.
func statusErr(code int, url string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("GET %s: status %d", url, code)
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperrors.New(apperrors.CategoryFetch, "http.fetch", errors.Join(apperrors.ErrSourceNotFound, err))
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return apperrors.Transient("http.fetch", err)
	}
	return apperrors.New(apperrors.CategoryFetch, "http.fetch", err)
}
