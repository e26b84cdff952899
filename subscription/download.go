package subscription

import (
	"github.com/Skryldev/imageloader/adapters/storage"
	"github.com/Skryldev/imageloader/core"
	"github.com/Skryldev/imageloader/datasource"
	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/executor"
)

// DownloadSink receives the path an encoded image was written to.
type DownloadSink interface {
	// FilePath is the destination of the download.
	FilePath() string
	// OnResult is called exactly once per request unless the subscription is
	// cancelled or the request succeeds without a payload. path is where the
	// persister wrote the file, which may differ from FilePath when the
	// persister has a root directory. ok is false, and path empty, when the
	// download failed.
	OnResult(path string, ok bool)
}

type downloadSink struct {
	path string
	fn   func(path string, ok bool)
}

func (d downloadSink) FilePath() string              { return d.path }
func (d downloadSink) OnResult(path string, ok bool) { d.fn(path, ok) }

// DownloadTo returns a DownloadSink writing to path and reporting to fn.
func DownloadTo(path string, fn func(path string, ok bool)) DownloadSink {
	return downloadSink{path: path, fn: fn}
}

// SubscribeDownload writes the encoded bytes of h to sink.FilePath() through
// p and reports the outcome to sink, dispatched on exec.
func SubscribeDownload(h datasource.Handle[*core.PooledBytes], exec executor.Executor, sink DownloadSink, p storage.Persister, opts ...Option) *Subscription[string] {
	o := buildOptions(opts)
	f := flow[*core.PooledBytes, string]{
		name: "download",
		usable: func(b *core.PooledBytes) bool {
			return b != nil && b.IsValid()
		},
		extract: func(b *core.PooledBytes) (string, error) {
			path := sink.FilePath()
			if path == "" {
				return "", apperrors.New(apperrors.CategoryStorage, "download", apperrors.ErrNoFilePath)
			}
			if err := p.Persist(o.ctx, path, b.NewReader()); err != nil {
				return "", err
			}
			return storage.Resolve(p, path), nil
		},
		deliver: func(path string) { sink.OnResult(path, true) },
		fail:    func(error) { sink.OnResult("", false) },
	}
	return attach(h, exec, f, o)
}
