package fetcher

import (
	"context"
	"io/fs"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/utils"
)

// Resource resolves embedded resource sources by name in an fs.FS, usually
// an embed.FS compiled into the host binary.
type Resource struct {
	fsys     fs.FS
	maxBytes int64
}

// NewResource returns a Resource fetcher over fsys.
func NewResource(fsys fs.FS, maxBytes int64) *Resource {
	return &Resource{fsys: fsys, maxBytes: maxBytes}
}

func (r *Resource) Fetch(ctx context.Context, src request.Source) (*Payload, error) {
	if err := checkKind("resource.fetch", src, request.KindResource); err != nil {
		return nil, err
	}
	if r.fsys == nil {
		return nil, apperrors.New(apperrors.CategoryFetch, "resource.fetch", apperrors.ErrSourceNotFound)
	}
	f, err := r.fsys.Open(src.Value())
	if err != nil {
		return nil, notFoundOr("resource.open", src.Value(), err)
	}
	defer f.Close()

	data, err := utils.ReadAll(ctx, &utils.LimitedReader{R: f, Max: r.maxBytes}, 0)
	if err != nil {
		return nil, readErr("resource.read", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryFetch, "resource.read", apperrors.ErrEmptyInput)
	}
	return &Payload{Data: data}, nil
}
