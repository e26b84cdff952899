package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/afero"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/request"
	"github.com/Skryldev/imageloader/utils"
)

// File reads local file sources from an afero file system.
type File struct {
	fs        afero.Fs
	maxBytes  int64
	chunkSize int
}

// NewFile returns a File fetcher. A nil fsys uses the OS file system.
func NewFile(fsys afero.Fs, maxBytes int64, chunkSize int) *File {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &File{fs: fsys, maxBytes: maxBytes, chunkSize: chunkSize}
}

func (f *File) Fetch(ctx context.Context, src request.Source) (*Payload, error) {
	if err := checkKind("file.fetch", src, request.KindLocalFile); err != nil {
		return nil, err
	}
	path := src.Value()
	info, err := f.fs.Stat(path)
	if err != nil {
		return nil, notFoundOr("file.fetch", path, err)
	}
	if info.IsDir() {
		return nil, apperrors.New(apperrors.CategoryFetch, "file.fetch",
			fmt.Errorf("%w: %s is a directory", apperrors.ErrInvalidSource, path))
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return nil, apperrors.New(apperrors.CategoryInput, "file.fetch",
			fmt.Errorf("%w: %s is %d bytes", apperrors.ErrTooLarge, path, info.Size()))
	}

	file, err := f.fs.Open(path)
	if err != nil {
		return nil, notFoundOr("file.open", path, err)
	}
	defer file.Close()

	data, err := utils.ReadAll(ctx, &utils.LimitedReader{R: file, Max: f.maxBytes}, f.chunkSize)
	if err != nil {
		return nil, readErr("file.read", err)
	}
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.CategoryFetch, "file.read", apperrors.ErrEmptyInput)
	}
	return &Payload{Data: data}, nil
}

func notFoundOr(op, name string, err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, fs.ErrNotExist) {
		return apperrors.New(apperrors.CategoryFetch, op, fmt.Errorf("%w: %s", apperrors.ErrSourceNotFound, name))
	}
	return apperrors.Wrap(apperrors.CategoryFetch, op, err)
}
