package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	apperrors "github.com/Skryldev/imageloader/errors"
	"github.com/Skryldev/imageloader/utils"
)

// FS persists files on an afero file system. Relative paths are resolved
// against the root directory; absolute paths are used as given.
type FS struct {
	fs          afero.Fs
	rootDir     string
	permissions os.FileMode
	chunkSize   int
}

// NewFS creates an FS persister on fsys rooted at dir. An empty dir leaves
// relative paths relative to the process working directory.
func NewFS(fsys afero.Fs, dir string, perm os.FileMode, chunkSize int) (*FS, error) {
	if fsys == nil {
		return nil, fmt.Errorf("fs storage: file system must not be nil")
	}
	if perm == 0 {
		perm = 0o644
	}
	if dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("fs storage: mkdir %s: %w", dir, err)
		}
	}
	return &FS{fs: fsys, rootDir: dir, permissions: perm, chunkSize: chunkSize}, nil
}

// NewLocal creates an FS persister on the operating system file system.
func NewLocal(dir string, perm os.FileMode) (*FS, error) {
	return NewFS(afero.NewOsFs(), dir, perm, 0)
}

// Fs returns the underlying file system.
func (l *FS) Fs() afero.Fs { return l.fs }

// Resolve returns the path Persist writes path to: relative paths are joined
// to the root directory.
func (l *FS) Resolve(path string) string { return l.absPath(path) }

func (l *FS) absPath(path string) string {
	path = filepath.Clean(path)
	if filepath.IsAbs(path) || l.rootDir == "" {
		return path
	}
	return filepath.Join(l.rootDir, path)
}

// Persist writes r to a temporary file next to path and renames it into
// place once every byte has been written.
func (l *FS) Persist(ctx context.Context, path string, r io.Reader) error {
	if path == "" {
		return apperrors.New(apperrors.CategoryStorage, "fs.persist", apperrors.ErrNoFilePath)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.persist", err)
	}

	dst := l.absPath(path)
	if err := l.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.persist.mkdir", err)
	}

	tmp := dst + "." + uuid.NewString() + ".part"
	f, err := l.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, l.permissions)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.persist.open", err)
	}

	w := &utils.ChunkedWriter{W: f, ChunkSize: l.chunkSize}
	_, err = io.Copy(w, &ctxReader{ctx: ctx, r: r})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = l.fs.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.persist.copy", err)
	}
	if err := l.fs.Rename(tmp, dst); err != nil {
		_ = l.fs.Remove(tmp)
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.persist.rename", err)
	}
	return nil
}

// Open returns the file at path.
func (l *FS) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "fs.open", err)
	}
	f, err := l.fs.Open(l.absPath(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.New(apperrors.CategoryStorage, "fs.open",
				fmt.Errorf("%w: %s", apperrors.ErrSourceNotFound, path))
		}
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "fs.open", err)
	}
	return f, nil
}

// Remove deletes path. A missing file is not an error.
func (l *FS) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.remove", err)
	}
	if err := l.fs.Remove(l.absPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CategoryStorage, "fs.remove", err)
	}
	return nil
}

// Exists reports whether path exists.
func (l *FS) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "fs.exists", err)
	}
	ok, err := afero.Exists(l.fs, l.absPath(path))
	if err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "fs.exists.stat", err)
	}
	return ok, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
