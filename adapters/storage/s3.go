package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Skryldev/imageloader/core"
	apperrors "github.com/Skryldev/imageloader/errors"
)

// ObjectClient is the minimal object-store API the Object persister needs.
// Wrap an S3-compatible SDK client (aws-sdk-go-v2, MinIO) to satisfy it.
type ObjectClient interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
	DeleteObject(ctx context.Context, bucket, key string) error
}

// Object persists downloads into an object store. The download path becomes
// the object key below an optional prefix.
type Object struct {
	client ObjectClient
	bucket string
	prefix string
	meta   map[string]string
}

// NewObject creates an Object persister. client must not be nil.
func NewObject(client ObjectClient, bucket, prefix string) (*Object, error) {
	if client == nil {
		return nil, fmt.Errorf("object storage: client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("object storage: bucket must not be empty")
	}
	return &Object{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// WithMetadata returns a copy of o that attaches meta to every object.
func (o *Object) WithMetadata(meta map[string]string) *Object {
	c := *o
	c.meta = make(map[string]string, len(meta))
	for k, v := range meta {
		c.meta[k] = v
	}
	return &c
}

// Key returns the storage key a download path maps to.
func (o *Object) Key(p string) core.StorageKey {
	k := strings.TrimPrefix(path.Clean("/"+p), "/")
	if o.prefix != "" {
		k = o.prefix + "/" + k
	}
	return core.StorageKey{Bucket: o.bucket, Path: k}
}

func (o *Object) Persist(ctx context.Context, p string, r io.Reader) error {
	if p == "" {
		return apperrors.New(apperrors.CategoryStorage, "object.persist", apperrors.ErrNoFilePath)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "object.persist", err)
	}
	key := o.Key(p)
	if err := o.client.PutObject(ctx, key.Bucket, key.Path, r, o.meta); err != nil {
		return apperrors.Transient("object.persist", err)
	}
	return nil
}

func (o *Object) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "object.exists", err)
	}
	key := o.Key(p)
	return o.client.HeadObject(ctx, key.Bucket, key.Path)
}

func (o *Object) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "object.remove", err)
	}
	key := o.Key(p)
	return o.client.DeleteObject(ctx, key.Bucket, key.Path)
}
