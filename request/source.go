// Package request describes what to fetch and how: a source locator plus the
// sizing, cache-tier and post-processing options for one image request.
package request

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	apperrors "github.com/Skryldev/imageloader/errors"
)

// Kind tags the variant of a Source.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindLocalFile
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindLocalFile:
		return "file"
	case KindResource:
		return "resource"
	}
	return "unknown"
}

// URI schemes understood by ParseSource.
const (
	SchemeFile     = "file"
	SchemeResource = "res"
)

// Source is a tagged union over the supported locators. The zero value is
// empty and rejected by New.
type Source struct {
	kind  Kind
	value string
}

// NetworkURL returns a source fetched over HTTP(S).
func NetworkURL(raw string) Source { return Source{kind: KindNetwork, value: strings.TrimSpace(raw)} }

// LocalFile returns a source read from the local file system.
func LocalFile(path string) Source { return Source{kind: KindLocalFile, value: path} }

// EmbeddedResource returns a source looked up by name in the loader's
// resource file system.
func EmbeddedResource(name string) Source {
	return Source{kind: KindResource, value: strings.TrimPrefix(name, "/")}
}

// ParseSource maps a URI to a Source: http and https become network sources,
// file:// a local file and res:// an embedded resource.
func ParseSource(uri string) (Source, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Source{}, apperrors.ErrEmptySource
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidSource, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NetworkURL(uri), nil
	case SchemeFile:
		return LocalFile(u.Path), nil
	case SchemeResource:
		return EmbeddedResource(u.Host + u.Path), nil
	case "":
		return LocalFile(uri), nil
	}
	return Source{}, fmt.Errorf("%w: unsupported scheme %q", apperrors.ErrInvalidSource, u.Scheme)
}

// Kind returns the variant tag.
func (s Source) Kind() Kind { return s.kind }

// Value returns the raw locator: a URL, a file path or a resource name.
func (s Source) Value() string { return s.value }

// IsEmpty reports whether the source carries no locator.
func (s Source) IsEmpty() bool { return s.kind == 0 || s.value == "" }

// String renders the source as a URI.
func (s Source) String() string {
	switch s.kind {
	case KindLocalFile:
		return (&url.URL{Scheme: SchemeFile, Path: filepath.ToSlash(s.value)}).String()
	case KindResource:
		return SchemeResource + ":///" + s.value
	}
	return s.value
}

func (s Source) validate() error {
	if s.IsEmpty() {
		return apperrors.ErrEmptySource
	}
	if s.kind != KindNetwork {
		return nil
	}
	u, err := url.Parse(s.value)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidSource, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute http(s) URL", apperrors.ErrInvalidSource, s.value)
	}
	return nil
}
