// Package source lists and opens the objects a load directive names.
//
// A location is either an S3 URI (s3://bucket/prefix) or a local path
// (file:///abs/path, or a bare path). As with a warehouse bulk load, a
// location is a key prefix: s3://bucket/log_data matches every object whose
// key starts with "log_data".
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// Scheme identifies an object store backend.
type Scheme string

const (
	SchemeS3   Scheme = "s3"
	SchemeFile Scheme = "file"
)

// Location is a parsed source URI.
type Location struct {
	Scheme Scheme
	Bucket string // s3 only
	Key    string // s3 key prefix, or local path
}

func (l Location) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return "file://" + l.Key
}

// ParseURI parses an s3:// or file:// URI, or a bare local path.
func ParseURI(uri string) (Location, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return Location{}, fmt.Errorf("source: empty uri")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: SchemeFile, Key: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("source: parse %q: %w", uri, err)
	}
	switch Scheme(strings.ToLower(u.Scheme)) {
	case SchemeS3:
		if u.Host == "" {
			return Location{}, fmt.Errorf("source: %q: missing bucket", uri)
		}
		return Location{Scheme: SchemeS3, Bucket: u.Host, Key: strings.TrimPrefix(u.Path, "/")}, nil
	case SchemeFile:
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/dir parses the first segment as host.
			p = u.Host + p
		}
		if p == "" {
			return Location{}, fmt.Errorf("source: %q: missing path", uri)
		}
		return Location{Scheme: SchemeFile, Key: p}, nil
	default:
		return Location{}, fmt.Errorf("source: unsupported scheme %q", u.Scheme)
	}
}

// Object is one listed object.
type Object struct {
	Location Location
	Size     int64
}

// Store lists and opens objects under one backend.
type Store interface {
	// List returns every object under loc's prefix, sorted by key.
	List(ctx context.Context, loc Location) ([]Object, error)
	Open(ctx context.Context, loc Location) (io.ReadCloser, error)
}

// Mux routes locations to a Store by scheme. The S3 store is built on first
// use so that local-only runs never resolve AWS credentials.
type Mux struct {
	Local Store
	S3    func(ctx context.Context) (Store, error)

	once  sync.Once
	s3    Store
	s3Err error
}

// NewMux returns a Mux over the local filesystem and S3 configured by opts.
func NewMux(opts S3Options) *Mux {
	return &Mux{
		Local: LocalStore{},
		S3: func(ctx context.Context) (Store, error) {
			return NewS3Store(ctx, opts)
		},
	}
}

func (m *Mux) store(ctx context.Context, s Scheme) (Store, error) {
	switch s {
	case SchemeFile:
		if m.Local == nil {
			return nil, fmt.Errorf("source: no local store")
		}
		return m.Local, nil
	case SchemeS3:
		m.once.Do(func() {
			if m.S3 == nil {
				m.s3Err = fmt.Errorf("source: no s3 store")
				return
			}
			m.s3, m.s3Err = m.S3(ctx)
		})
		return m.s3, m.s3Err
	default:
		return nil, fmt.Errorf("source: unsupported scheme %q", s)
	}
}

// List parses uri and lists the objects under it. An empty result is not an
// error.
func (m *Mux) List(ctx context.Context, uri string) ([]Object, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	st, err := m.store(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	return st.List(ctx, loc)
}

// Open opens one object for reading.
func (m *Mux) Open(ctx context.Context, loc Location) (io.ReadCloser, error) {
	st, err := m.store(ctx, loc.Scheme)
	if err != nil {
		return nil, err
	}
	return st.Open(ctx, loc)
}

// ReadAll reads the single object at uri, e.g. a JSONPaths file.
func (m *Mux) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	rc, err := m.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("source: read %s: %w", loc, err)
	}
	return b, nil
}
