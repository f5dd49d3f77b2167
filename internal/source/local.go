package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore reads objects from the local filesystem.
//
// A path that names a file lists that file; a directory lists every regular
// file beneath it; any other path is a prefix over its parent directory.
type LocalStore struct{}

func (LocalStore) List(ctx context.Context, loc Location) ([]Object, error) {
	path := filepath.Clean(loc.Key)

	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return []Object{{Location: Location{Scheme: SchemeFile, Key: path}, Size: info.Size()}}, nil
	case err == nil:
		return walkFiles(ctx, path, "")
	case errors.Is(err, fs.ErrNotExist):
		return walkFiles(ctx, filepath.Dir(path), path)
	default:
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
}

func (LocalStore) Open(_ context.Context, loc Location) (io.ReadCloser, error) {
	f, err := os.Open(loc.Key)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", loc.Key, err)
	}
	return f, nil
}

// walkFiles lists regular files under root whose path starts with prefix.
func walkFiles(ctx context.Context, root, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			if d.IsDir() && p != root && !strings.HasPrefix(prefix, p) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Location: Location{Scheme: SchemeFile, Key: p}, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("source: list %s: %w", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Location.Key < out[j].Location.Key })
	return out, nil
}
