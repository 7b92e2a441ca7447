// Package file serves project data from a local directory tree.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/3leaps/gomian/pkg/provider"
)

// DefaultMaxKeys is the page size used when ListOptions.MaxKeys is zero.
const DefaultMaxKeys = 1000

// Config locates the data root.
type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return errors.New("file provider: base dir is required")
	}
	return nil
}

// Provider reads objects below BaseDir through an os.Root, so symlinks
// cannot lead outside the data root. The root is opened on first use; a
// data directory that does not exist yet lists as empty.
type Provider struct {
	baseDir string

	mu   sync.Mutex
	root *os.Root
}

var _ provider.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root == nil {
		return nil
	}
	err := p.root.Close()
	p.root = nil
	return err
}

func (p *Provider) openRoot() (*os.Root, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.root != nil {
		return p.root, nil
	}
	r, err := os.OpenRoot(p.baseDir)
	if err != nil {
		return nil, err
	}
	p.root = r
	return r, nil
}

// cleanKey maps a key onto a slash path inside the root. Parent segments
// cannot climb above it: "../../u1/x" is "u1/x".
func cleanKey(key string) string {
	k := path.Clean("/" + strings.TrimSpace(key))
	return strings.TrimPrefix(k, "/")
}

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := opts.MaxKeys
	if limit <= 0 {
		limit = DefaultMaxKeys
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	objects, err := p.walk(ctx, prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Prefix, err)
	}

	// Resume strictly after the last key of the previous page.
	if token := opts.ContinuationToken; token != "" {
		i, found := slices.BinarySearchFunc(objects, token, func(o provider.ObjectSummary, k string) int {
			return strings.Compare(o.Key, k)
		})
		if found {
			i++
		}
		objects = objects[i:]
	}

	res := &provider.ListResult{Objects: objects}
	if len(objects) > limit {
		res.Objects = objects[:limit]
		res.IsTruncated = true
		res.ContinuationToken = objects[limit-1].Key
	}
	return res, nil
}

// walk returns every regular file whose key starts with prefix, sorted by
// key. A prefix may end mid-name ("u1/pro"), so the walk starts at its
// directory.
func (p *Provider) walk(ctx context.Context, prefix string) ([]provider.ObjectSummary, error) {
	r, err := p.openRoot()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dir := "."
	if prefix != "" {
		if strings.HasSuffix(prefix, "/") {
			dir = cleanKey(prefix)
		} else {
			dir = path.Dir(cleanKey(prefix))
		}
		if dir == "" {
			dir = "."
		}
	}

	var out []provider.ObjectSummary
	err = fs.WalkDir(r.FS(), dir, func(key string, d fs.DirEntry, err error) error {
		if err != nil {
			if key == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !d.Type().IsRegular() || !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, provider.ObjectSummary{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	// WalkDir visits in lexical order per directory; "a/b" and "a.b" can
	// still interleave, so sort by full key.
	slices.SortFunc(out, func(a, b provider.ObjectSummary) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}

func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := p.openRoot()
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	k := cleanKey(key)
	info, err := r.Stat(filepath.FromSlash(k))
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	if !info.Mode().IsRegular() {
		return nil, p.wrapError("Head", key, provider.ErrNotFound)
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: k, Size: info.Size(), LastModified: info.ModTime()},
	}, nil
}

func (p *Provider) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := p.openRoot()
	if err != nil {
		return nil, p.wrapError("Get", key, err)
	}
	f, err := r.Open(filepath.FromSlash(cleanKey(key)))
	if err != nil {
		return nil, p.wrapError("Get", key, err)
	}
	info, err := f.Stat()
	if err == nil && !info.Mode().IsRegular() {
		err = provider.ErrNotFound
	}
	if err != nil {
		_ = f.Close()
		return nil, p.wrapError("Get", key, err)
	}
	return f, nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	switch {
	case err == nil:
		err = fmt.Errorf("%s %s: unknown error", op, key)
	case errors.Is(err, fs.ErrNotExist):
		err = provider.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		err = provider.ErrAccessDenied
	}
	return &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Key: key, Err: err}
}
