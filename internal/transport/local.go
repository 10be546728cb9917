package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/letsencrypt/prio-facilitator/internal/errs"
)

// LocalTransport reads and writes objects as files under a root directory,
// mirroring object-store keys onto nested directories.
type LocalTransport struct {
	root string
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport returns a Transport rooted at dir. dir is created lazily
// on first write if it does not already exist.
func NewLocalTransport(dir string) *LocalTransport {
	return &LocalTransport{root: dir}
}

func (t *LocalTransport) path(key string) string {
	return filepath.Join(t.root, filepath.FromSlash(key))
}

func (t *LocalTransport) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(t.path(key))
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "local", fmt.Sprintf("get %s", key), err)
	}
	return f, nil
}

func (t *LocalTransport) Put(_ context.Context, key string) (io.WriteCloser, error) {
	p := t.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "local", fmt.Sprintf("put %s", key), err)
	}
	// Write to a temp file in the same directory and rename into place on
	// Close, so a partial write never becomes visible under the real key.
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return nil, errs.Wrap(errs.ErrTransport, "local", fmt.Sprintf("put %s", key), err)
	}
	return &localWriter{f: tmp, finalPath: p}, nil
}

type localWriter struct {
	f         *os.File
	finalPath string
	closed    bool
}

func (w *localWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *localWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return errs.Wrap(errs.ErrTransport, "local", "close", err)
	}
	if err := os.Rename(w.f.Name(), w.finalPath); err != nil {
		os.Remove(w.f.Name())
		return errs.Wrap(errs.ErrTransport, "local", "publish", err)
	}
	return nil
}
