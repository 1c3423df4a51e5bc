package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/errors"
)

// FsSessionFactory serves sessions over an afero filesystem. It stands in
// for a remote server in tests and in local development against a mounted
// directory.
type FsSessionFactory struct {
	fs afero.Fs

	mu       sync.Mutex
	opened   int
	failNext error
}

// NewFsSessionFactory wraps fs. A nil fs gets a fresh in-memory filesystem.
func NewFsSessionFactory(fs afero.Fs) *FsSessionFactory {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	return &FsSessionFactory{fs: fs}
}

// Fs exposes the backing filesystem.
func (f *FsSessionFactory) Fs() afero.Fs { return f.fs }

// FailNext makes the next Session call return err.
func (f *FsSessionFactory) FailNext(err error) {
	f.mu.Lock()
	f.failNext = err
	f.mu.Unlock()
}

// Opened returns the number of sessions handed out.
func (f *FsSessionFactory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *FsSessionFactory) Session(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	f.opened++
	return &fsSession{fs: f.fs}, nil
}

func (f *FsSessionFactory) Close() error { return nil }

type fsSession struct {
	fs     afero.Fs
	closed bool
}

func (s *fsSession) check() error {
	if s.closed {
		return errors.WrapFatal(errors.ErrSessionClosed, "FsSession", "check", "use after close")
	}
	return nil
}

func notFound(err error, op, p string) error {
	if os.IsNotExist(err) {
		return errors.Wrap(fmt.Errorf("%s: %w", p, errors.ErrRemoteFileNotFound), "FsSession", op, "lookup")
	}
	return errors.Wrap(err, "FsSession", op, p)
}

func (s *fsSession) List(dir string) ([]FileInfo, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return nil, notFound(err, "List", dir)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, fromOSFileInfo(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fsSession) Open(p string) (io.ReadCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, notFound(err, "Open", p)
	}
	return f, nil
}

func (s *fsSession) Create(p string) (io.WriteCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return nil, notFound(err, "Create", p)
	}
	return f, nil
}

func (s *fsSession) Append(p string) (io.WriteCloser, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, notFound(err, "Append", p)
	}
	return f, nil
}

func (s *fsSession) Rename(from, to string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.fs.Rename(from, to); err != nil {
		return notFound(err, "Rename", from)
	}
	return nil
}

func (s *fsSession) Remove(p string) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		return notFound(err, "Remove", p)
	}
	return nil
}

func (s *fsSession) Stat(p string) (FileInfo, error) {
	if err := s.check(); err != nil {
		return FileInfo{}, err
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		return FileInfo{}, notFound(err, "Stat", p)
	}
	return fromOSFileInfo(fi), nil
}

func (s *fsSession) Exists(p string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return afero.Exists(s.fs, p)
}

func (s *fsSession) MkdirAll(dir string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.fs.MkdirAll(path.Clean(dir), 0o755)
}

func (s *fsSession) Close() error {
	s.closed = true
	return nil
}
