package transfer

import (
	"context"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/errors"
)

// FilePersister writes transfers to a filesystem. Relative targets are
// placed under the root; absolute targets are used as given. Content is
// written to a temporary name first and renamed into place.
type FilePersister struct {
	fs          afero.Fs
	root        string
	destination string
}

// NewFilePersister writes below root on fs.
func NewFilePersister(fs afero.Fs, root string) *FilePersister {
	return &FilePersister{fs: fs, root: root, destination: "local"}
}

func (p *FilePersister) Destination() string { return p.destination }

func (p *FilePersister) path(target string) string {
	if filepath.IsAbs(target) || p.root == "" {
		return filepath.Clean(target)
	}
	return filepath.Join(p.root, target)
}

func (p *FilePersister) Save(ctx context.Context, t Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := p.path(t.Target)
	if err := p.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.WrapTransient(err, "FilePersister", "Save", "create parent directory")
	}

	tmp := target + "." + uuid.NewString() + ".part"
	f, err := p.fs.Create(tmp)
	if err != nil {
		return errors.WrapTransient(err, "FilePersister", "Save", "create "+tmp)
	}
	if _, err := io.Copy(f, t.Source); err != nil {
		_ = f.Close()
		_ = p.fs.Remove(tmp)
		return errors.WrapTransient(err, "FilePersister", "Save", "copy contents")
	}
	if err := f.Close(); err != nil {
		_ = p.fs.Remove(tmp)
		return errors.WrapTransient(err, "FilePersister", "Save", "close "+tmp)
	}
	if err := p.fs.Rename(tmp, target); err != nil {
		_ = p.fs.Remove(tmp)
		return errors.WrapTransient(err, "FilePersister", "Save", "rename into place")
	}
	return nil
}
