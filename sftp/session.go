package sftp

import (
	"io"
	"os"
	"time"
)

// FileInfo describes a remote directory entry
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

func fromOSFileInfo(fi os.FileInfo) FileInfo {
	return FileInfo{Name: fi.Name(), Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}
}

// Session is an open connection to one remote server. Sessions are not safe
// for concurrent use; callers own a session between obtaining it from a
// factory and calling Close.
type Session interface {
	List(dir string) ([]FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Create(path string) (io.WriteCloser, error)
	Append(path string) (io.WriteCloser, error)
	Rename(from, to string) error
	Remove(path string) error
	Stat(path string) (FileInfo, error)
	Exists(path string) (bool, error)
	MkdirAll(dir string) error
	Close() error
}
