package sftp

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/c360/sftpstreams/errors"
)

// remoteSession is a Session over an SSH connection.
type remoteSession struct {
	ssh    *ssh.Client
	client *sftp.Client
	broken bool
}

func newRemoteSession(conn *ssh.Client) (*remoteSession, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, errors.WrapTransient(err, "Session", "new", "start sftp subsystem")
	}
	return &remoteSession{ssh: conn, client: client}, nil
}

// fail records transport errors so pooled sessions are discarded instead of reused.
func (s *remoteSession) fail(err error, op, path string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return errors.Wrap(fmt.Errorf("%s: %w", path, errors.ErrRemoteFileNotFound), "Session", op, "remote lookup")
	}
	var status *sftp.StatusError
	if !stderrors.As(err, &status) {
		s.broken = true
		return errors.WrapTransient(err, "Session", op, path)
	}
	return errors.Wrap(err, "Session", op, path)
}

func (s *remoteSession) List(dir string) ([]FileInfo, error) {
	entries, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, s.fail(err, "List", dir)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, fromOSFileInfo(e))
	}
	return out, nil
}

func (s *remoteSession) Open(path string) (io.ReadCloser, error) {
	f, err := s.client.Open(path)
	if err != nil {
		return nil, s.fail(err, "Open", path)
	}
	return &sessionReader{ReadCloser: f, session: s, path: path}, nil
}

// sessionReader marks its session broken when a read fails mid-stream.
type sessionReader struct {
	io.ReadCloser
	session *remoteSession
	path    string
}

func (r *sessionReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && err != io.EOF {
		return n, r.session.fail(err, "Read", r.path)
	}
	return n, err
}

func (s *remoteSession) Create(path string) (io.WriteCloser, error) {
	f, err := s.client.Create(path)
	if err != nil {
		return nil, s.fail(err, "Create", path)
	}
	return f, nil
}

func (s *remoteSession) Append(path string) (io.WriteCloser, error) {
	f, err := s.client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
	if err != nil {
		return nil, s.fail(err, "Append", path)
	}
	return f, nil
}

func (s *remoteSession) Rename(from, to string) error {
	// PosixRename replaces an existing target; plain Rename refuses on most servers.
	if err := s.client.PosixRename(from, to); err != nil {
		if err2 := s.client.Rename(from, to); err2 != nil {
			return s.fail(err2, "Rename", from)
		}
	}
	return nil
}

func (s *remoteSession) Remove(path string) error {
	return s.fail(s.client.Remove(path), "Remove", path)
}

func (s *remoteSession) Stat(path string) (FileInfo, error) {
	fi, err := s.client.Stat(path)
	if err != nil {
		return FileInfo{}, s.fail(err, "Stat", path)
	}
	return fromOSFileInfo(fi), nil
}

func (s *remoteSession) Exists(path string) (bool, error) {
	_, err := s.client.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, s.fail(err, "Exists", path)
}

func (s *remoteSession) MkdirAll(dir string) error {
	return s.fail(s.client.MkdirAll(dir), "MkdirAll", dir)
}

func (s *remoteSession) Close() error {
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *remoteSession) healthy() bool {
	return !s.broken
}
