// Package transfer copies remote files to a destination: a local or
// NFS-mounted directory, an S3 bucket or a JetStream object store.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/sftp"
)

// Transfer is one stream to persist under Target.
type Transfer struct {
	Source   io.Reader
	Target   string
	Metadata map[string]string
}

// Persister writes a transfer to its destination.
type Persister interface {
	Save(ctx context.Context, t Transfer) error
	// Destination names the persister for logs and metrics.
	Destination() string
}

// StreamProvider opens a remote file on the server identified by key.
type StreamProvider interface {
	OpenRemote(ctx context.Context, key, path string) (io.ReadCloser, error)
}

// SessionStreamProvider opens remote files through keyed SFTP sessions. The
// session is released when the returned reader is closed.
type SessionStreamProvider struct {
	Factory *sftp.DelegatingSessionFactory
}

func (p SessionStreamProvider) OpenRemote(ctx context.Context, key, path string) (io.ReadCloser, error) {
	session, err := p.Factory.Session(ctx, key)
	if err != nil {
		return nil, err
	}
	exists, err := session.Exists(path)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	if !exists {
		_ = session.Close()
		return nil, errors.WrapInvalid(fmt.Errorf("source file %s does not exist: %w", path, errors.ErrRemoteFileNotFound),
			"SessionStreamProvider", "OpenRemote", "exists check")
	}
	r, err := session.Open(path)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	return &sessionReader{ReadCloser: r, session: session}, nil
}

type sessionReader struct {
	io.ReadCloser
	session sftp.Session
}

func (r *sessionReader) Close() error {
	err := r.ReadCloser.Close()
	if serr := r.session.Close(); err == nil {
		err = serr
	}
	return err
}

// Service downloads the remote file a message points at and persists it.
type Service struct {
	provider  StreamProvider
	persister Persister
	logger    *slog.Logger
	bytes     prometheus.Counter
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithBytesCounter counts persisted bytes.
func WithBytesCounter(c prometheus.Counter) ServiceOption {
	return func(s *Service) { s.bytes = c }
}

// NewService builds a transfer service.
func NewService(provider StreamProvider, persister Persister, opts ...ServiceOption) *Service {
	s := &Service{provider: provider, persister: persister, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer persists the file named by the file_remoteFile header under the
// file_name header and returns msg unchanged. The server is taken from the
// sftp_selectedServer header when present.
func (s *Service) Transfer(ctx context.Context, msg *message.Message) (*message.Message, error) {
	source := msg.String(message.HeaderRemoteFile)
	if source == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: %w", message.HeaderRemoteFile, errors.ErrMissingHeader),
			"Service", "Transfer", "header check")
	}
	target := msg.String(message.HeaderFilename)
	if target == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: %w", message.HeaderFilename, errors.ErrMissingHeader),
			"Service", "Transfer", "header check")
	}

	r, err := s.provider.OpenRemote(ctx, msg.String(message.HeaderSelectedServer), source)
	if err != nil {
		return nil, errors.Wrap(err, "Service", "Transfer", "open "+source)
	}
	defer r.Close()

	counted := &countingReader{r: r}
	err = s.persister.Save(ctx, Transfer{
		Source:   counted,
		Target:   target,
		Metadata: map[string]string{message.HeaderRemoteFile: source},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Service", "Transfer", "persist "+target)
	}
	if s.bytes != nil {
		s.bytes.Add(float64(counted.n))
	}
	s.logger.Info("Transferred remote file",
		"source", source, "target", target, "destination", s.persister.Destination(), "bytes", counted.n)
	return msg, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
