package sftp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/pkg/retry"
)

// SessionFactory hands out sessions to one server.
type SessionFactory interface {
	Session(ctx context.Context) (Session, error)
	Close() error
}

// DialOption configures a DefaultSessionFactory.
type DialOption func(*DefaultSessionFactory)

// WithDialTimeout bounds the TCP connect and SSH handshake.
func WithDialTimeout(d time.Duration) DialOption {
	return func(f *DefaultSessionFactory) { f.timeout = d }
}

// WithDialRetry sets the retry policy applied to dialing.
func WithDialRetry(cfg retry.Config) DialOption {
	return func(f *DefaultSessionFactory) { f.retry = cfg }
}

// WithLogger sets the factory logger.
func WithLogger(l *slog.Logger) DialOption {
	return func(f *DefaultSessionFactory) { f.logger = l }
}

// DefaultSessionFactory dials a fresh SSH connection for every session.
type DefaultSessionFactory struct {
	creds   Credentials
	config  *ssh.ClientConfig
	timeout time.Duration
	retry   retry.Config
	logger  *slog.Logger
}

// NewSessionFactory builds a factory for creds. Key material and known hosts
// are loaded eagerly so configuration problems surface at startup.
func NewSessionFactory(creds Credentials, opts ...DialOption) (*DefaultSessionFactory, error) {
	creds = creds.WithDefaults()
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	f := &DefaultSessionFactory{
		creds:   creds,
		timeout: 30 * time.Second,
		retry:   retry.Quick(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.retry.RetryIf == nil {
		f.retry.RetryIf = errors.IsTransient
	}

	cfg, err := clientConfig(creds, f.timeout)
	if err != nil {
		return nil, err
	}
	f.config = cfg
	return f, nil
}

func clientConfig(creds Credentials, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if creds.PrivateKey != "" {
		signer, err := loadSigner(creds.PrivateKey, creds.Passphrase)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		auth = append(auth, ssh.Password(creds.Password))
	}
	if len(auth) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("password or private_key for %s: %w", creds.Addr(), errors.ErrMissingConfig),
			"SessionFactory", "clientConfig", "auth method check")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !creds.AllowUnknownKeys {
		cb, err := knownhosts.New(creds.KnownHosts)
		if err != nil {
			return nil, errors.WrapInvalid(err, "SessionFactory", "clientConfig", "load known_hosts")
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}, nil
}

func loadSigner(key, passphrase string) (ssh.Signer, error) {
	pem := []byte(key)
	if !strings.Contains(key, "PRIVATE KEY") {
		data, err := os.ReadFile(key)
		if err != nil {
			return nil, errors.WrapInvalid(err, "SessionFactory", "loadSigner", "read private key")
		}
		pem = data
	}
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "SessionFactory", "loadSigner", "parse private key")
	}
	return signer, nil
}

// Credentials returns the resolved credentials this factory dials with.
func (f *DefaultSessionFactory) Credentials() Credentials {
	return f.creds
}

// Session dials the server, retrying transient failures.
func (f *DefaultSessionFactory) Session(ctx context.Context) (Session, error) {
	return retry.DoWithResult(ctx, f.retry, func() (Session, error) {
		return f.dial(ctx)
	})
}

func (f *DefaultSessionFactory) dial(ctx context.Context) (Session, error) {
	addr := f.creds.Addr()
	dialer := net.Dialer{Timeout: f.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.WrapTransient(err, "SessionFactory", "dial", "connect "+addr)
	}
	if f.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(f.timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, f.config)
	if err != nil {
		_ = conn.Close()
		return nil, classifyHandshake(err, addr)
	}
	_ = conn.SetDeadline(time.Time{})

	s, err := newRemoteSession(ssh.NewClient(c, chans, reqs))
	if err != nil {
		return nil, err
	}
	f.logger.Debug("SFTP session opened", "addr", addr, "user", f.creds.Username)
	return s, nil
}

func classifyHandshake(err error, addr string) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "knownhosts") {
		return errors.WrapFatal(fmt.Errorf("%s: %w: %v", addr, errors.ErrAuthFailed, err),
			"SessionFactory", "dial", "ssh handshake")
	}
	return errors.WrapTransient(err, "SessionFactory", "dial", "ssh handshake "+addr)
}

// Close is a no-op; DefaultSessionFactory keeps no connections.
func (f *DefaultSessionFactory) Close() error { return nil }

// CachingSessionFactory keeps idle sessions from an underlying factory and
// hands them back out. Closing a session returned by this factory returns
// it to the pool unless it saw a transport error.
type CachingSessionFactory struct {
	factory SessionFactory
	size    int

	mu     sync.Mutex
	idle   []Session
	closed bool
}

// NewCachingSessionFactory pools up to size idle sessions.
func NewCachingSessionFactory(factory SessionFactory, size int) *CachingSessionFactory {
	if size <= 0 {
		size = 10
	}
	return &CachingSessionFactory{factory: factory, size: size}
}

// Session returns an idle session or opens a new one.
func (c *CachingSessionFactory) Session(ctx context.Context) (Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.WrapFatal(errors.ErrSessionClosed, "CachingSessionFactory", "Session", "factory closed")
	}
	if n := len(c.idle); n > 0 {
		s := c.idle[n-1]
		c.idle = c.idle[:n-1]
		c.mu.Unlock()
		return &pooledSession{Session: s, pool: c}, nil
	}
	c.mu.Unlock()

	s, err := c.factory.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &pooledSession{Session: s, pool: c}, nil
}

func (c *CachingSessionFactory) release(s Session) error {
	if h, ok := s.(interface{ healthy() bool }); ok && !h.healthy() {
		return s.Close()
	}
	c.mu.Lock()
	if c.closed || len(c.idle) >= c.size {
		c.mu.Unlock()
		return s.Close()
	}
	c.idle = append(c.idle, s)
	c.mu.Unlock()
	return nil
}

// Idle returns the number of pooled sessions.
func (c *CachingSessionFactory) Idle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}

// Close closes pooled sessions and the underlying factory.
func (c *CachingSessionFactory) Close() error {
	c.mu.Lock()
	idle := c.idle
	c.idle = nil
	c.closed = true
	c.mu.Unlock()

	var first error
	for _, s := range idle {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := c.factory.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

type pooledSession struct {
	Session
	pool *CachingSessionFactory
	once sync.Once
}

func (p *pooledSession) Close() error {
	var err error
	p.once.Do(func() { err = p.pool.release(p.Session) })
	return err
}

// DelegatingSessionFactory routes session requests to a per-key factory,
// falling back to the default factory for unknown keys.
type DelegatingSessionFactory struct {
	def   SessionFactory
	keyed map[string]SessionFactory
}

// NewDelegatingSessionFactory builds a router over keyed factories.
func NewDelegatingSessionFactory(keyed map[string]SessionFactory, def SessionFactory) *DelegatingSessionFactory {
	if keyed == nil {
		keyed = map[string]SessionFactory{}
	}
	return &DelegatingSessionFactory{def: def, keyed: keyed}
}

// FactoryFor returns the factory used for key.
func (d *DelegatingSessionFactory) FactoryFor(key string) (SessionFactory, error) {
	if f, ok := d.keyed[key]; ok {
		return f, nil
	}
	if d.def == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("no session factory for key %q: %w", key, errors.ErrConfigNotFound),
			"DelegatingSessionFactory", "FactoryFor", "lookup")
	}
	return d.def, nil
}

// Session opens a session against the server bound to key.
func (d *DelegatingSessionFactory) Session(ctx context.Context, key string) (Session, error) {
	f, err := d.FactoryFor(key)
	if err != nil {
		return nil, err
	}
	return f.Session(ctx)
}

// Close closes every keyed factory and the default concurrently and returns
// the first error.
func (d *DelegatingSessionFactory) Close() error {
	var g errgroup.Group
	seen := map[SessionFactory]bool{}
	for _, f := range d.keyed {
		if seen[f] {
			continue
		}
		seen[f] = true
		g.Go(f.Close)
	}
	if d.def != nil && !seen[d.def] {
		g.Go(d.def.Close)
	}
	return g.Wait()
}

// BuildFactories creates the default session factory plus one per key with
// explicit credentials, wrapping each in a cache when the credentials ask for it.
func BuildFactories(f Factories, keys []string, opts ...DialOption) (*DelegatingSessionFactory, error) {
	build := func(c Credentials) (SessionFactory, error) {
		base, err := NewSessionFactory(c, opts...)
		if err != nil {
			return nil, err
		}
		if c.Caching() {
			return NewCachingSessionFactory(base, 0), nil
		}
		return base, nil
	}

	def, err := build(f.Default)
	if err != nil {
		return nil, fmt.Errorf("default session factory: %w", err)
	}

	// Keys without their own credentials share the default factory and its pool.
	keyed := make(map[string]SessionFactory, len(keys))
	for _, key := range keys {
		if _, done := keyed[key]; done {
			continue
		}
		if !f.Has(key) {
			keyed[key] = def
			continue
		}
		sf, err := build(f.Resolve(key))
		if err != nil {
			return nil, fmt.Errorf("session factory for %q: %w", key, err)
		}
		keyed[key] = sf
	}
	return NewDelegatingSessionFactory(keyed, def), nil
}
