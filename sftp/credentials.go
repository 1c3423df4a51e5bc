// Package sftp provides SSH/SFTP sessions to remote servers, keyed session
// factories for multi-server polling, and remote file filters.
package sftp

import (
	"fmt"
	"net"
	"strconv"

	"github.com/c360/sftpstreams/errors"
)

// Credentials identify and authenticate against one SFTP server.
type Credentials struct {
	Host             string `json:"host"`
	Port             int    `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password,omitempty"`
	PrivateKey       string `json:"private_key,omitempty"` // PEM contents or a file path
	Passphrase       string `json:"pass_phrase,omitempty"`
	AllowUnknownKeys bool   `json:"allow_unknown_keys"`
	KnownHosts       string `json:"known_hosts,omitempty"` // known_hosts file path
	CacheSessions    *bool  `json:"cache_sessions,omitempty"`
}

// DefaultCredentials returns localhost:22 with no user.
func DefaultCredentials() Credentials {
	return Credentials{Host: "localhost", Port: 22}
}

// WithDefaults fills an unset host or port.
func (c Credentials) WithDefaults() Credentials {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	return c
}

// Validate checks the fields needed to dial.
func (c Credentials) Validate() error {
	if c.Host == "" {
		return errors.WrapInvalid(fmt.Errorf("host: %w", errors.ErrMissingConfig), "Credentials", "Validate", "host check")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("port %d out of range: %w", c.Port, errors.ErrInvalidConfig),
			"Credentials", "Validate", "port check")
	}
	if c.Username == "" {
		return errors.WrapInvalid(fmt.Errorf("username: %w", errors.ErrMissingConfig), "Credentials", "Validate", "username check")
	}
	if !c.AllowUnknownKeys && c.KnownHosts == "" {
		return errors.WrapInvalid(
			fmt.Errorf("known_hosts is required unless allow_unknown_keys is set: %w", errors.ErrInvalidConfig),
			"Credentials", "Validate", "host key check")
	}
	return nil
}

// Addr returns host:port
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Caching reports whether sessions should be pooled. Unset means yes.
func (c Credentials) Caching() bool {
	return c.CacheSessions == nil || *c.CacheSessions
}

// Factories is the per-key credentials map with a default entry used for any
// key that has no explicit credentials.
type Factories struct {
	Default Credentials
	Keyed   map[string]Credentials
}

// Resolve returns the credentials for key, falling back to Default.
func (f Factories) Resolve(key string) Credentials {
	if c, ok := f.Keyed[key]; ok {
		return c.WithDefaults()
	}
	return f.Default.WithDefaults()
}

// Has reports whether key has explicit credentials.
func (f Factories) Has(key string) bool {
	_, ok := f.Keyed[key]
	return ok
}
