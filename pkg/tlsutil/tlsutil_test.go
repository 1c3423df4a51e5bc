package tlsutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sftpstreams/errors"
)

// generateTestCert creates a self-signed certificate for testing
func generateTestCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Org"},
			CommonName:   "localhost",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	return certPEM, keyPEM
}

// setupTestFiles writes a key pair and uses the same certificate as CA
func setupTestFiles(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := generateTestCert(t)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return certFile, keyFile, caFile
}

func TestLoadClientConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	got, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, got, "disabled")

	got, err = LoadClientConfig(ClientConfig{
		Enabled:    true,
		CAFiles:    []string{caFile},
		CertFile:   certFile,
		KeyFile:    keyFile,
		ServerName: "nats.internal",
		MinVersion: "1.3",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotNil(t, got.RootCAs)
	assert.Len(t, got.Certificates, 1)
	assert.Equal(t, "nats.internal", got.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)
	assert.False(t, got.InsecureSkipVerify)

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{"/nonexistent/ca.pem"}})
	assert.True(t, errors.IsFatal(err))

	_, err = LoadClientConfig(ClientConfig{Enabled: true, CAFiles: []string{keyFile}})
	assert.Error(t, err, "a private key is not a CA certificate")
}

func TestLoadServerConfig(t *testing.T) {
	certFile, keyFile, caFile := setupTestFiles(t)

	got, err := LoadServerConfig(ServerConfig{CertFile: certFile})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	assert.Len(t, got.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
	assert.Equal(t, tls.NoClientCert, got.ClientAuth)

	got, err = LoadServerConfig(ServerConfig{
		Enabled: true, CertFile: certFile, KeyFile: keyFile, ClientCAFiles: []string{caFile},
	})
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, got.ClientAuth)
	assert.NotNil(t, got.ClientCAs)

	_, err = LoadServerConfig(ServerConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: keyFile})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, ClientConfig{}.Validate())
	assert.NoError(t, ClientConfig{Enabled: true}.Validate())
	assert.True(t, errors.IsInvalid(ClientConfig{Enabled: true, CertFile: "c.pem"}.Validate()))
	assert.True(t, errors.IsInvalid(ClientConfig{Enabled: true, MinVersion: "1.1"}.Validate()))

	assert.NoError(t, ServerConfig{}.Validate())
	assert.True(t, errors.IsInvalid(ServerConfig{Enabled: true}.Validate()))
	assert.NoError(t, ServerConfig{Enabled: true, CertFile: "c", KeyFile: "k", MinVersion: "1.3"}.Validate())
}
