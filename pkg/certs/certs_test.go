package certs

import (
	"crypto/x509"
	"encoding/pem"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerate_CreatesThenReuses(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	p1, err := LoadOrGenerate(certPath, keyPath)
	require.NoError(t, err)

	block, _ := pem.Decode(p1.CertPEM)
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "League Deceiver CA", cert.Subject.CommonName)
	assert.Contains(t, cert.DNSNames, "localhost")
	assert.True(t, cert.IsCA)

	p2, err := LoadOrGenerate(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, p1.CertPEM, p2.CertPEM)
}

func TestTLSCertificate(t *testing.T) {
	dir := t.TempDir()
	p, err := LoadOrGenerate(filepath.Join(dir, "c.pem"), filepath.Join(dir, "k.pem"))
	require.NoError(t, err)
	_, err = p.TLSCertificate()
	assert.NoError(t, err)
}
