// Package certs generates and persists the self-signed TLS leaf certificate
// the Chat Interceptor presents to the game client (spec.md §6 "Loopback
// TLS").
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	commonName = "League Deceiver CA"
	validity   = 10 * 365 * 24 * time.Hour
	keyBits    = 2048
)

// Pair is a generated certificate and its private key, PEM-encoded.
type Pair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// LoadOrGenerate reads a cert/key pair from certPath/keyPath if both exist
// and parse cleanly, otherwise generates a fresh self-signed pair and
// persists it to those paths (spec.md §6 "Certificate & key are persisted
// as PEM files next to the config").
func LoadOrGenerate(certPath, keyPath string) (*Pair, error) {
	if p, err := load(certPath, keyPath); err == nil {
		zap.L().Info("loaded existing certificate", zap.String("path", certPath))
		return p, nil
	}

	zap.L().Info("generating new self-signed certificate", zap.String("commonName", commonName))
	p, err := generate()
	if err != nil {
		return nil, fmt.Errorf("certs: generate: %w", err)
	}
	if err := persist(certPath, keyPath, p); err != nil {
		return nil, fmt.Errorf("certs: persist: %w", err)
	}
	return p, nil
}

func load(certPath, keyPath string) (*Pair, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		return nil, fmt.Errorf("certs: stored pair is invalid: %w", err)
	}
	return &Pair{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

func generate() (*Pair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &Pair{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

func persist(certPath, keyPath string, p *Pair) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(certPath, p.CertPEM, 0o600); err != nil {
		return err
	}
	return os.WriteFile(keyPath, p.KeyPEM, 0o600)
}

// TLSCertificate converts the PEM pair into a tls.Certificate usable by a
// tls.Config.
func (p *Pair) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(p.CertPEM, p.KeyPEM)
}
