package server

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	permKey  = 0600
	permCert = 0644

	certLifetime = 2 * 365 * 24 * time.Hour
)

// EnsureServerCertificate loads the admin TLS keypair, generating a
// self-signed ed25519 certificate when either file is missing. A new
// key always forces a new certificate.
func EnsureServerCertificate(certPath, keyPath string, logger *zerolog.Logger) (tls.Certificate, error) {
	var (
		keyIsNew bool
		key      ed25519.PrivateKey
		keyPEM   []byte
		certPEM  []byte
	)
	if logger == nil {
		logger = zerolog.DefaultContextLogger
	}

	if _, err := os.Stat(keyPath); errors.Is(err, os.ErrNotExist) {
		logger.Warn().
			Str("file", keyPath).
			Msg("private key does not exist")
		key, keyPEM, err = generateKeyFile(keyPath)
		if err != nil {
			return tls.Certificate{}, err
		}
		keyIsNew = true
		logger.Info().
			Str("file", keyPath).
			Msg("created new private key")
	} else if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to retrieve private key: %w", err)
	} else {
		key, keyPEM, err = loadKeyFile(keyPath)
		if err != nil {
			return tls.Certificate{}, err
		}
	}

	if _, err := os.Stat(certPath); errors.Is(err, os.ErrNotExist) || keyIsNew {
		logger.Warn().
			Str("file", certPath).
			Msg("certificate does not exist or no longer matches the key")
		certPEM, err = generateCertificateFile(certPath, key)
		if err != nil {
			return tls.Certificate{}, err
		}
		logger.Info().
			Str("file", certPath).
			Msg("created new certificate")
	} else if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to retrieve certificate: %w", err)
	} else {
		certPEM, err = os.ReadFile(certPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to assemble keypair: %w", err)
	}
	return cert, nil
}

func generateKeyFile(keyPath string) (ed25519.PrivateKey, []byte, error) {
	keyFile, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE, permKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create private key file: %w", err)
	}
	defer keyFile.Close()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyBlock := &pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: keyBytes,
	}

	var keyBuf bytes.Buffer
	if err := pem.Encode(&keyBuf, keyBlock); err != nil {
		return nil, nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	_, err = keyFile.Write(keyBuf.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write key PEM file to disk: %w", err)
	}

	return key, keyBuf.Bytes(), nil
}

func loadKeyFile(keyPath string) (ed25519.PrivateKey, []byte, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, nil, fmt.Errorf("failed to parse private key: no PEM block")
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := keyAny.(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("incorrect private key format (must be ed25519)")
	}

	return key, keyPEM, nil
}

func generateCertificateFile(certPath string, key ed25519.PrivateKey) ([]byte, error) {
	certFile, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, permCert)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate file: %w", err)
	}
	defer certFile.Close()

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate serial: %w", err)
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "gatehouse-admin"},
		NotBefore:    now,
		NotAfter:     now.Add(certLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}

	cert, err := x509.CreateCertificate(rand.Reader, &template, &template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("failed generating certificate: %w", err)
	}

	certBlock := &pem.Block{
		Type:  "CERTIFICATE",
		Bytes: cert,
	}

	var certBuf bytes.Buffer
	if err := pem.Encode(&certBuf, certBlock); err != nil {
		return nil, fmt.Errorf("failed encoding certificate: %w", err)
	}
	_, err = certFile.Write(certBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to write certificate PEM file to disk: %w", err)
	}

	return certBuf.Bytes(), nil
}
