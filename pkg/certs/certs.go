package certs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/DIMO-Network/updates-client/pkg/config"
)

// GetClientCertificateFunc is a function that returns a client certificate for a TLS handshake.
type GetClientCertificateFunc func(*tls.CertificateRequestInfo) (*tls.Certificate, error)

// GetClientCertificateFromSettings returns a function that returns the configured client certificate.
func GetClientCertificateFromSettings(settings *config.LocalCertConfig) (GetClientCertificateFunc, error) {
	cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
	if err != nil {
		return nil, err
	}

	return func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
		return &cert, nil
	}, nil
}

// TLSConfigFromSettings builds the TLS configuration used to reach the update server.
// It returns nil when the settings ask for nothing beyond the defaults.
func TLSConfigFromSettings(settings *config.ClientTLSConfig) (*tls.Config, error) {
	if settings.CAFile == "" && settings.LocalCerts.CertFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if settings.CAFile != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		caPEM, err := os.ReadFile(settings.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in CA file %s", settings.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	if settings.LocalCerts.CertFile != "" {
		getCert, err := GetClientCertificateFromSettings(&settings.LocalCerts)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.GetClientCertificate = getCert
	}
	return tlsConfig, nil
}
