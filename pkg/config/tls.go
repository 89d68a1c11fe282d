package config

import "time"

// ClientTLSConfig contains the settings for connections to the update server.
type ClientTLSConfig struct {
	// CAFile is a PEM bundle trusted in addition to the system roots.
	CAFile string `env:"CA_FILE" yaml:"caFile"`
	// LocalCerts is the client certificate for mutual TLS.
	LocalCerts LocalCertConfig `envPrefix:"LOCAL_" yaml:"localCerts"`
	// RequestTimeout bounds each request to the update server.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s" yaml:"requestTimeout"`
}

// LocalCertConfig contains the settings for the local certificates.
type LocalCertConfig struct {
	// CertFile is the path to the certificate file.
	CertFile string `env:"CERT_FILE" yaml:"certFile"`
	// KeyFile is the path to the key file for the certificate.
	KeyFile string `env:"KEY_FILE"  yaml:"keyFile"`
}
