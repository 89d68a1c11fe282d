package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// UpdatesSettings is the configuration of the updates client.
type UpdatesSettings struct {
	// UpdateURL is the manifest endpoint of the update server.
	UpdateURL string `env:"UPDATE_URL" yaml:"updateUrl"`
	// RuntimeVersion is sent as expo-runtime-version and must match served manifests.
	RuntimeVersion string `env:"RUNTIME_VERSION" yaml:"runtimeVersion"`
	// Platform is sent as expo-platform.
	Platform string `env:"PLATFORM" envDefault:"android" yaml:"platform"`
	// Channel is sent as expo-channel-name when set.
	Channel string `env:"CHANNEL" yaml:"channel"`
	// CheckOnLaunch runs a check and download during the startup procedure.
	CheckOnLaunch bool `env:"CHECK_ON_LAUNCH" envDefault:"true" yaml:"checkOnLaunch"`
	// CheckInterval schedules periodic checks. Zero disables them.
	CheckInterval time.Duration `env:"CHECK_INTERVAL" yaml:"checkInterval"`
	// MaxConcurrentDownloads bounds parallel asset downloads.
	MaxConcurrentDownloads int `env:"MAX_CONCURRENT_DOWNLOADS" envDefault:"4" yaml:"maxConcurrentDownloads"`
	// Watchdog is the configuration for the download stall watchdog.
	Watchdog WatchdogSettings `envPrefix:"WATCHDOG_" yaml:"watchdog"`
	// CodeSigning is the configuration for manifest signature verification.
	CodeSigning CodeSigningSettings `envPrefix:"CODE_SIGNING_" yaml:"codeSigning"`
	// TLS is the configuration for connections to the update server.
	TLS ClientTLSConfig `envPrefix:"TLS_" yaml:"tls"`
}

// WatchdogSettings is the configuration for the watchdog which fails a download that stops making progress.
type WatchdogSettings struct {
	// Interval if interval elapses without progress, the download is failed.
	Interval time.Duration `env:"INTERVAL" envDefault:"30s" yaml:"interval"`
}

// CodeSigningSettings configures code signing. Code signing is disabled when no
// certificate is configured.
type CodeSigningSettings struct {
	// Certificate is the embedded PEM certificate.
	Certificate string `env:"CERTIFICATE" yaml:"certificate"`
	// CertificateFile is read when Certificate is empty.
	CertificateFile string `env:"CERTIFICATE_FILE" yaml:"certificateFile"`
	// KeyID is the expected keyid of signatures.
	KeyID string `env:"KEY_ID" envDefault:"root" yaml:"keyId"`
	// Algorithm is the expected signature algorithm.
	Algorithm string `env:"ALG" envDefault:"rsa-v1_5-sha256" yaml:"alg"`
	// IncludeManifestResponseCertificateChain trusts intermediates sent by the server,
	// rooted at the embedded certificate.
	IncludeManifestResponseCertificateChain bool `env:"INCLUDE_MANIFEST_RESPONSE_CERTIFICATE_CHAIN" yaml:"includeManifestResponseCertificateChain"`
	// AllowUnsignedManifests accepts responses that carry no signature.
	AllowUnsignedManifests bool `env:"ALLOW_UNSIGNED_MANIFESTS" yaml:"allowUnsignedManifests"`
}

// Enabled reports whether a certificate is configured.
func (c *CodeSigningSettings) Enabled() bool {
	return c.Certificate != "" || c.CertificateFile != ""
}

// LoadCertificate returns the embedded certificate, reading CertificateFile if needed.
func (c *CodeSigningSettings) LoadCertificate() (string, error) {
	if c.Certificate != "" {
		return c.Certificate, nil
	}
	if c.CertificateFile == "" {
		return "", fmt.Errorf("no code signing certificate configured")
	}
	data, err := os.ReadFile(c.CertificateFile)
	if err != nil {
		return "", fmt.Errorf("failed to read code signing certificate: %w", err)
	}
	return string(data), nil
}

// Validate checks the settings required to talk to an update server.
func (s *UpdatesSettings) Validate() error {
	if s.UpdateURL == "" {
		return fmt.Errorf("update URL is required")
	}
	if s.RuntimeVersion == "" {
		return fmt.Errorf("runtime version is required")
	}
	if s.MaxConcurrentDownloads < 1 {
		return fmt.Errorf("max concurrent downloads must be positive, got %d", s.MaxConcurrentDownloads)
	}
	return nil
}

// FromEnvMap parses settings of type T from envMap.
func FromEnvMap[T any](envMap map[string]string, prefix string) (T, error) {
	var zeroValue T
	envOpts := env.Options{
		Environment: envMap,
		Prefix:      prefix,
	}
	settings, err := env.ParseAsWithOptions[T](envOpts)
	if err != nil {
		return zeroValue, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return settings, nil
}

// FromEnvironment parses settings of type T from the process environment.
func FromEnvironment[T any](prefix string) (T, error) {
	return FromEnvMap[T](env.ToMap(os.Environ()), prefix)
}
