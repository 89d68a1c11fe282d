package client

import (
	"fmt"
	"net/http"

	"github.com/DIMO-Network/updates-client/pkg/certs"
	"github.com/DIMO-Network/updates-client/pkg/config"
)

// NewHTTPClient creates the HTTP client used for manifest and asset requests.
func NewHTTPClient(settings *config.ClientTLSConfig) (*http.Client, error) {
	tlsConfig, err := certs.TLSConfigFromSettings(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   settings.RequestTimeout,
	}
	return httpClient, nil
}
