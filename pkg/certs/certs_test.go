package certs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DIMO-Network/updates-client/pkg/certs"
	"github.com/DIMO-Network/updates-client/pkg/codesigning/codesigningtest"
	"github.com/DIMO-Network/updates-client/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestTLSConfigFromSettings(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		tlsConfig, err := certs.TLSConfigFromSettings(&config.ClientTLSConfig{})
		require.NoError(t, err)
		require.Nil(t, tlsConfig)
	})

	t.Run("custom CA", func(t *testing.T) {
		t.Parallel()
		ca := codesigningtest.Issue(t, codesigningtest.Spec{Subject: "Update Server CA", CA: true}, codesigningtest.Key(t, 0), nil)
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte(ca.PEM), 0o600))

		tlsConfig, err := certs.TLSConfigFromSettings(&config.ClientTLSConfig{CAFile: path})
		require.NoError(t, err)
		require.NotNil(t, tlsConfig.RootCAs)
		require.Nil(t, tlsConfig.GetClientCertificate)
	})

	t.Run("CA file without certificates", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "ca.pem")
		require.NoError(t, os.WriteFile(path, []byte("nothing here"), 0o600))

		_, err := certs.TLSConfigFromSettings(&config.ClientTLSConfig{CAFile: path})
		require.Error(t, err)
	})

	t.Run("missing client key pair", func(t *testing.T) {
		t.Parallel()
		_, err := certs.TLSConfigFromSettings(&config.ClientTLSConfig{
			LocalCerts: config.LocalCertConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
		})
		require.Error(t, err)
	})
}
