// Package codesigningtest issues throwaway certificates and signatures for tests of
// code signing consumers.
package codesigningtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
)

const keyPoolSize = 4

var keyPool = sync.OnceValues(func() ([]*rsa.PrivateKey, error) {
	keys := make([]*rsa.PrivateKey, keyPoolSize)
	for i := range keys {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	return keys, nil
})

// Key returns one of a small pool of RSA keys shared by every test in the process.
func Key(tb testing.TB, i int) *rsa.PrivateKey {
	tb.Helper()
	keys, err := keyPool()
	if err != nil {
		tb.Fatalf("generate keys: %v", err)
	}
	return keys[i%len(keys)]
}

// Spec describes a certificate to issue.
type Spec struct {
	Subject     string
	CA          bool
	PathLen     *int
	CodeSigning bool
	Project     *codesigning.ProjectInformation
	NotBefore   time.Time
	NotAfter    time.Time
}

// PathLen returns a pointer for Spec.PathLen.
func PathLen(n int) *int { return &n }

// Cert is an issued certificate together with its key.
type Cert struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
	PEM  string
}

// Issue creates a certificate for spec with key, signed by parent. A nil parent
// makes the certificate self-signed.
func Issue(tb testing.TB, spec Spec, key *rsa.PrivateKey, parent *Cert) *Cert {
	tb.Helper()
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: spec.Subject, Organization: []string{"Updates Test"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
		MaxPathLen:   -1,
	}
	if !spec.NotBefore.IsZero() {
		tmpl.NotBefore = spec.NotBefore
	}
	if !spec.NotAfter.IsZero() {
		tmpl.NotAfter = spec.NotAfter
	}
	if spec.CA {
		tmpl.BasicConstraintsValid = true
		tmpl.IsCA = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
		if spec.PathLen != nil {
			tmpl.MaxPathLen = *spec.PathLen
			tmpl.MaxPathLenZero = *spec.PathLen == 0
		}
	}
	if spec.CodeSigning {
		tmpl.KeyUsage |= x509.KeyUsageDigitalSignature
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning}
	}
	if spec.Project != nil {
		ext, err := codesigning.MarshalProjectInformationExtension(*spec.Project)
		if err != nil {
			tb.Fatalf("marshal project information: %v", err)
		}
		tmpl.ExtraExtensions = append(tmpl.ExtraExtensions, ext)
	}

	issuer, signer := tmpl, key
	if parent != nil {
		issuer, signer = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuer, &key.PublicKey, signer)
	if err != nil {
		tb.Fatalf("create certificate %q: %v", spec.Subject, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		tb.Fatalf("parse certificate %q: %v", spec.Subject, err)
	}
	return &Cert{
		Cert: cert,
		Key:  key,
		PEM:  string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
	}
}

// Sign returns the base64 RSA-SHA256 signature of body.
func Sign(tb testing.TB, key *rsa.PrivateKey, body []byte) string {
	tb.Helper()
	digest := sha256.Sum256(body)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		tb.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// SignatureHeader formats an expo-signature header value.
func SignatureHeader(sig, keyID string) string {
	return fmt.Sprintf("sig=%q, keyid=%q", sig, keyID)
}
