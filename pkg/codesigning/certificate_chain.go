package codesigning

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

const pemCertificateType = "CERTIFICATE"

// ChainOption configures a CertificateChain.
type ChainOption func(*CertificateChain)

// WithClock overrides the time source used for validity period checks.
func WithClock(now func() time.Time) ChainOption {
	return func(c *CertificateChain) {
		if now != nil {
			c.now = now
		}
	}
}

// CertificateChain is an ordered list of PEM certificates, leaf first and root last.
// Validation runs once, on the first call to CodeSigningCertificate.
type CertificateChain struct {
	pems []string
	now  func() time.Time

	once    sync.Once
	leaf    *x509.Certificate
	project *ProjectInformation
	err     error
}

// NewCertificateChain creates a chain from PEM certificates ordered leaf first.
func NewCertificateChain(pems []string, opts ...ChainOption) *CertificateChain {
	chain := &CertificateChain{
		pems: slices.Clone(pems),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(chain)
	}
	return chain
}

// CodeSigningCertificate validates the chain and returns the leaf certificate along with
// its project information, if any. The outcome is cached, including failures.
func (c *CertificateChain) CodeSigningCertificate() (*x509.Certificate, *ProjectInformation, error) {
	c.once.Do(func() {
		c.leaf, c.project, c.err = c.validateChain()
	})
	return c.leaf, c.project, c.err
}

func (c *CertificateChain) validateChain() (*x509.Certificate, *ProjectInformation, error) {
	if len(c.pems) == 0 {
		return nil, nil, ErrEmptyChain
	}

	now := c.now()
	certs := make([]*x509.Certificate, len(c.pems))
	projects := make([]*ProjectInformation, len(c.pems))
	for i, pemStr := range c.pems {
		cert, err := parseCertificate(pemStr)
		if err != nil {
			return nil, nil, certErr(i, fmt.Errorf("%w: %w", ErrParse, err))
		}
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return nil, nil, certErr(i, fmt.Errorf("%w: valid from %s to %s",
				ErrExpiredCertificate, cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339)))
		}
		projects[i], err = projectInformation(cert)
		if err != nil {
			return nil, nil, certErr(i, fmt.Errorf("%w: %w", ErrParse, err))
		}
		certs[i] = cert
	}

	// linkage and signatures, leaf towards root
	for i := 0; i < len(certs)-1; i++ {
		child, parent := certs[i], certs[i+1]
		if !bytes.Equal(child.RawIssuer, parent.RawSubject) {
			return nil, nil, certErr(i, fmt.Errorf("%w: issuer %q, parent subject %q",
				ErrChainBroken, child.Issuer, parent.Subject))
		}
		if err := parent.CheckSignature(child.SignatureAlgorithm, child.RawTBSCertificate, child.Signature); err != nil {
			return nil, nil, certErr(i, fmt.Errorf("%w: %w", ErrSignatureInvalid, err))
		}
	}

	rootIndex := len(certs) - 1
	root := certs[rootIndex]
	if !bytes.Equal(root.RawIssuer, root.RawSubject) {
		return nil, nil, certErr(rootIndex, ErrRootNotSelfSigned)
	}
	if err := root.CheckSignature(root.SignatureAlgorithm, root.RawTBSCertificate, root.Signature); err != nil {
		return nil, nil, certErr(rootIndex, fmt.Errorf("%w: %w", ErrRootNotSelfSigned, err))
	}

	if len(certs) > 1 {
		if !isCA(root) {
			return nil, nil, certErr(rootIndex, ErrRootNotCA)
		}
		maxPathLength := pathLength(root)
		lastProject := projects[rootIndex]
		for i := rootIndex - 1; i >= 0; i-- {
			cert := certs[i]
			if i > 0 && !isCA(cert) {
				return nil, nil, certErr(i, ErrIntermediateNotCA)
			}
			if maxPathLength < 0 {
				return nil, nil, certErr(i, ErrPathLengthViolation)
			}
			if i > 0 {
				maxPathLength = min(maxPathLength-1, pathLength(cert))
			}

			// an unscoped ancestor places no constraint on its descendants
			if lastProject != nil && !sameProject(lastProject, projects[i]) {
				return nil, nil, certErr(i, ErrProjectScopeViolation)
			}
			lastProject = projects[i]
		}
	}

	leaf := certs[0]
	if !isCodeSigningCertificate(leaf) {
		return nil, nil, certErr(0, ErrNotACodeSigningCertificate)
	}
	return leaf, projects[0], nil
}

func parseCertificate(pemStr string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != pemCertificateType {
		return nil, fmt.Errorf("no %s PEM block found", pemCertificateType)
	}
	return x509.ParseCertificate(block.Bytes)
}

func isCA(cert *x509.Certificate) bool {
	return cert.BasicConstraintsValid && cert.IsCA && cert.KeyUsage&x509.KeyUsageCertSign != 0
}

// pathLength returns the basic constraints path length, with an absent
// constraint treated as unlimited.
func pathLength(cert *x509.Certificate) int {
	switch {
	case !cert.BasicConstraintsValid:
		return math.MaxInt
	case cert.MaxPathLen > 0:
		return cert.MaxPathLen
	case cert.MaxPathLen == 0 && cert.MaxPathLenZero:
		return 0
	default:
		return math.MaxInt
	}
}

func isCodeSigningCertificate(cert *x509.Certificate) bool {
	return cert.KeyUsage&x509.KeyUsageDigitalSignature != 0 &&
		slices.Contains(cert.ExtKeyUsage, x509.ExtKeyUsageCodeSigning)
}

// SplitCertificateChain splits concatenated PEM certificates into one PEM string per
// certificate, preserving order. Non-certificate blocks are skipped.
func SplitCertificateChain(chain string) []string {
	var certs []string
	rest := []byte(strings.TrimSpace(chain))
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemCertificateType {
			continue
		}
		certs = append(certs, string(pem.EncodeToMemory(block)))
	}
	return certs
}
