package codesigning

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var signatureValidations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "updates",
	Subsystem: "codesigning",
	Name:      "signature_validations_total",
	Help:      "Signature validations by result.",
}, []string{"result"})

// ValidationResult is the outcome of a signature check.
type ValidationResult int

const (
	// ValidationResultValid means the signature verified against the code signing certificate.
	ValidationResultValid ValidationResult = iota
	// ValidationResultInvalid means the signature did not verify.
	ValidationResultInvalid
	// ValidationResultSkipped means no signature was supplied and unsigned manifests are allowed.
	ValidationResultSkipped
)

func (r ValidationResult) String() string {
	switch r {
	case ValidationResultValid:
		return "valid"
	case ValidationResultInvalid:
		return "invalid"
	case ValidationResultSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("ValidationResult(%d)", int(r))
	}
}

// SignatureValidationResult is returned by ValidateSignature. ProjectInformation is
// the scope of the code signing certificate and must be checked against the
// manifest by the caller before the manifest is trusted.
type SignatureValidationResult struct {
	Result             ValidationResult
	ProjectInformation *ProjectInformation
}

// Metadata is the code signing metadata bundled with the client.
type Metadata struct {
	Algorithm string `json:"alg,omitempty"`
	KeyID     string `json:"keyid,omitempty"`
}

// Configuration verifies manifest signatures against an embedded root of trust.
// It is immutable after construction and safe for concurrent use.
type Configuration struct {
	embeddedCertificate string
	algorithm           Algorithm
	keyID               string
	includeChain        bool
	allowUnsigned       bool
	chainOpts           []ChainOption
	logger              zerolog.Logger
}

// ConfigurationOption configures a Configuration.
type ConfigurationOption func(*Configuration)

// WithChainOptions passes options to every CertificateChain built during validation.
func WithChainOptions(opts ...ChainOption) ConfigurationOption {
	return func(c *Configuration) {
		c.chainOpts = append(c.chainOpts, opts...)
	}
}

// WithLogger sets the logger used when the context passed to ValidateSignature carries none.
func WithLogger(logger zerolog.Logger) ConfigurationOption {
	return func(c *Configuration) {
		c.logger = logger
	}
}

// NewConfiguration creates a Configuration from the embedded PEM certificate and its metadata.
func NewConfiguration(embeddedCertificate string, metadata Metadata, includeChain, allowUnsigned bool, opts ...ConfigurationOption) (*Configuration, error) {
	if strings.TrimSpace(embeddedCertificate) == "" {
		return nil, fmt.Errorf("embedded certificate is required")
	}
	alg, err := ParseAlgorithm(metadata.Algorithm)
	if err != nil {
		return nil, err
	}
	keyID := metadata.KeyID
	if keyID == "" {
		keyID = DefaultKeyID
	}
	c := &Configuration{
		embeddedCertificate: embeddedCertificate,
		algorithm:           alg,
		keyID:               keyID,
		includeChain:        includeChain,
		allowUnsigned:       allowUnsigned,
		logger:              zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// KeyID returns the configured key id.
func (c *Configuration) KeyID() string { return c.keyID }

// Algorithm returns the configured algorithm.
func (c *Configuration) Algorithm() Algorithm { return c.algorithm }

// AcceptSignatureHeader returns the structured header advertising which signatures
// this client can verify. It is sent as expo-expect-signature on manifest requests.
func (c *Configuration) AcceptSignatureHeader() (string, error) {
	header, err := serializeAcceptSignature(c.keyID, c.algorithm)
	if err != nil {
		return "", fmt.Errorf("failed to serialize accept signature header: %w", err)
	}
	return header, nil
}

// EmbeddedCertificate parses the embedded certificate.
func (c *Configuration) EmbeddedCertificate() (*x509.Certificate, error) {
	cert, err := parseCertificate(c.embeddedCertificate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded certificate: %w", err)
	}
	return cert, nil
}

// ValidateSignature checks signatureHeader against body. An empty signatureHeader
// means the response carried no signature. responseCertificateChain is only used
// when the configuration includes response certificate chains.
func (c *Configuration) ValidateSignature(ctx context.Context, signatureHeader string, body []byte, responseCertificateChain string) (*SignatureValidationResult, error) {
	result, err := c.validateSignature(ctx, signatureHeader, body, responseCertificateChain)
	if err != nil {
		signatureValidations.WithLabelValues("error").Inc()
		return nil, err
	}
	signatureValidations.WithLabelValues(result.Result.String()).Inc()
	return result, nil
}

func (c *Configuration) validateSignature(ctx context.Context, signatureHeader string, body []byte, responseCertificateChain string) (*SignatureValidationResult, error) {
	if signatureHeader == "" {
		if c.allowUnsigned {
			return &SignatureValidationResult{Result: ValidationResultSkipped}, nil
		}
		return nil, ErrMissingSignatureHeader
	}

	info, err := ParseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}

	var chain *CertificateChain
	if c.includeChain {
		pems := append(SplitCertificateChain(responseCertificateChain), c.embeddedCertificate)
		chain = NewCertificateChain(pems, c.chainOpts...)
	} else {
		if info.KeyID != c.keyID {
			return nil, fmt.Errorf("%w: got %q, expected %q", ErrKeyIDMismatch, info.KeyID, c.keyID)
		}
		if info.Algorithm != c.algorithm {
			c.log(ctx).Warn().
				Str("headerAlgorithm", string(info.Algorithm)).
				Str("configuredAlgorithm", string(c.algorithm)).
				Msg("Signature algorithm does not match configuration, verifying with configured algorithm.")
		}
		chain = NewCertificateChain([]string{c.embeddedCertificate}, c.chainOpts...)
	}

	leaf, project, err := chain.CodeSigningCertificate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificateChain, err)
	}

	pub, ok := leaf.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPublicKey, leaf.PublicKey)
	}
	sig, err := base64.StdEncoding.DecodeString(info.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64: %w", ErrMalformedSignatureHeader, err)
	}

	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return &SignatureValidationResult{Result: ValidationResultInvalid, ProjectInformation: project}, nil
	}
	return &SignatureValidationResult{Result: ValidationResultValid, ProjectInformation: project}, nil
}

func (c *Configuration) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.logger
}
