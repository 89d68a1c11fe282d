package codesigning

import "fmt"

// CodeSigningError is a typed error for code signing failures.
type CodeSigningError string

func (e CodeSigningError) Error() string { return string(e) }

const (
	// ErrEmptyChain is returned when a certificate chain contains no certificates.
	ErrEmptyChain = CodeSigningError("certificate chain is empty")
	// ErrParse is returned when a certificate in the chain cannot be parsed.
	ErrParse = CodeSigningError("failed to parse certificate")
	// ErrExpiredCertificate is returned when a certificate is outside of its validity period.
	ErrExpiredCertificate = CodeSigningError("certificate is not within its validity period")
	// ErrChainBroken is returned when a certificate's issuer is not the subject of the next certificate.
	ErrChainBroken = CodeSigningError("certificate issuer does not match parent subject")
	// ErrSignatureInvalid is returned when a certificate is not signed by the next certificate in the chain.
	ErrSignatureInvalid = CodeSigningError("certificate signature not valid for parent key")
	// ErrRootNotSelfSigned is returned when the last certificate of the chain is not self-signed.
	ErrRootNotSelfSigned = CodeSigningError("root certificate is not self-signed")
	// ErrRootNotCA is returned when the root of a multi-certificate chain is not a CA.
	ErrRootNotCA = CodeSigningError("root certificate is not a CA")
	// ErrIntermediateNotCA is returned when an intermediate certificate is not a CA.
	ErrIntermediateNotCA = CodeSigningError("intermediate certificate is not a CA")
	// ErrPathLengthViolation is returned when a basic constraints path length is exceeded.
	ErrPathLengthViolation = CodeSigningError("path length constraint violated")
	// ErrProjectScopeViolation is returned when a certificate widens the project scope of its ancestors.
	ErrProjectScopeViolation = CodeSigningError("expo project information does not match parent certificate")
	// ErrNotACodeSigningCertificate is returned when the leaf certificate cannot sign code.
	ErrNotACodeSigningCertificate = CodeSigningError("leaf certificate is not a code signing certificate")

	// ErrMissingSignatureHeader is returned when no signature is supplied and unsigned manifests are not allowed.
	ErrMissingSignatureHeader = CodeSigningError("no expo-signature header specified")
	// ErrMalformedSignatureHeader is returned when the signature header cannot be used.
	ErrMalformedSignatureHeader = CodeSigningError("malformed expo-signature header")
	// ErrKeyIDMismatch is returned when the signature key id is not the configured key id.
	ErrKeyIDMismatch = CodeSigningError("signature key id not found in client configuration")
	// ErrInvalidCertificateChain wraps any chain validation failure seen during signature validation.
	ErrInvalidCertificateChain = CodeSigningError("invalid certificate chain")
	// ErrUnsupportedAlgorithm is returned when the configuration names an algorithm this client cannot verify.
	ErrUnsupportedAlgorithm = CodeSigningError("unsupported code signing algorithm")
	// ErrUnsupportedPublicKey is returned when the code signing certificate does not carry an RSA key.
	ErrUnsupportedPublicKey = CodeSigningError("code signing certificate public key is not RSA")
)

// CertificateError reports which certificate of a chain failed validation.
// Index 0 is the leaf.
type CertificateError struct {
	Index int
	Err   error
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate %d: %v", e.Index, e.Err)
}

func (e *CertificateError) Unwrap() error { return e.Err }

func certErr(index int, err error) error {
	return &CertificateError{Index: index, Err: err}
}
