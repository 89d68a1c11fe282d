package codesigning

import (
	"fmt"

	"github.com/dunglas/httpsfv"
)

// Structured field keys shared by the expo-signature and expo-expect-signature headers.
const (
	SignatureHeaderKeySignature = "sig"
	SignatureHeaderKeyKeyID     = "keyid"
	SignatureHeaderKeyAlgorithm = "alg"

	// DefaultKeyID is the key id assumed when neither the header nor the configuration names one.
	DefaultKeyID = "root"
)

// Algorithm is a code signing algorithm name as it appears on the wire.
type Algorithm string

// AlgorithmRSASHA256 is RSASSA-PKCS1-v1_5 with SHA-256, the only algorithm this client verifies.
const AlgorithmRSASHA256 = Algorithm("rsa-v1_5-sha256")

// ParseAlgorithm parses a configured algorithm name. An empty name selects the default.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", AlgorithmRSASHA256:
		return AlgorithmRSASHA256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// SignatureHeaderInfo is the parsed content of an expo-signature header.
type SignatureHeaderInfo struct {
	Signature string
	KeyID     string
	// Algorithm is the algorithm declared by the server. It is not validated here;
	// an unknown value is reported as a mismatch during validation.
	Algorithm Algorithm
}

// ParseSignatureHeader parses a structured field dictionary such as
// `sig="...", keyid="root", alg="rsa-v1_5-sha256"`.
func ParseSignatureHeader(header string) (*SignatureHeaderInfo, error) {
	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSignatureHeader, err)
	}
	sig, ok := dictString(dict, SignatureHeaderKeySignature)
	if !ok {
		return nil, fmt.Errorf("%w: structured field %s not found", ErrMalformedSignatureHeader, SignatureHeaderKeySignature)
	}
	info := &SignatureHeaderInfo{
		Signature: sig,
		KeyID:     DefaultKeyID,
		Algorithm: AlgorithmRSASHA256,
	}
	if keyID, ok := dictString(dict, SignatureHeaderKeyKeyID); ok {
		info.KeyID = keyID
	}
	if alg, ok := dictString(dict, SignatureHeaderKeyAlgorithm); ok {
		info.Algorithm = Algorithm(alg)
	}
	return info, nil
}

func dictString(dict *httpsfv.Dictionary, key string) (string, bool) {
	member, ok := dict.Get(key)
	if !ok {
		return "", false
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", false
	}
	switch v := item.Value.(type) {
	case string:
		return v, true
	case httpsfv.Token:
		return string(v), true
	default:
		return "", false
	}
}

func serializeAcceptSignature(keyID string, alg Algorithm) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add(SignatureHeaderKeySignature, httpsfv.NewItem(true))
	dict.Add(SignatureHeaderKeyKeyID, httpsfv.NewItem(keyID))
	dict.Add(SignatureHeaderKeyAlgorithm, httpsfv.NewItem(string(alg)))
	return httpsfv.Marshal(dict)
}
