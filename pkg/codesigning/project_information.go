package codesigning

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ExpoProjectInformationOID identifies the certificate extension that binds a
// certificate to a single project and scope key.
var ExpoProjectInformationOID = asn1.ObjectIdentifier{1, 2, 840, 113556, 1, 587, 1, 1}

// ProjectInformation is the project scope a certificate is restricted to.
type ProjectInformation struct {
	ProjectID string `json:"projectId"`
	ScopeKey  string `json:"scopeKey"`
}

// Matches reports whether the manifest identity fields match the certificate scope.
func (p ProjectInformation) Matches(projectID, scopeKey string) bool {
	return p.ProjectID == projectID && p.ScopeKey == scopeKey
}

// projectInformation extracts the project information extension from cert.
// A nil result with a nil error means the certificate is not project scoped.
func projectInformation(cert *x509.Certificate) (*ProjectInformation, error) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(ExpoProjectInformationOID) {
			continue
		}
		var value cryptobyte.String
		input := cryptobyte.String(ext.Value)
		if !input.ReadASN1(&value, cryptobyte_asn1.UTF8String) || !input.Empty() {
			return nil, fmt.Errorf("project information extension is not a UTF8String")
		}
		parts := strings.Split(string(value), ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid project information extension value %q", string(value))
		}
		return &ProjectInformation{ProjectID: parts[0], ScopeKey: parts[1]}, nil
	}
	return nil, nil
}

// MarshalProjectInformationExtension encodes info as the certificate extension
// understood by this package.
func MarshalProjectInformationExtension(info ProjectInformation) (pkix.Extension, error) {
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.UTF8String, func(child *cryptobyte.Builder) {
		child.AddBytes([]byte(info.ProjectID + "," + info.ScopeKey))
	})
	value, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("failed to encode project information: %w", err)
	}
	return pkix.Extension{Id: ExpoProjectInformationOID, Value: value}, nil
}

func sameProject(a, b *ProjectInformation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
