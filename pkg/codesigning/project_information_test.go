package codesigning_test

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

func TestMarshalProjectInformationExtension(t *testing.T) {
	t.Parallel()
	info := codesigning.ProjectInformation{ProjectID: "285dc9ca-a25d-4f60-93be-36dc312266d7", ScopeKey: "@test/app"}

	ext, err := codesigning.MarshalProjectInformationExtension(info)
	require.NoError(t, err)
	require.True(t, ext.Id.Equal(codesigning.ExpoProjectInformationOID))
	require.False(t, ext.Critical)

	var value cryptobyte.String
	input := cryptobyte.String(ext.Value)
	require.True(t, input.ReadASN1(&value, cryptobyte_asn1.UTF8String))
	require.True(t, input.Empty())
	require.Equal(t, info.ProjectID+","+info.ScopeKey, string(value))

	cert := &x509.Certificate{Extensions: []pkix.Extension{ext}}
	require.Len(t, cert.Extensions, 1)
}

func TestProjectInformation_Matches(t *testing.T) {
	t.Parallel()
	info := codesigning.ProjectInformation{ProjectID: "a", ScopeKey: "@owner/a"}
	require.True(t, info.Matches("a", "@owner/a"))
	require.False(t, info.Matches("a", "@owner/b"))
	require.False(t, info.Matches("b", "@owner/a"))
}
