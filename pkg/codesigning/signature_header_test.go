package codesigning_test

import (
	"testing"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	"github.com/stretchr/testify/require"
)

func TestParseSignatureHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		header  string
		want    *codesigning.SignatureHeaderInfo
		wantErr error
	}{
		{
			name:   "all fields",
			header: `sig="c2lnbmF0dXJl", keyid="main", alg="rsa-v1_5-sha256"`,
			want:   &codesigning.SignatureHeaderInfo{Signature: "c2lnbmF0dXJl", KeyID: "main", Algorithm: codesigning.AlgorithmRSASHA256},
		},
		{
			name:   "defaults",
			header: `sig="c2lnbmF0dXJl"`,
			want:   &codesigning.SignatureHeaderInfo{Signature: "c2lnbmF0dXJl", KeyID: "root", Algorithm: codesigning.AlgorithmRSASHA256},
		},
		{
			name:   "unknown algorithm is kept",
			header: `sig="c2lnbmF0dXJl", alg="ed25519"`,
			want:   &codesigning.SignatureHeaderInfo{Signature: "c2lnbmF0dXJl", KeyID: "root", Algorithm: "ed25519"},
		},
		{
			name:    "missing sig",
			header:  `keyid="root"`,
			wantErr: codesigning.ErrMalformedSignatureHeader,
		},
		{
			name:    "sig is not a string",
			header:  `sig=?1`,
			wantErr: codesigning.ErrMalformedSignatureHeader,
		},
		{
			name:    "not a dictionary",
			header:  `sig="unterminated`,
			wantErr: codesigning.ErrMalformedSignatureHeader,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := codesigning.ParseSignatureHeader(tt.header)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()
	alg, err := codesigning.ParseAlgorithm("")
	require.NoError(t, err)
	require.Equal(t, codesigning.AlgorithmRSASHA256, alg)

	_, err = codesigning.ParseAlgorithm("ecdsa-p256-sha256")
	require.ErrorIs(t, err, codesigning.ErrUnsupportedAlgorithm)
}
