package updates

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	"github.com/rs/zerolog"
)

// UpdateResponse is a verified manifest response.
type UpdateResponse struct {
	Manifest   *Manifest
	Directive  *Directive
	Extensions json.RawMessage
	// Verified is true when at least one part was present and every present part
	// carried a valid signature.
	Verified bool
}

// Verifier checks the signatures of manifest responses. A Verifier without a
// code signing configuration accepts every response unverified.
type Verifier struct {
	signing *codesigning.Configuration
}

// NewVerifier creates a Verifier. signing may be nil to disable code signing.
func NewVerifier(signing *codesigning.Configuration) *Verifier {
	return &Verifier{signing: signing}
}

// Verify checks and decodes every part of resp. A part with an invalid signature,
// or signed by a certificate scoped to another project, fails the whole response.
func (v *Verifier) Verify(ctx context.Context, resp *Response) (*UpdateResponse, error) {
	out := &UpdateResponse{Extensions: resp.Extensions}
	parts, verifiedParts := 0, 0

	if resp.Directive != nil {
		directive, verified, err := v.verifyDirective(ctx, resp.Directive, resp.CertificateChain)
		if err != nil {
			return nil, err
		}
		out.Directive = directive
		parts++
		if verified {
			verifiedParts++
		}
	}
	if resp.Manifest != nil {
		manifest, verified, err := v.verifyManifest(ctx, resp.Manifest, resp.CertificateChain)
		if err != nil {
			return nil, err
		}
		out.Manifest = manifest
		parts++
		if verified {
			verifiedParts++
		}
	}
	out.Verified = parts > 0 && verifiedParts == parts
	return out, nil
}

func (v *Verifier) verifyManifest(ctx context.Context, part *ResponsePart, chain string) (*Manifest, bool, error) {
	manifest, err := ParseManifest(part.Body)
	if err != nil {
		return nil, false, err
	}
	result, err := v.validate(ctx, part, chain, "manifest")
	if err != nil || result == nil {
		return manifest, false, err
	}
	if result.Result == codesigning.ValidationResultSkipped {
		return manifest, false, nil
	}
	if info := result.ProjectInformation; info != nil && !info.Matches(manifest.EASProjectID(), manifest.ScopeKey()) {
		return nil, false, fmt.Errorf("%w: manifest", ErrProjectMismatch)
	}
	zerolog.Ctx(ctx).Info().Str("updateId", manifest.ID).Msg("Update code signature verified successfully.")
	return manifest, true, nil
}

func (v *Verifier) verifyDirective(ctx context.Context, part *ResponsePart, chain string) (*Directive, bool, error) {
	directive, err := ParseDirective(part.Body)
	if err != nil {
		return nil, false, err
	}
	result, err := v.validate(ctx, part, chain, "directive")
	if err != nil || result == nil {
		return directive, false, err
	}
	if result.Result == codesigning.ValidationResultSkipped {
		return directive, false, nil
	}
	if info := result.ProjectInformation; info != nil {
		signing := directive.Extra.SigningInfo
		if signing == nil || !info.Matches(signing.EASProjectID, signing.ScopeKey) {
			return nil, false, fmt.Errorf("%w: directive", ErrProjectMismatch)
		}
	}
	zerolog.Ctx(ctx).Info().Str("directive", string(directive.Type)).Msg("Update directive code signature verified successfully.")
	return directive, true, nil
}

// validate returns a nil result when code signing is disabled.
func (v *Verifier) validate(ctx context.Context, part *ResponsePart, chain, kind string) (*codesigning.SignatureValidationResult, error) {
	if v.signing == nil {
		return nil, nil
	}
	result, err := v.signing.ValidateSignature(ctx, part.Signature, part.Body, chain)
	if err != nil {
		return nil, fmt.Errorf("%s code signing: %w", kind, err)
	}
	if result.Result == codesigning.ValidationResultInvalid {
		return nil, fmt.Errorf("%w: %s", ErrSignatureIncorrect, kind)
	}
	return result, nil
}
