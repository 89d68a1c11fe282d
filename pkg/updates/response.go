package updates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// Protocol header and multipart part names.
const (
	HeaderProtocolVersion   = "expo-protocol-version"
	HeaderPlatform          = "expo-platform"
	HeaderRuntimeVersion    = "expo-runtime-version"
	HeaderChannelName       = "expo-channel-name"
	HeaderCurrentUpdateID   = "expo-current-update-id"
	HeaderSignature         = "expo-signature"
	HeaderExpectSignature   = "expo-expect-signature"
	AcceptManifestMediaType = "multipart/mixed,application/expo+json,application/json"

	PartManifest         = "manifest"
	PartDirective        = "directive"
	PartExtensions       = "extensions"
	PartCertificateChain = "certificate_chain"
)

// ResponsePart is one signed section of a manifest response.
type ResponsePart struct {
	Body      []byte
	Signature string
}

// Response is a manifest response split into its parts. It has not been verified.
type Response struct {
	ProtocolVersion  string
	Manifest         *ResponsePart
	Directive        *ResponsePart
	Extensions       json.RawMessage
	CertificateChain string
}

// ParseResponse splits a manifest response. A multipart/mixed body is read part by
// part; any other body is the manifest itself, signed by the expo-signature header.
// An empty non-multipart body means the server has no update.
func ParseResponse(header http.Header, body []byte) (*Response, error) {
	resp := &Response{ProtocolVersion: header.Get(HeaderProtocolVersion)}
	contentType := header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "multipart/") {
		if len(bytes.TrimSpace(body)) > 0 {
			resp.Manifest = &ResponsePart{Body: body, Signature: header.Get(HeaderSignature)}
		}
		return resp, nil
	}

	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, ErrMissingBoundary
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := reader.NextPart()
		// NextPart wraps EOF when the body ends before the closing boundary.
		if err == io.EOF { //nolint:errorlint
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: could not read multipart remote update response: %w", ErrInvalidResponse, err)
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("%w: could not read part %q: %w", ErrInvalidResponse, part.FormName(), err)
		}
		signature := part.Header.Get(HeaderSignature)
		switch part.FormName() {
		case PartManifest:
			resp.Manifest = &ResponsePart{Body: content, Signature: signature}
		case PartDirective:
			resp.Directive = &ResponsePart{Body: content, Signature: signature}
		case PartExtensions:
			if !json.Valid(content) {
				return nil, fmt.Errorf("%w: failed to parse multipart remote update extensions", ErrInvalidResponse)
			}
			resp.Extensions = json.RawMessage(content)
		case PartCertificateChain:
			resp.CertificateChain = string(content)
		}
	}
	return resp, nil
}
