package updates

import (
	"encoding/json"
	"fmt"
	"time"
)

// Asset is a file referenced by a manifest.
type Asset struct {
	Hash          string `json:"hash"`
	Key           string `json:"key"`
	FileExtension string `json:"fileExtension"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
}

// EASInfo identifies the project that published an update.
type EASInfo struct {
	ProjectID string `json:"projectId"`
}

// ManifestExtra holds the manifest fields outside of the core protocol.
type ManifestExtra struct {
	ScopeKey   string          `json:"scopeKey,omitempty"`
	EAS        EASInfo         `json:"eas"`
	ExpoClient json.RawMessage `json:"expoClient,omitempty"`
	Branch     string          `json:"branch,omitempty"`
}

// Manifest describes an update. Raw is the exact body the manifest was decoded from.
type Manifest struct {
	ID             string          `json:"id"`
	CreatedAt      string          `json:"createdAt"`
	RuntimeVersion string          `json:"runtimeVersion"`
	LaunchAsset    Asset           `json:"launchAsset"`
	Assets         []Asset         `json:"assets"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Extra          ManifestExtra   `json:"extra"`

	Raw json.RawMessage `json:"-"`
}

// ParseManifest decodes and checks a manifest body.
func ParseManifest(body []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrManifestParse)
	}
	if m.LaunchAsset.URL == "" {
		return nil, fmt.Errorf("%w: missing launchAsset url", ErrManifestParse)
	}
	m.Raw = json.RawMessage(body)
	return &m, nil
}

// EASProjectID returns the project id the manifest claims.
func (m *Manifest) EASProjectID() string { return m.Extra.EAS.ProjectID }

// ScopeKey returns the scope key the manifest claims.
func (m *Manifest) ScopeKey() string { return m.Extra.ScopeKey }

// AllAssets returns the launch asset followed by the other assets.
func (m *Manifest) AllAssets() []Asset {
	return append([]Asset{m.LaunchAsset}, m.Assets...)
}

// DirectiveType is the type of an update directive.
type DirectiveType string

const (
	DirectiveNoUpdateAvailable  DirectiveType = "noUpdateAvailable"
	DirectiveRollBackToEmbedded DirectiveType = "rollBackToEmbedded"
)

// SigningInfo carries the project identity of a signed directive.
type SigningInfo struct {
	EASProjectID string `json:"easProjectId"`
	ScopeKey     string `json:"scopeKey"`
}

// RollbackParameters are the parameters of a rollBackToEmbedded directive.
type RollbackParameters struct {
	CommitTime string `json:"commitTime"`
}

// Directive is an instruction from the server sent instead of, or alongside, a manifest.
type Directive struct {
	Type       DirectiveType       `json:"type"`
	Parameters *RollbackParameters `json:"parameters,omitempty"`
	Extra      struct {
		SigningInfo *SigningInfo `json:"signingInfo,omitempty"`
	} `json:"extra"`

	commitTime time.Time
}

// ParseDirective decodes and checks a directive body.
func ParseDirective(body []byte) (*Directive, error) {
	var d Directive
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: directive: %w", ErrManifestParse, err)
	}
	switch d.Type {
	case DirectiveNoUpdateAvailable:
	case DirectiveRollBackToEmbedded:
		if d.Parameters == nil || d.Parameters.CommitTime == "" {
			return nil, fmt.Errorf("%w: rollBackToEmbedded directive missing commitTime", ErrManifestParse)
		}
		commitTime, err := time.Parse(time.RFC3339Nano, d.Parameters.CommitTime)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid commitTime: %w", ErrManifestParse, err)
		}
		d.commitTime = commitTime
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDirective, d.Type)
	}
	return &d, nil
}

// CommitTime returns the commit time of a rollBackToEmbedded directive.
func (d *Directive) CommitTime() time.Time { return d.commitTime }
