// Package wellknown provides fiber controllers for well-known endpoints.
package wellknown

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/DIMO-Network/updates-client/pkg/codesigning"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// CodeSigningResponse describes the certificate manifests are verified against.
type CodeSigningResponse struct {
	Enabled         bool       `json:"enabled"`
	KeyID           string     `json:"keyId,omitempty"`
	Algorithm       string     `json:"alg,omitempty"`
	ExpectSignature string     `json:"expectSignature,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	Fingerprint     string     `json:"sha256Fingerprint,omitempty"`
	NotBefore       *time.Time `json:"notBefore,omitempty"`
	NotAfter        *time.Time `json:"notAfter,omitempty"`
}

// RegisterRoutes adds the well-known routes of the updates client to a fiber app.
func RegisterRoutes(app *fiber.App, controller *Controller) {
	wellKnown := app.Group("/.well-known")
	wellKnown.Get("code-signing", controller.GetCodeSigning)
}

// Controller is a controller for well-known endpoints.
type Controller struct {
	signing    *codesigning.Configuration
	cachedResp atomic.Pointer[CodeSigningResponse]
	now        func() time.Time
}

// NewController creates a new Controller. signing may be nil when code signing is disabled.
func NewController(signing *codesigning.Configuration) *Controller {
	return &Controller{signing: signing, now: time.Now}
}

// GetCodeSigning godoc
// @Summary Get code signing configuration
// @Description Get the certificate and signature parameters used to verify updates
// @Tags codesigning
// @Accept json
// @Produce json
// @Success 200 {object} CodeSigningResponse
// @Failure 500 {object} codeResp
// @Router /.well-known/code-signing [get]
func (c *Controller) GetCodeSigning(ctx *fiber.Ctx) error {
	if c.signing == nil {
		return ctx.JSON(CodeSigningResponse{Enabled: false})
	}
	if cached := c.cachedResp.Load(); cached != nil && c.isValidCache(cached) {
		return ctx.JSON(*cached)
	}

	logger := zerolog.Ctx(ctx.UserContext())
	cert, err := c.signing.EmbeddedCertificate()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get certificate")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get certificate")
	}
	expect, err := c.signing.AcceptSignatureHeader()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to serialize expected signature")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to serialize expected signature")
	}
	fingerprint := sha256.Sum256(cert.Raw)
	resp := CodeSigningResponse{
		Enabled:         true,
		KeyID:           c.signing.KeyID(),
		Algorithm:       string(c.signing.Algorithm()),
		ExpectSignature: expect,
		Subject:         cert.Subject.String(),
		Fingerprint:     hex.EncodeToString(fingerprint[:]),
		NotBefore:       &cert.NotBefore,
		NotAfter:        &cert.NotAfter,
	}
	if c.isValidCache(&resp) {
		c.cachedResp.Store(&resp)
	}
	return ctx.JSON(resp)
}

// isValidCache checks that the cached certificate is still within its validity period.
func (c *Controller) isValidCache(cached *CodeSigningResponse) bool {
	now := c.now()
	return cached.NotBefore != nil && cached.NotAfter != nil &&
		cached.NotBefore.Before(now) && cached.NotAfter.After(now)
}
