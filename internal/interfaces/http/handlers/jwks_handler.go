package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook-io/daybook-auth/internal/domain/models"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// JWKSHandler serves the public key discovery document. The set can hold
// more than one key during rotation overlap; consumers must tolerate that.
type JWKSHandler struct {
	keys domainservice.KeyProvider
	log  logger.Logger
}

// NewJWKSHandler creates the handler.
func NewJWKSHandler(keys domainservice.KeyProvider, log logger.Logger) *JWKSHandler {
	return &JWKSHandler{keys: keys, log: log.WithComponent("jwks")}
}

// GetJWKS handles GET /.well-known/jwks.json.
func (h *JWKSHandler) GetJWKS(c *gin.Context) {
	keys, err := h.keys.VerificationKeys(c.Request.Context())
	if err != nil {
		h.log.Error(c.Request.Context(), "Failed to load verification keys", err)
		writeError(c, errors.ErrServiceUnavailable("keys unavailable"))
		return
	}

	doc := models.JWKS{Keys: make([]models.JWK, 0, len(keys))}
	for _, key := range keys {
		doc.Keys = append(doc.Keys, key.ToJWK())
	}

	c.Header("Cache-Control", "public, max-age=300")
	c.JSON(http.StatusOK, doc)
}
