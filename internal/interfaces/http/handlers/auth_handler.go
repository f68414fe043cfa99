// Package handlers implements the HTTP endpoints of the auth service.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook-io/daybook-auth/internal/application/dto"
	appservice "github.com/daybook-io/daybook-auth/internal/application/service"
	"github.com/daybook-io/daybook-auth/internal/config"
	"github.com/daybook-io/daybook-auth/internal/domain/models"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// AuthHandler exposes login, refresh, logout, verification, and m2m minting.
type AuthHandler struct {
	app     *appservice.AuthAppService
	cookies *config.CookieConfig
	tokens  *config.TokenConfig
	session *config.SessionConfig
	log     logger.Logger
}

// NewAuthHandler creates the handler.
func NewAuthHandler(app *appservice.AuthAppService, cfg *config.Config, log logger.Logger) *AuthHandler {
	return &AuthHandler{
		app:     app,
		cookies: &cfg.Cookies,
		tokens:  &cfg.Tokens,
		session: &cfg.Sessions,
		log:     log.WithComponent("http"),
	}
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrInvalidRequest("invalid login request"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	pair, err := h.app.Login(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	if pair.SessionID != "" {
		h.setSessionCookie(c, pair.SessionID)
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh handles POST /v1/auth/refresh. The refresh token may come from the
// body or the cookie.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	_ = c.ShouldBindJSON(&req)
	if req.RefreshToken == "" {
		if cookie, err := c.Cookie(constants.RefreshCookieName); err == nil {
			req.RefreshToken = cookie
		}
	}
	if req.RefreshToken == "" {
		writeError(c, errors.ErrInvalidRequest("refresh token required"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	pair, err := h.app.Refresh(c.Request.Context(), &req)
	if err != nil {
		// Any refresh failure clears the cookie; a stolen-token incident
		// must not leave the credential sitting in the browser.
		h.clearRefreshCookie(c)
		writeError(c, err)
		return
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	c.JSON(http.StatusOK, pair)
}

// Logout handles POST /v1/auth/logout. Requires an authenticated caller.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		writeError(c, errors.ErrUnauthorized())
		return
	}

	var body struct {
		RevokeAll bool `json:"revoke_all"`
	}
	_ = c.ShouldBindJSON(&body)

	sessionID := claims.SessionID
	if cookie, err := c.Cookie(constants.SessionCookieName); err == nil && sessionID == "" {
		sessionID = cookie
	}

	err := h.app.Logout(c.Request.Context(), &dto.LogoutRequest{
		UserID:    claims.Subject,
		SessionID: sessionID,
		JTI:       claims.ID,
		TokenExp:  claims.ExpiresAt.Time,
		RevokeAll: body.RevokeAll,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.clearRefreshCookie(c)
	h.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

// Verify handles POST /v1/auth/verify for internal services that cannot
// verify locally.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrInvalidRequest("token required"))
		return
	}

	claims, err := h.app.VerifyToken(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.VerifyResponse{
		Active:  true,
		Subject: claims.Subject,
		Type:    string(claims.TokenType),
		Scopes:  claims.Scopes().Slice(),
		Expires: claims.ExpiresAt.Unix(),
	})
}

// MintM2M handles POST /v1/auth/m2m. Restricted to callers holding the
// token admin scope.
func (h *AuthHandler) MintM2M(c *gin.Context) {
	var req dto.MintM2MRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrInvalidRequest("service_name required"))
		return
	}

	resp, err := h.app.MintM2M(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ================================================================================
// Cookie helpers
// ================================================================================

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token string) {
	h.setCookie(c, constants.RefreshCookieName, token, int(h.tokens.RefreshTTL.Seconds()))
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	h.setCookie(c, constants.RefreshCookieName, "", -1)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, sessionID string) {
	h.setCookie(c, constants.SessionCookieName, sessionID, int(h.session.IdleTimeout.Seconds()))
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	h.setCookie(c, constants.SessionCookieName, "", -1)
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(sameSiteMode(h.cookies.SameSite))
	c.SetCookie(name, value, maxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
}

func sameSiteMode(mode string) http.SameSite {
	switch mode {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// ================================================================================
// Shared helpers
// ================================================================================

// writeError renders any error through the single boundary mapping.
func writeError(c *gin.Context, err error) {
	status, body := errors.ToErrorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

// claimsFromContext returns the verified claims the auth middleware stored.
func claimsFromContext(c *gin.Context) *models.Claims {
	v, ok := c.Get(string(constants.ContextKeyClaims))
	if !ok {
		return nil
	}
	claims, _ := v.(*models.Claims)
	return claims
}
