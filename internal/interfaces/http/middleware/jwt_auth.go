// Package middleware provides the gin middleware chain for the auth service.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/monitoring"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/errors"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// JWTAuth verifies the bearer token and stores the claims on the request
// context. Every failure surfaces as the same generic 401; the specific
// failure kind goes to logs and metrics only.
func JWTAuth(tokens *domainservice.TokenService, metrics *monitoring.Metrics, log logger.Logger, requiredScopes ...string) gin.HandlerFunc {
	authLog := log.WithComponent("authn")
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(c)
			return
		}

		start := time.Now()
		claims, err := tokens.Verify(c.Request.Context(), token, domainservice.VerifyOptions{
			ExpectedType:   constants.TokenTypeAccess,
			RequiredScopes: requiredScopes,
		})
		if err != nil {
			result := "error"
			if te, ok := errors.AsTokenError(err); ok {
				result = string(te.Kind)
				authLog.Debug(c.Request.Context(), "Token rejected",
					logger.String("kind", string(te.Kind)), logger.String("path", c.FullPath()))
			} else {
				authLog.Error(c.Request.Context(), "Verification infrastructure failure", err)
			}
			if metrics != nil {
				metrics.RecordVerification(result, time.Since(start))
			}
			writeUnauthorized(c)
			return
		}
		if metrics != nil {
			metrics.RecordVerification("ok", time.Since(start))
		}

		c.Set(string(constants.ContextKeyClaims), claims)
		c.Set(string(constants.ContextKeyUserID), claims.Subject)
		c.Next()
	}
}

func writeUnauthorized(c *gin.Context) {
	status, body := errors.ToErrorResponse(errors.ErrUnauthorized())
	c.AbortWithStatusJSON(status, body)
}
