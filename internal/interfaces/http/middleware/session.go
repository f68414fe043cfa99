package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/daybook-io/daybook-auth/internal/config"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/monitoring"
	"github.com/daybook-io/daybook-auth/pkg/constants"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// Session loads the cookie session if present, touches it, and applies the
// periodic id-rotation policy. Requests without a session cookie pass
// through untouched; an expired cookie is cleared. metrics may be nil.
func Session(sessions *domainservice.SessionService, cfg *config.Config, metrics *monitoring.Metrics, log logger.Logger) gin.HandlerFunc {
	sessLog := log.WithComponent("session")
	return func(c *gin.Context) {
		cookie, err := c.Cookie(constants.SessionCookieName)
		if err != nil || cookie == "" {
			c.Next()
			return
		}

		sess, err := sessions.Get(c.Request.Context(), cookie)
		if err != nil {
			clearSessionCookie(c, &cfg.Cookies)
			c.Next()
			return
		}

		if sessions.RotationDue(sess) {
			rotated, err := sessions.Rotate(c.Request.Context(), sess, "periodic")
			if err != nil {
				sessLog.Warn(c.Request.Context(), "Session rotation failed", logger.Error(err))
			} else {
				sess = rotated
				if metrics != nil {
					metrics.SessionRotations.WithLabelValues("periodic").Inc()
				}
			}
		}

		setSessionCookie(c, &cfg.Cookies, sess.SessionID, int(cfg.Sessions.IdleTimeout.Seconds()))
		c.Set(string(constants.ContextKeySession), sess)
		c.Next()
	}
}

func setSessionCookie(c *gin.Context, cookies *config.CookieConfig, value string, maxAge int) {
	c.SetSameSite(sameSiteMode(cookies.SameSite))
	c.SetCookie(constants.SessionCookieName, value, maxAge, "/", cookies.Domain, cookies.Secure, true)
}

func clearSessionCookie(c *gin.Context, cookies *config.CookieConfig) {
	setSessionCookie(c, cookies, "", -1)
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
