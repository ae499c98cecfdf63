package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireAuth verifies the bearer ID token and adds the principal to the
// request context. Websocket clients that cannot set headers may pass the
// token as the access_token query parameter.
func RequireAuth(verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request())
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			p, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				log.Printf("Token verification failed: %v", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}

			ctx := WithPrincipal(c.Request().Context(), *p)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}
	return r.URL.Query().Get("access_token")
}
