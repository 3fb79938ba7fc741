package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-gateway/internal/credential"
	"github.com/stemsi/exam-gateway/internal/response"
)

const (
	// ContextKeySession is the Gin context key for the caller's SessionContext.
	ContextKeySession = "session"
)

// RequireSession verifies the bearer token issued by the session manager, stores it
// for outbound calls and exposes the caller's SessionContext.
func RequireSession(verifier *credential.Verifier, store credential.Store, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, verifier, store, log, bearerToken(c))
	}
}

// RequireSessionWS reads the token from the query param ?token=...
// Used for WebSocket upgrade requests, which cannot carry headers from browsers.
func RequireSessionWS(verifier *credential.Verifier, store credential.Store, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, verifier, store, log, c.Query("token"))
	}
}

// GetSession retrieves the SessionContext from the Gin context.
func GetSession(c *gin.Context) *credential.SessionContext {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}
	sc, ok := val.(*credential.SessionContext)
	if !ok {
		return nil
	}
	return sc
}

func authenticate(c *gin.Context, verifier *credential.Verifier, store credential.Store, log zerolog.Logger, token string) {
	if token == "" {
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	now := time.Now()
	claims, err := verifier.ParseAccessToken(token, now)
	if err != nil {
		if errors.Is(err, credential.ErrTokenExpired) {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
			return
		}
		log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("Rejected session token")
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
		return
	}

	userID := claims.UserID.String()
	if err := store.Set(c.Request.Context(), userID, token, claims.TTL(now)); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to store credential")
		response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Set(ContextKeySession, credential.NewSessionContext(userID, store))
	c.Next()
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
