package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sales_service/internal/auth"
)

const (
	correlationHeader = "X-Correlation-Id"
	correlationKey    = "correlation_id"
	credentialKey     = "credential"
)

// correlationID tags every request with an id, reusing the caller's when present.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("correlation_id", c.GetString(correlationKey)),
		)
	}
}

// authenticate verifies the bearer token and stores the resulting credential.
func authenticate(verifier *auth.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		cred, err := verifier.Verify(token)
		if err != nil {
			logger.Warn("rejected request credential",
				zap.String("correlation_id", c.GetString(correlationKey)),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "valid bearer token required"})
			return
		}
		c.Set(credentialKey, cred)
		c.Next()
	}
}

// requireRole lets the request through only for the given roles.
func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := credentialFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "valid bearer token required"})
			return
		}
		if !cred.HasRole(roles...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "role not allowed"})
			return
		}
		c.Next()
	}
}

func credentialFrom(c *gin.Context) (auth.Credential, bool) {
	v, ok := c.Get(credentialKey)
	if !ok {
		return auth.Credential{}, false
	}
	cred, ok := v.(auth.Credential)
	return cred, ok
}
