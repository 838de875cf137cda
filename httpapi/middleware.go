package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gigflow/auth"
	"gigflow/ledger"
	"gigflow/logger"
)

const (
	headerRequestID = "X-Request-ID"
	headerProfileID = "profile_id"

	ctxKeyCaller = "gigflow.caller"
)

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(headerRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(headerRequestID),
		}
		if caller, ok := callerFrom(c); ok {
			fields = append(fields, "profile_id", caller.ID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Err)
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// requireIdentity resolves the caller before any protected handler runs.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := s.identity.Resolve(c.Request.Context(), auth.Credential{
			Authorization: c.GetHeader("Authorization"),
			ProfileID:     c.GetHeader(headerProfileID),
		})
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			_ = c.Error(err)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Message: "Service temporarily unavailable"})
			return
		}
		c.Set(ctxKeyCaller, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) (ledger.CallerProfile, bool) {
	v, ok := c.Get(ctxKeyCaller)
	if !ok {
		return ledger.CallerProfile{}, false
	}
	caller, ok := v.(ledger.CallerProfile)
	return caller, ok
}
