package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderGuestID   = "X-Guest-ID"
	HeaderRequestID = "X-Request-ID"

	identityKey = "identity"
)

// Identity resolves the caller from X-User-ID, falling back to X-Guest-ID.
// A guest without an id is issued one, echoed in the response header.
// Authentication happens upstream.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := models.Identity{
			UserID:  c.GetHeader(HeaderUserID),
			GuestID: c.GetHeader(HeaderGuestID),
		}
		if id.IsGuest() && id.GuestID == "" {
			id.GuestID = uuid.New().String()
		}
		if id.IsGuest() {
			c.Header(HeaderGuestID, id.GuestID)
		}
		c.Set(identityKey, id)
		c.Request = c.Request.WithContext(logger.WithOwnerID(c.Request.Context(), id.Key()))
		c.Next()
	}
}

// GetIdentity returns the identity set by Identity.
func GetIdentity(c *gin.Context) models.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(models.Identity); ok {
			return id
		}
	}
	return models.Identity{}
}

// RequestLogger tags each request with an id and logs its outcome.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))

		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("requestId", requestID),
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			log.Error("Request failed", fields...)
			return
		}
		log.Debug("Request served", fields...)
	}
}
