package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
	"speakroom/internal/session"
)

const (
	requestIDHeader = "X-Request-ID"
	sessionKey      = "session"
)

// sessionHandler is a handler that runs only for an authenticated session.
type sessionHandler func(c *gin.Context, sess session.Data)

// requestLogger writes one line per request and tags it with a request id.
func requestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)

		c.Next()

		fields := logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start),
			"client_ip":  c.ClientIP(),
		}
		if v, ok := c.Get(sessionKey); ok {
			sess := v.(session.Data)
			fields["uid"] = sess.UserID
			fields["role"] = sess.Role
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// requireRole loads the session once and hands it to next. Anonymous clients
// and clients of another role are sent to the login page before next runs.
func (h *Handler) requireRole(role domain.Role, next sessionHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := h.sessions.Current(c.Request)
		if !ok || sess.Role != role {
			c.Redirect(http.StatusSeeOther, "/login")
			c.Abort()
			return
		}
		c.Set(sessionKey, sess)
		next(c, sess)
	}
}
