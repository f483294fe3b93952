package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
	"speakroom/internal/metrics"
	"speakroom/internal/service"
	"speakroom/internal/session"
)

const invalidCredentialsMessage = "Invalid username or password."

func dashboardPath(role domain.Role) string {
	switch role {
	case domain.RoleTeacher:
		return "/teacher/dashboard"
	case domain.RoleStudent:
		return "/student/dashboard"
	}
	return "/login"
}

func (h *Handler) home(c *gin.Context) {
	sess, ok := h.sessions.Current(c.Request)
	if !ok {
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}
	c.Redirect(http.StatusSeeOther, dashboardPath(sess.Role))
}

func (h *Handler) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login", page{Title: "Sign in"})
}

func (h *Handler) login(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")

	user, err := h.users.Authenticate(c.Request.Context(), username, password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.metrics.ObserveLogin(metrics.LoginFailure)
			c.HTML(http.StatusUnauthorized, "login", page{
				Title:    "Sign in",
				Error:    invalidCredentialsMessage,
				Username: strings.TrimSpace(username),
			})
			return
		}
		h.metrics.ObserveLogin(metrics.LoginError)
		h.serverError(c, "authenticate", err)
		return
	}

	data := session.Data{UserID: user.ID, Role: user.Role, Username: user.Username}
	if err := h.sessions.Start(c.Writer, c.Request, data); err != nil {
		h.metrics.ObserveLogin(metrics.LoginError)
		h.serverError(c, "start session", err)
		return
	}
	h.metrics.ObserveLogin(metrics.LoginSuccess)
	c.Redirect(http.StatusSeeOther, dashboardPath(user.Role))
}

func (h *Handler) logout(c *gin.Context) {
	if sess, ok := h.sessions.Current(c.Request); ok {
		h.logger.WithFields(logrus.Fields{"uid": sess.UserID, "username": sess.Username}).Info("session ended")
	}
	if err := h.sessions.End(c.Writer, c.Request); err != nil {
		h.logger.WithError(err).Warn("end session")
	}
	c.Redirect(http.StatusSeeOther, "/login")
}
