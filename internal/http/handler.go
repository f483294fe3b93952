package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
	"speakroom/internal/metrics"
	"speakroom/internal/repository"
	"speakroom/internal/service"
	"speakroom/internal/session"
)

// Options configures the parts of the router that depend on deployment.
type Options struct {
	// StaticDir is served under /static when set.
	StaticDir string
	// AvatarDir is mounted at AvatarURLPrefix for locally stored avatars
	// that live outside StaticDir.
	AvatarDir       string
	AvatarURLPrefix string
	MaxAvatarBytes  int
	Metrics         *metrics.Metrics
	Logger          logrus.FieldLogger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users    service.UserService
	profiles service.ProfileService
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   logrus.FieldLogger
	opts     Options
}

func NewHandler(users service.UserService, profiles service.ProfileService, sessions *session.Manager, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxAvatarBytes <= 0 {
		opts.MaxAvatarBytes = service.DefaultMaxAvatarBytes
	}
	return &Handler{
		users:    users,
		profiles: profiles,
		sessions: sessions,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		opts:     opts,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware())
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	router.SetHTMLTemplate(parseTemplates())

	if h.opts.StaticDir != "" {
		router.Static("/static", h.opts.StaticDir)
	}
	if h.opts.AvatarDir != "" && h.opts.AvatarURLPrefix != "" && !strings.HasPrefix(h.opts.AvatarURLPrefix, "/static/") {
		router.Static(h.opts.AvatarURLPrefix, h.opts.AvatarDir)
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	router.GET("/", h.home)
	router.GET("/login", h.loginPage)
	router.POST("/login", h.login)
	router.GET("/logout", h.logout)

	student := router.Group("/student")
	{
		student.GET("/dashboard", h.requireRole(domain.RoleStudent, h.studentPage("student/dashboard", "Dashboard")))
		student.GET("/chat", h.requireRole(domain.RoleStudent, h.studentPage("student/chat", "Chat")))
		student.GET("/speaking", h.requireRole(domain.RoleStudent, h.studentPage("student/speaking", "Speaking")))
		student.GET("/settings", h.requireRole(domain.RoleStudent, h.settingsPage))
		student.POST("/settings", h.requireRole(domain.RoleStudent, h.saveSettings))
	}

	teacher := router.Group("/teacher")
	{
		teacher.GET("/dashboard", h.requireRole(domain.RoleTeacher, h.teacherDashboard))
		teacher.GET("/students", h.requireRole(domain.RoleTeacher, h.listStudents))
		teacher.GET("/students/new", h.requireRole(domain.RoleTeacher, h.newStudentPage))
		teacher.POST("/students/new", h.requireRole(domain.RoleTeacher, h.createStudent))
	}
}

// currentUser loads the row behind the session. A session whose user row is
// gone is ended and the client sent to the login page.
func (h *Handler) currentUser(c *gin.Context, sess session.Data) (*domain.User, bool) {
	me, err := h.users.GetByID(c.Request.Context(), sess.UserID)
	if err == nil {
		return me, true
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		h.logger.WithField("uid", sess.UserID).Warn("session refers to a missing user")
		if err := h.sessions.End(c.Writer, c.Request); err != nil {
			h.logger.WithError(err).Warn("end stale session")
		}
		c.Redirect(http.StatusSeeOther, "/login")
		return nil, false
	}
	h.serverError(c, "load current user", err)
	return nil, false
}

func (h *Handler) serverError(c *gin.Context, op string, err error) {
	h.logger.WithError(err).WithField("op", op).Error("request failed")
	c.String(http.StatusInternalServerError, "Something went wrong. Please try again.")
}
