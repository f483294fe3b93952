package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
	"speakroom/internal/service"
	"speakroom/internal/session"
)

const createStudentFailedMessage = "Username already exists (or DB error)."

func (h *Handler) teacherDashboard(c *gin.Context, sess session.Data) {
	total, err := h.users.CountByRole(c.Request.Context(), domain.RoleStudent)
	if err != nil {
		h.serverError(c, "count students", err)
		return
	}
	c.HTML(http.StatusOK, "teacher/dashboard", page{
		Title:         "Dashboard",
		Teacher:       sess.Username,
		TotalStudents: total,
	})
}

func (h *Handler) listStudents(c *gin.Context, sess session.Data) {
	students, err := h.users.ListByRole(c.Request.Context(), domain.RoleStudent)
	if err != nil {
		h.serverError(c, "list students", err)
		return
	}
	c.HTML(http.StatusOK, "teacher/students", page{
		Title:    "Students",
		Teacher:  sess.Username,
		Students: students,
	})
}

func (h *Handler) newStudentPage(c *gin.Context, sess session.Data) {
	c.HTML(http.StatusOK, "teacher/students/new", page{Title: "New student", Teacher: sess.Username})
}

func (h *Handler) createStudent(c *gin.Context, sess session.Data) {
	req := service.NewStudent{
		Username:    c.PostForm("username"),
		Password:    c.PostForm("password"),
		DisplayName: c.PostForm("display_name"),
	}

	user, err := h.users.CreateStudent(c.Request.Context(), req)
	if err != nil {
		message := createStudentFailedMessage
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			message = verr.Message
		case errors.Is(err, service.ErrUserAlreadyExists):
		default:
			h.logger.WithError(err).WithField("username", strings.TrimSpace(req.Username)).Error("create student")
		}

		c.HTML(http.StatusBadRequest, "teacher/students/new", page{
			Title:   "New student",
			Teacher: sess.Username,
			Error:   message,
			Form:    service.NewStudent{Username: strings.TrimSpace(req.Username), DisplayName: strings.TrimSpace(req.DisplayName)},
		})
		return
	}

	h.metrics.StudentCreated()
	h.logger.WithFields(logrus.Fields{
		"teacher":  sess.Username,
		"username": user.Username,
	}).Info("student created")
	c.Redirect(http.StatusSeeOther, "/teacher/students")
}
