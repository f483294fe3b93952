package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"speakroom/internal/domain"
	"speakroom/internal/metrics"
	"speakroom/internal/service"
	"speakroom/internal/session"
)

const (
	multipartMemory = 8 << 20
	// formOverhead leaves room for the text fields next to the avatar.
	formOverhead = 1 << 20
)

var errAvatarTooLarge = &service.ValidationError{Field: "avatar", Message: "Avatar too large (max ~2.5MB)."}

func (h *Handler) studentPage(name, title string) sessionHandler {
	return func(c *gin.Context, sess session.Data) {
		me, ok := h.currentUser(c, sess)
		if !ok {
			return
		}
		c.HTML(http.StatusOK, name, page{Title: title, Me: me})
	}
}

func (h *Handler) settingsPage(c *gin.Context, sess session.Data) {
	me, ok := h.currentUser(c, sess)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "student/settings", settingsView(me, defaultGoal))
}

func (h *Handler) saveSettings(c *gin.Context, sess session.Data) {
	me, ok := h.currentUser(c, sess)
	if !ok {
		return
	}

	settings, goal, err := h.readSettingsForm(c)
	if err != nil {
		h.settingsFailed(c, me, goal, err, true)
		return
	}
	hasAvatar := settings.Avatar != nil

	updated, err := h.profiles.UpdateSettings(c.Request.Context(), sess.UserID, settings)
	if err != nil {
		h.settingsFailed(c, me, goal, err, hasAvatar)
		return
	}
	if hasAvatar {
		h.metrics.ObserveAvatarUpload(metrics.AvatarStored)
	}

	view := settingsView(updated, goal)
	view.Saved = true
	c.HTML(http.StatusOK, "student/settings", view)
}

func (h *Handler) settingsFailed(c *gin.Context, me *domain.User, goal string, err error, withAvatar bool) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		if withAvatar {
			h.metrics.ObserveAvatarUpload(metrics.AvatarRejected)
		}
		view := settingsView(me, goal)
		view.Error = verr.Message
		c.HTML(http.StatusBadRequest, "student/settings", view)
		return
	}
	if withAvatar {
		h.metrics.ObserveAvatarUpload(metrics.AvatarFailed)
	}
	h.serverError(c, "update settings", err)
}

// readSettingsForm accepts both multipart and urlencoded submissions. The
// avatar is read up to one byte past the cap so oversize files are detected
// without buffering them whole.
func (h *Handler) readSettingsForm(c *gin.Context) (service.Settings, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(h.opts.MaxAvatarBytes)+formOverhead)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.Settings{}, defaultGoal, errAvatarTooLarge
		}
		return service.Settings{}, defaultGoal, &service.ValidationError{Message: "Could not read the submitted form."}
	}

	goal := c.DefaultPostForm("goal", defaultGoal)
	settings := service.Settings{DisplayName: c.PostForm("display_name")}

	form := c.Request.MultipartForm
	if form == nil || len(form.File["avatar"]) == 0 {
		return settings, goal, nil
	}
	fh := form.File["avatar"][0]
	if fh.Filename == "" {
		return settings, goal, nil
	}

	f, err := fh.Open()
	if err != nil {
		return settings, goal, fmt.Errorf("open avatar: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(h.opts.MaxAvatarBytes)+1))
	if err != nil {
		return settings, goal, fmt.Errorf("read avatar: %w", err)
	}
	settings.Avatar = &service.AvatarUpload{Filename: fh.Filename, Data: data}
	return settings, goal, nil
}

func settingsView(me *domain.User, goal string) page {
	if goal == "" {
		goal = defaultGoal
	}
	goals := studyGoals
	if !slices.Contains(goals, goal) {
		goals = append(append([]string{}, studyGoals...), goal)
	}
	return page{Title: "Settings", Me: me, Goal: goal, Goals: goals}
}
