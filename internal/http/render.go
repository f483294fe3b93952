package http

import (
	"embed"
	"html/template"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"speakroom/internal/domain"
	"speakroom/internal/service"
)

//go:embed templates/*.html
var templateFS embed.FS

// Goals offered on the settings form. The choice is echoed back, not stored.
var studyGoals = []string{"General English", "Business English", "Exam preparation", "Travel"}

const defaultGoal = "General English"

// page is the single view model shared by all templates.
type page struct {
	Title string
	// Me is set on student pages, Teacher on teacher pages.
	Me      *domain.User
	Teacher string

	Error    string
	Username string
	Saved    bool
	Goal     string
	Goals    []string

	TotalStudents int
	Students      []domain.User
	Form          service.NewStudent
}

func parseTemplates() *template.Template {
	return template.Must(template.New("").Funcs(template.FuncMap{
		"displayName": displayName,
		"initial":     initial,
		"formatTime":  formatTime,
	}).ParseFS(templateFS, "templates/*.html"))
}

func displayName(u *domain.User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	return u.Username
}

func initial(name string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(name))
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
