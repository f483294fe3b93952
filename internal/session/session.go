// Package session binds a browser to an authenticated identity.
//
// The identity lives entirely in a signed cookie; there is no server-side
// session table and no expiry beyond the cookie's own lifetime. A missing,
// tampered or undecodable cookie reads as "not logged in".
package session

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"

	"speakroom/internal/domain"
)

// Data is the identity carried by an authenticated session.
type Data struct {
	UserID   int64
	Role     domain.Role
	Username string
}

func (d Data) validate() error {
	if d.UserID <= 0 {
		return errors.New("session user id must be positive")
	}
	if d.Username == "" {
		return errors.New("session username is required")
	}
	if !d.Role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, d.Role)
	}
	return nil
}

// Store persists session Data in the client-held artifact.
type Store interface {
	Load(r *http.Request) (Data, bool)
	Save(w http.ResponseWriter, r *http.Request, data Data) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// Options are the cookie attributes shared by all stores.
type Options struct {
	Name string
	// MaxAge in seconds; 0 keeps the cookie for the browser session only.
	MaxAge int
	Secure bool
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = "speakroom_session"
	}
	if o.MaxAge < 0 {
		o.MaxAge = 0
	}
	return o
}

const (
	DriverCookie = "cookie"
	DriverJWT    = "jwt"
)

// NewStore builds the store named by driver.
func NewStore(driver string, secret []byte, opts Options) (Store, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	switch driver {
	case "", DriverCookie:
		return NewCookieStore(secret, opts), nil
	case DriverJWT:
		return NewTokenStore(secret, opts), nil
	default:
		return nil, fmt.Errorf("unknown session driver %q", driver)
	}
}

// ResolveSecret returns the configured secret, or a random per-process key
// when none is configured. Sessions signed with a random key do not survive
// a restart.
func ResolveSecret(configured string, logger logrus.FieldLogger) []byte {
	if configured != "" {
		return []byte(configured)
	}
	logger.Warn("session secret is not configured; using a random key, sessions will not survive restarts")
	return securecookie.GenerateRandomKey(64)
}

// Manager starts, reads and ends sessions for the current client.
type Manager struct {
	store  Store
	logger logrus.FieldLogger
}

func NewManager(store Store, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{store: store, logger: logger}
}

// Start establishes a session for the client behind r.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request, data Data) error {
	if err := data.validate(); err != nil {
		return err
	}
	if err := m.store.Save(w, r, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"uid":      data.UserID,
		"role":     data.Role,
		"username": data.Username,
	}).Info("session started")
	return nil
}

// Current returns the session of the client behind r, if any.
func (m *Manager) Current(r *http.Request) (Data, bool) {
	data, ok := m.store.Load(r)
	if !ok {
		return Data{}, false
	}
	if err := data.validate(); err != nil {
		m.logger.WithError(err).Debug("discarding invalid session")
		return Data{}, false
	}
	return data, true
}

// End invalidates the session of the client behind r.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	if err := m.store.Clear(w, r); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
