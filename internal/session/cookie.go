package session

import (
	"crypto/sha256"
	"io"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/hkdf"

	"speakroom/internal/domain"
)

const (
	keyUserID   = "uid"
	keyRole     = "role"
	keyUsername = "username"
)

// CookieStore keeps Data in an authenticated, encrypted gorilla session cookie.
type CookieStore struct {
	store *sessions.CookieStore
	name  string
}

func NewCookieStore(secret []byte, opts Options) *CookieStore {
	opts = opts.withDefaults()
	hashKey, blockKey := deriveKeys(secret)

	cs := sessions.NewCookieStore(hashKey, blockKey)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	cs.MaxAge(opts.MaxAge)

	return &CookieStore{store: cs, name: opts.Name}
}

func (s *CookieStore) Load(r *http.Request) (Data, bool) {
	sess, err := s.store.Get(r, s.name)
	if err != nil {
		return Data{}, false
	}

	uid, ok := sess.Values[keyUserID].(int64)
	if !ok {
		return Data{}, false
	}
	rawRole, ok := sess.Values[keyRole].(string)
	if !ok {
		return Data{}, false
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return Data{}, false
	}
	username, ok := sess.Values[keyUsername].(string)
	if !ok {
		return Data{}, false
	}

	return Data{UserID: uid, Role: role, Username: username}, true
}

func (s *CookieStore) Save(w http.ResponseWriter, r *http.Request, data Data) error {
	// a cookie that fails to decode still yields a fresh session
	sess, _ := s.store.Get(r, s.name)
	sess.Values = map[interface{}]interface{}{
		keyUserID:   data.UserID,
		keyRole:     string(data.Role),
		keyUsername: data.Username,
	}
	return sess.Save(r, w)
}

func (s *CookieStore) Clear(w http.ResponseWriter, r *http.Request) error {
	sess, _ := s.store.Get(r, s.name)
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	return sess.Save(r, w)
}

// deriveKeys splits one secret into the HMAC and AES keys securecookie wants.
func deriveKeys(secret []byte) (hashKey, blockKey []byte) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte("speakroom session cookie"))
	hashKey = make([]byte, 64)
	blockKey = make([]byte, 32)
	// hkdf only fails past 255*HashLen bytes
	_, _ = io.ReadFull(kdf, hashKey)
	_, _ = io.ReadFull(kdf, blockKey)
	return hashKey, blockKey
}

var _ Store = (*CookieStore)(nil)
