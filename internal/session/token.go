package session

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"speakroom/internal/domain"
)

const tokenIssuer = "speakroom"

type tokenClaims struct {
	UserID   int64  `json:"uid"`
	Role     string `json:"role"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenStore keeps Data in an HS256-signed JWT carried by an HttpOnly cookie.
type TokenStore struct {
	secret []byte
	opts   Options
}

func NewTokenStore(secret []byte, opts Options) *TokenStore {
	return &TokenStore{secret: secret, opts: opts.withDefaults()}
}

func (s *TokenStore) Load(r *http.Request) (Data, bool) {
	cookie, err := r.Cookie(s.opts.Name)
	if err != nil || cookie.Value == "" {
		return Data{}, false
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Data{}, false
	}

	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return Data{}, false
	}
	return Data{UserID: claims.UserID, Role: role, Username: claims.Username}, true
}

func (s *TokenStore) Save(w http.ResponseWriter, _ *http.Request, data Data) error {
	now := time.Now()
	claims := &tokenClaims{
		UserID:   data.UserID,
		Role:     string(data.Role),
		Username: data.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  strconv.FormatInt(data.UserID, 10),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.opts.MaxAge > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Duration(s.opts.MaxAge) * time.Second))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("sign session token: %w", err)
	}

	http.SetCookie(w, s.cookie(signed, s.opts.MaxAge))
	return nil
}

func (s *TokenStore) Clear(w http.ResponseWriter, _ *http.Request) error {
	http.SetCookie(w, s.cookie("", -1))
	return nil
}

func (s *TokenStore) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.opts.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

var _ Store = (*TokenStore)(nil)
