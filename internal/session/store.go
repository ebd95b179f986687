package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/usergate/internal/model"
)

// MinSecretLength は署名鍵の最小バイト長。
const MinSecretLength = 32

const issuer = "usergate-session"

// Config はセッションCookieの設定。
type Config struct {
	Secret     []byte
	CookieName string
	MaxAge     time.Duration
	Secure     bool
	SameSite   http.SameSite
	Domain     string
}

// Store はセッションCookieの読み書きを行う。
type Store struct {
	cfg Config
	now func() time.Time
}

// claims はCookieに格納するJWTのペイロード。
type claims struct {
	User    *model.UserInfo      `json:"usr,omitempty"`
	Pending []model.LoginAttempt `json:"pnd,omitempty"`
	jwt.RegisteredClaims
}

// NewStore はStoreを生成する。署名鍵が短すぎる場合はエラーを返す。
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if cfg.CookieName == "" {
		return nil, errors.New("session cookie name is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, errors.New("session max age must be positive")
	}
	if cfg.SameSite == http.SameSiteNoneMode && !cfg.Secure {
		return nil, errors.New("SameSite=None requires a Secure cookie")
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	return &Store{cfg: cfg, now: time.Now}, nil
}

// Get はリクエストのCookieからセッションを復元する。
// Cookieが無い、署名が不正、期限切れのいずれの場合もnilを返す。
func (s *Store) Get(r *http.Request) *Session {
	cookie, err := r.Cookie(s.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	c := &claims{}
	_, err = jwt.ParseWithClaims(cookie.Value, c,
		func(*jwt.Token) (interface{}, error) { return s.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		slog.Debug("discarding invalid session cookie", slog.String("error", err.Error()))
		return nil
	}

	return &Session{ID: c.ID, User: c.User, Attempts: c.Pending}
}

// Save はセッション全体を再署名してCookieに書き込む。
// 空のセッションはCookieを削除する。
func (s *Store) Save(w http.ResponseWriter, sess *Session) error {
	if sess.IsEmpty() {
		s.Clear(w)
		return nil
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.MaxAge)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		User:    sess.User,
		Pending: sess.Attempts,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, s.cookie(signed, int(s.cfg.MaxAge/time.Second), expiresAt))
	return nil
}

// Clear はセッションCookieを失効させる。何度呼んでもよい。
func (s *Store) Clear(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie("", -1, time.Unix(0, 0)))
}

func (s *Store) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: s.cfg.SameSite,
	}
}
