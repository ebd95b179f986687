// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/usergate/internal/auth"
	"github.com/hitoshi/usergate/internal/metrics"
	"github.com/hitoshi/usergate/internal/middleware"
	"github.com/hitoshi/usergate/internal/model"
	"github.com/hitoshi/usergate/internal/session"
	"github.com/hitoshi/usergate/internal/view"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	InitiateLogin(ctx context.Context) (*model.LoginAttempt, string, error)
	HandleCallback(ctx context.Context, query url.Values, attempt *model.LoginAttempt) (*model.UserInfo, error)
}

// SessionWriter はセッションCookieの書き込みインターフェース。
type SessionWriter interface {
	Save(w http.ResponseWriter, sess *session.Session) error
	Clear(w http.ResponseWriter)
}

// PageRenderer はHTMLページの描画インターフェース。
type PageRenderer interface {
	Render(w http.ResponseWriter, status int, name string, data interface{})
}

// LoginRecorder はログイン結果のメトリクス記録インターフェース。
type LoginRecorder interface {
	RecordLogin(outcome string)
}

// AuthHandler はページ表示とOIDCログインフローのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionWriter
	pages    PageRenderer
	recorder LoginRecorder
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionWriter, pages PageRenderer, recorder LoginRecorder) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		pages:    pages,
		recorder: recorder,
		now:      time.Now,
	}
}

// Home はトップページを表示する。ログイン済みなら/welcomeへリダイレクトする。
// GET /
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	if middleware.SessionFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, "/welcome", http.StatusFound)
		return
	}
	h.pages.Render(w, http.StatusOK, view.PageHome, nil)
}

// Welcome はログインユーザーのクレームを表示する。未ログインなら/へリダイレクトする。
// GET /welcome
func (h *AuthHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if !sess.IsAuthenticated() {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.pages.Render(w, http.StatusOK, view.PageWelcome, view.WelcomeData{User: sess.User})
}

// Login はOIDCログインフローを開始する。
// 試行をセッションに保存してからIdPの認可エンドポイントへリダイレクトする。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	attempt, authURL, err := h.service.InitiateLogin(r.Context())
	if err != nil {
		h.renderAuthError(w, r, err)
		return
	}

	sess := currentSession(r)
	sess.AddAttempt(*attempt, h.now())
	if err := h.sessions.Save(w, sess); err != nil {
		h.renderAuthError(w, r, &auth.AuthError{Kind: auth.KindSessionWriteFailed, Err: err})
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はIdPからのコールバックを処理する。
// 成功時はユーザーをセッションに保存して/welcomeへ、失敗時はエラーページを表示する。
// GET /auth?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// 試行は照合結果にかかわらず取り出した時点で消費する
	sess := currentSession(r)
	attempt := sess.TakeAttempt(query.Get("state"))

	info, err := h.service.HandleCallback(r.Context(), query, attempt)
	if err != nil {
		if attempt != nil {
			if saveErr := h.sessions.Save(w, sess); saveErr != nil {
				slog.Warn("failed to discard login attempt", slog.String("error", saveErr.Error()))
			}
		}
		h.renderAuthError(w, r, err)
		return
	}

	sess.SetUser(info)
	if err := h.sessions.Save(w, sess); err != nil {
		h.renderAuthError(w, r, &auth.AuthError{Kind: auth.KindSessionWriteFailed, Err: err})
		return
	}

	h.recorder.RecordLogin(metrics.LoginSuccess)
	slog.Info("login succeeded", slog.String("user_sub", info.Sub))

	http.Redirect(w, r, "/welcome", http.StatusFound)
}

// Logout はセッションを破棄して/へリダイレクトする。未ログインでも成功する。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sub := middleware.UserSubFromContext(r.Context()); sub != "" {
		slog.Info("logout", slog.String("user_sub", sub))
	}
	h.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// renderAuthError は認証エラーを種別に応じたステータスのエラーページとして表示する。
func (h *AuthHandler) renderAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *auth.AuthError
	if !errors.As(err, &authErr) {
		authErr = &auth.AuthError{Kind: auth.KindProviderError, Err: err}
	}

	h.recorder.RecordLogin(string(authErr.Kind))

	attrs := []any{
		slog.String("kind", string(authErr.Kind)),
		slog.String("path", r.URL.Path),
		slog.String("error", authErr.Error()),
	}
	switch authErr.Kind {
	case auth.KindAccessDenied, auth.KindStateMismatch:
		slog.Warn("login failed", attrs...)
	default:
		slog.Error("login failed", attrs...)
	}

	h.pages.Render(w, authErrorStatus(authErr.Kind), view.PageError, view.ErrorData{Error: authErr.UserMessage()})
}

// authErrorStatus は認証エラー種別からHTTPステータスコードにマッピングする。
func authErrorStatus(kind auth.ErrorKind) int {
	switch kind {
	case auth.KindAccessDenied:
		return http.StatusForbidden
	case auth.KindStateMismatch:
		return http.StatusBadRequest
	case auth.KindProviderError:
		return http.StatusBadGateway
	case auth.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// currentSession はリクエストのセッションを返す。無ければ空のセッションを返す。
func currentSession(r *http.Request) *session.Session {
	if sess := middleware.SessionFromContext(r.Context()); sess != nil {
		return sess
	}
	return &session.Session{}
}
