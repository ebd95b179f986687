// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/usergate/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionLoader はCookieからセッションを復元するインターフェース。
// session.Storeの部分集合として定義する。
type SessionLoader interface {
	Get(r *http.Request) *session.Session
}

// NewSessionMiddleware はCookieからセッションを読み取り、リクエストコンテキストに注入するミドルウェアを返す。
// セッションが無い、または不正な場合もリクエストは拒否せず、そのまま次へ渡す。
// 認証が必要かどうかはハンドラーが判断する。
func NewSessionMiddleware(loader SessionLoader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sess := loader.Get(r); sess != nil {
				r = r.WithContext(ContextWithSession(r.Context(), sess))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。無ければnilを返す。
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionContextKey).(*session.Session)
	return sess
}

// UserSubFromContext はログイン済みユーザーのsubを返す。未ログインなら空文字列。
func UserSubFromContext(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess.IsAuthenticated() {
		return sess.User.Sub
	}
	return ""
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
