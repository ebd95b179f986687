package auth

import (
	"errors"
	"fmt"
)

// ErrorKind はログインフローの失敗種別。メトリクスのラベルにも使う。
type ErrorKind string

const (
	// KindStateMismatch はstateが無い、期限切れ、または一致しない。
	KindStateMismatch ErrorKind = "state_mismatch"
	// KindAccessDenied はユーザーが同意画面で拒否した。
	KindAccessDenied ErrorKind = "access_denied"
	// KindProviderError はIdPがエラーを返した、またはIDトークンが不正。
	KindProviderError ErrorKind = "provider_error"
	// KindProviderUnavailable はIdPに到達できない、またはタイムアウトした。
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	// KindSessionWriteFailed はトークン交換後のセッション保存に失敗した。
	KindSessionWriteFailed ErrorKind = "session_write_failed"
)

// AuthError はログインフローの分類済みエラー。
type AuthError struct {
	Kind   ErrorKind
	Detail string // ログ用の詳細。画面には出さない
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap は原因エラーを返す。
func (e *AuthError) Unwrap() error {
	return e.Err
}

// UserMessage はエラーページに表示するメッセージを返す。
func (e *AuthError) UserMessage() string {
	if e.Kind == KindAccessDenied {
		return "User denied access"
	}
	return "Authentication Error"
}

// KindOf はerrのチェーンからAuthErrorの種別を取り出す。
func KindOf(err error) (ErrorKind, bool) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind, true
	}
	return "", false
}

func newAuthError(kind ErrorKind, detail string, err error) *AuthError {
	return &AuthError{Kind: kind, Detail: detail, Err: err}
}
