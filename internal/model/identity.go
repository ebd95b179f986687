package model

import "time"

// UserInfo はIDトークンのクレームから取り出したログインユーザー情報。
// セッションの user 値としてCookieに保存される。
type UserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// LoginAttempt は1回のログイン試行に紐づくOAuth state。
// コールバックで1度だけ照合され、その後破棄される。
type LoginAttempt struct {
	State        string    `json:"st"`
	CodeVerifier string    `json:"cv"`
	Nonce        string    `json:"nn"`
	ExpiresAt    time.Time `json:"exp"`
}

// Expired は試行が有効期限切れかどうかを返す。
func (a LoginAttempt) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}
