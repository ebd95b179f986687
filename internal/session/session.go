// Package session は署名付きCookieによるセッション管理を提供する。
// サーバー側にセッションテーブルは持たず、セッション全体をHS256で署名したJWTとして
// 1つのCookieに格納する。
package session

import (
	"crypto/subtle"
	"time"

	"github.com/hitoshi/usergate/internal/model"
)

// MaxPendingAttempts は同時に保持できるログイン試行の上限。
// 上限を超えた場合は最も古い試行を破棄する。
const MaxPendingAttempts = 5

// Session はCookieに保存されるセッション値。
type Session struct {
	// ID はセッションの識別子（JWTのjti）。Saveで未設定なら採番される。
	ID string
	// User はログイン済みユーザーのクレーム。未ログインならnil。
	User *model.UserInfo
	// Attempts はコールバック待ちのログイン試行。
	Attempts []model.LoginAttempt
}

// IsAuthenticated はログイン済みかどうかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.User != nil
}

// IsEmpty は保存すべき値を持たないかどうかを返す。
func (s *Session) IsEmpty() bool {
	return s == nil || (s.User == nil && len(s.Attempts) == 0)
}

// SetUser はログインユーザーを設定し、コールバック待ちの試行を破棄する。
func (s *Session) SetUser(u *model.UserInfo) {
	s.User = u
	s.Attempts = nil
}

// AddAttempt はログイン試行を追加する。
// 期限切れの試行を取り除いたうえで、上限を超えた分は古い順に破棄する。
func (s *Session) AddAttempt(a model.LoginAttempt, now time.Time) {
	s.prune(now)
	s.Attempts = append(s.Attempts, a)
	if over := len(s.Attempts) - MaxPendingAttempts; over > 0 {
		s.Attempts = append([]model.LoginAttempt(nil), s.Attempts[over:]...)
	}
}

// TakeAttempt はstateに一致する試行を取り除いて返す。見つからない場合はnilを返す。
// 取り出した試行は二度と返さない。期限の判定は呼び出し側で行う。
func (s *Session) TakeAttempt(state string) *model.LoginAttempt {
	if s == nil || state == "" {
		return nil
	}
	for i, a := range s.Attempts {
		if subtle.ConstantTimeCompare([]byte(a.State), []byte(state)) == 1 {
			s.Attempts = append(s.Attempts[:i:i], s.Attempts[i+1:]...)
			return &a
		}
	}
	return nil
}

func (s *Session) prune(now time.Time) {
	kept := s.Attempts[:0]
	for _, a := range s.Attempts {
		if !a.Expired(now) {
			kept = append(kept, a)
		}
	}
	s.Attempts = kept
}
