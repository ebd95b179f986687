// Package auth はOpenID Connectによるログインフローを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/usergate/internal/model"
)

// stateBytes はstateとnonceの乱数バイト長。
const stateBytes = 32

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	StateTTL time.Duration // ログイン試行の有効期間
}

// Service はログインフローのビジネスロジックを提供する。
// セッションへの保存はハンドラーが行う。
type Service struct {
	provider OAuthProvider
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(provider OAuthProvider, config ServiceConfig) *Service {
	return &Service{
		provider: provider,
		config:   config,
		now:      time.Now,
	}
}

// InitiateLogin は新しいログイン試行と、リダイレクト先の認可URLを返す。
// 返した試行はコールバックまでセッションに保持すること。
func (s *Service) InitiateLogin(ctx context.Context) (*model.LoginAttempt, string, error) {
	state, err := randomToken()
	if err != nil {
		return nil, "", err
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, "", err
	}

	attempt := &model.LoginAttempt{
		State:        state,
		CodeVerifier: oauth2.GenerateVerifier(),
		Nonce:        nonce,
		ExpiresAt:    s.now().Add(s.config.StateTTL),
	}

	authURL, err := s.provider.AuthCodeURL(ctx, attempt.State, attempt.Nonce, attempt.CodeVerifier)
	if err != nil {
		return nil, "", classify(err, KindProviderUnavailable)
	}

	return attempt, authURL, nil
}

// HandleCallback はIdPからのコールバックを処理し、検証済みのユーザー情報を返す。
// attemptはクエリのstateでセッションから取り出した試行（無ければnil）。
// stateの照合はネットワークアクセスより先に行う。
func (s *Service) HandleCallback(ctx context.Context, query url.Values, attempt *model.LoginAttempt) (*model.UserInfo, error) {
	// 1. stateの照合
	state := query.Get("state")
	switch {
	case attempt == nil:
		return nil, newAuthError(KindStateMismatch, "no pending login for state", nil)
	case attempt.Expired(s.now()):
		return nil, newAuthError(KindStateMismatch, "login attempt expired", nil)
	case subtle.ConstantTimeCompare([]byte(attempt.State), []byte(state)) != 1:
		return nil, newAuthError(KindStateMismatch, "state does not match", nil)
	}

	// 2. IdPから返されたエラー
	if errCode := query.Get("error"); errCode != "" {
		if errCode == "access_denied" {
			return nil, newAuthError(KindAccessDenied, errCode, nil)
		}
		detail := errCode
		if desc := query.Get("error_description"); desc != "" {
			detail += ": " + desc
		}
		return nil, newAuthError(KindProviderError, detail, nil)
	}

	code := query.Get("code")
	if code == "" {
		return nil, newAuthError(KindProviderError, "callback has no code", nil)
	}

	// 3. トークン交換とIDトークン検証
	rawIDToken, err := s.provider.Exchange(ctx, code, attempt.CodeVerifier)
	if err != nil {
		return nil, classify(err, KindProviderError)
	}

	info, err := s.provider.VerifyIDToken(ctx, rawIDToken, attempt.Nonce)
	if err != nil {
		return nil, classify(err, KindProviderError)
	}

	return info, nil
}

// classify は未分類のエラーを指定の種別のAuthErrorで包む。
func classify(err error, fallback ErrorKind) error {
	if _, ok := KindOf(err); ok {
		return err
	}
	return newAuthError(fallback, "", err)
}

// randomToken は暗号的に安全な乱数をbase64url（パディングなし）で返す。
func randomToken() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
