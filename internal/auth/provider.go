package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/hitoshi/usergate/internal/model"
)

// OAuthProvider はOpenID Connectプロバイダーとのやり取りを抽象化する。
// 返すエラーは*AuthErrorに分類済みであること。
type OAuthProvider interface {
	// AuthCodeURL はstate、nonce、PKCEのチャレンジを含む認可URLを生成する。
	AuthCodeURL(ctx context.Context, state, nonce, codeVerifier string) (string, error)
	// Exchange は認可コードをトークンに交換し、生のIDトークンを返す。
	Exchange(ctx context.Context, code, codeVerifier string) (string, error)
	// VerifyIDToken はIDトークンの署名、発行者、audience、期限、nonceを検証する。
	VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*model.UserInfo, error)
}

// ProviderConfig はOIDCプロバイダーの設定。
type ProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	DiscoveryTTL time.Duration
	// HTTPClient はIdPへのリクエストに使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OIDCProvider はgo-oidcとx/oauth2によるOAuthProviderの実装。
// ディスカバリ文書は初回利用時に取得し、DiscoveryTTLの間キャッシュする。
type OIDCProvider struct {
	config ProviderConfig
	now    func() time.Time

	mu     sync.Mutex
	cached *discovery
}

type discovery struct {
	keySet    *oidc.RemoteKeySet
	verifier  *oidc.IDTokenVerifier
	oauth2    oauth2.Config
	fetchedAt time.Time
}

// NewOIDCProvider はOIDCProviderを生成する。ネットワークアクセスは行わない。
func NewOIDCProvider(config ProviderConfig) *OIDCProvider {
	if len(config.Scopes) == 0 {
		config.Scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &OIDCProvider{config: config, now: time.Now}
}

// AuthCodeURL は認可URLを生成する。
func (p *OIDCProvider) AuthCodeURL(ctx context.Context, state, nonce, codeVerifier string) (string, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	return d.oauth2.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(codeVerifier),
	), nil
}

// Exchange は認可コードをトークンに交換する。リトライはしない。
func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier string) (string, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return "", err
	}

	token, err := d.oauth2.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			detail := retrieveErr.ErrorCode
			if detail == "" && retrieveErr.Response != nil {
				detail = fmt.Sprintf("token endpoint returned status %d", retrieveErr.Response.StatusCode)
			}
			return "", newAuthError(KindProviderError, detail, err)
		}
		return "", newAuthError(KindProviderUnavailable, "token exchange failed", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", newAuthError(KindProviderError, "token response has no id_token", nil)
	}
	return rawIDToken, nil
}

// VerifyIDToken はIDトークンを検証し、クレームをUserInfoとして返す。
func (p *OIDCProvider) VerifyIDToken(ctx context.Context, rawIDToken, nonce string) (*model.UserInfo, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	// 署名検証を先に行い、鍵取得の通信エラーを分類できるようにする。
	// 鍵はキャッシュされるため、続くVerifyは通信しない。
	if _, err := d.keySet.VerifySignature(ctx, rawIDToken); err != nil {
		if isNetworkError(err) {
			return nil, newAuthError(KindProviderUnavailable, "failed to fetch signing keys", err)
		}
		return nil, newAuthError(KindProviderError, "id token signature verification failed", err)
	}

	idToken, err := d.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, newAuthError(KindProviderError, "id token verification failed", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, newAuthError(KindProviderError, "id token nonce mismatch", nil)
	}

	info := &model.UserInfo{}
	if err := idToken.Claims(info); err != nil {
		return nil, newAuthError(KindProviderError, "failed to decode id token claims", err)
	}
	if info.Sub == "" {
		info.Sub = idToken.Subject
	}
	return info, nil
}

// discover はキャッシュ済みのディスカバリ結果を返す。期限切れなら取得し直す。
// 同時に再取得が走った場合は後勝ちとする。
func (p *OIDCProvider) discover(ctx context.Context) (*discovery, error) {
	p.mu.Lock()
	d := p.cached
	p.mu.Unlock()

	now := p.now()
	if d != nil && (p.config.DiscoveryTTL <= 0 || now.Sub(d.fetchedAt) < p.config.DiscoveryTTL) {
		return d, nil
	}

	provider, err := oidc.NewProvider(p.clientContext(ctx), p.config.IssuerURL)
	if err != nil {
		return nil, newAuthError(KindProviderUnavailable, "oidc discovery failed", err)
	}

	var meta struct {
		Issuer  string `json:"issuer"`
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, newAuthError(KindProviderError, "invalid discovery document", err)
	}
	keySet := oidc.NewRemoteKeySet(p.clientContext(ctx), meta.JWKSURL)

	d = &discovery{
		keySet:   keySet,
		verifier: oidc.NewVerifier(meta.Issuer, keySet, &oidc.Config{ClientID: p.config.ClientID}),
		oauth2: oauth2.Config{
			ClientID:     p.config.ClientID,
			ClientSecret: p.config.ClientSecret,
			RedirectURL:  p.config.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       p.config.Scopes,
		},
		fetchedAt: now,
	}

	p.mu.Lock()
	p.cached = d
	p.mu.Unlock()

	return d, nil
}

// clientContext はIdPへのリクエストに設定済みのHTTPクライアントを使わせる。
func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.config.HTTPClient)
}

// isNetworkError はIdPへの通信がタイムアウトまたは接続失敗したかを判定する。
func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// compile-time interface check
var _ OAuthProvider = (*OIDCProvider)(nil)
