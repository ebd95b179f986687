package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testClientID     = "test-client-id"
	testClientSecret = "test-client-secret"
	testKeyID        = "test-key"
)

// fakeIDP はディスカバリ、JWKS、トークンエンドポイントを提供するテスト用のOIDCプロバイダー。
// IDトークンはRS256で署名する。
type fakeIDP struct {
	server *httptest.Server
	key    *rsa.PrivateKey

	discoveryCalls atomic.Int32
	tokenCalls     atomic.Int32

	mu sync.Mutex
	// validCode はトークン交換を受け付ける認可コード
	validCode string
	// wantVerifier はトークン交換時に要求するcode_verifier（空なら検査しない）
	wantVerifier string
	// nonce はIDトークンに埋め込むnonce
	nonce string
	// omitIDToken はトークンレスポンスからid_tokenを省く
	omitIDToken bool
	// claims はIDトークンに追加するクレーム
	claims jwt.MapClaims
	// jwksDelay はJWKSの応答を遅らせる時間
	jwksDelay time.Duration
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}

	f := &fakeIDP{
		key:       key,
		validCode: "good-code",
		claims: jwt.MapClaims{
			"sub":            "1234567890",
			"email":          "ann@example.com",
			"email_verified": true,
			"name":           "Ann Example",
			"given_name":     "Ann",
			"family_name":    "Example",
			"locale":         "en",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", f.handleDiscovery)
	mux.HandleFunc("/jwks", f.handleJWKS)
	mux.HandleFunc("/token", f.handleToken)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeIDP) issuer() string {
	return f.server.URL
}

func (f *fakeIDP) set(fn func(f *fakeIDP)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeIDP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	f.discoveryCalls.Add(1)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                f.issuer(),
		"authorization_endpoint":                f.issuer() + "/authorize",
		"token_endpoint":                        f.issuer() + "/token",
		"jwks_uri":                              f.issuer() + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (f *fakeIDP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	delay := f.jwksDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	pub := f.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (f *fakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	f.tokenCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("code") != f.validCode {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Malformed auth code.",
		})
		return
	}
	if f.wantVerifier != "" && r.PostForm.Get("code_verifier") != f.wantVerifier {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Missing code verifier.",
		})
		return
	}

	resp := map[string]interface{}{
		"access_token": "access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !f.omitIDToken {
		resp["id_token"] = f.mintIDToken(f.nonce, nil)
	}
	writeJSON(w, http.StatusOK, resp)
}

// mintIDToken はRS256で署名したIDトークンを生成する。overridesで任意のクレームを上書きできる。
func (f *fakeIDP) mintIDToken(nonce string, overrides jwt.MapClaims) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": f.issuer(),
		"aud": testClientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range f.claims {
		claims[k] = v
	}
	for k, v := range overrides {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(f.key)
	if err != nil {
		panic(err)
	}
	return signed
}

// newProvider はfakeIDPを向いたOIDCProviderを生成する。
func (f *fakeIDP) newProvider() *OIDCProvider {
	return NewOIDCProvider(ProviderConfig{
		IssuerURL:    f.issuer(),
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURL:  "http://localhost:8080/auth",
		DiscoveryTTL: time.Hour,
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
