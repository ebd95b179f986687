package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/usergate/internal/model"
	"github.com/hitoshi/usergate/internal/session"
	"github.com/hitoshi/usergate/internal/view"
)

const testCookieName = "usergate_session"

// --- モック定義 ---

type mockAuthService struct {
	initiateLoginFn  func(ctx context.Context) (*model.LoginAttempt, string, error)
	handleCallbackFn func(ctx context.Context, query url.Values, attempt *model.LoginAttempt) (*model.UserInfo, error)
}

func (m *mockAuthService) InitiateLogin(ctx context.Context) (*model.LoginAttempt, string, error) {
	if m.initiateLoginFn != nil {
		return m.initiateLoginFn(ctx)
	}
	return &model.LoginAttempt{
		State:     "state-1",
		Nonce:     "nonce-1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}, "https://idp.example/authorize?state=state-1", nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, query url.Values, attempt *model.LoginAttempt) (*model.UserInfo, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, query, attempt)
	}
	return &model.UserInfo{Sub: "sub-1"}, nil
}

type mockUserService struct {
	listFn   func(ctx context.Context) ([]model.User, error)
	getFn    func(ctx context.Context, id string) (*model.User, error)
	createFn func(ctx context.Context, in model.UserInput) (*model.User, []model.User, error)
	updateFn func(ctx context.Context, id string, in model.UserInput) (*model.User, error)
	deleteFn func(ctx context.Context, id string) (*model.User, error)
}

func (m *mockUserService) List(ctx context.Context) ([]model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockUserService) Get(ctx context.Context, id string) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewUserNotFoundError(id)
}

func (m *mockUserService) Create(ctx context.Context, in model.UserInput) (*model.User, []model.User, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	u := model.User{ID: "0123456789abcdef01234567", Name: in.Name, Email: in.Email}
	return &u, []model.User{u}, nil
}

func (m *mockUserService) Update(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return &model.User{ID: id, Name: in.Name, Email: in.Email}, nil
}

func (m *mockUserService) Delete(ctx context.Context, id string) (*model.User, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return &model.User{ID: id}, nil
}

type mockLoginRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *mockLoginRecorder) RecordLogin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockLoginRecorder) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) == 0 {
		return ""
	}
	return m.outcomes[len(m.outcomes)-1]
}

// failingSessionWriter はSaveが常に失敗するSessionWriter。
type failingSessionWriter struct {
	cleared int
}

func (f *failingSessionWriter) Save(w http.ResponseWriter, sess *session.Session) error {
	return context.DeadlineExceeded
}

func (f *failingSessionWriter) Clear(w http.ResponseWriter) {
	f.cleared++
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.err
}

// --- ヘルパー ---

func newTestSessionStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(session.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		CookieName: testCookieName,
		MaxAge:     time.Hour,
	})
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	return store
}

func newTestRenderer(t *testing.T) *view.Renderer {
	t.Helper()
	r, err := view.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer() error: %v", err)
	}
	return r
}

// sessionFromResponse はレスポンスのSet-Cookieからセッションを復元する。
// Cookieが削除された場合はnilを返す。
func sessionFromResponse(t *testing.T, store *session.Store, w *httptest.ResponseRecorder) *session.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		if c.Name == testCookieName && c.MaxAge >= 0 && c.Value != "" {
			req.AddCookie(c)
		}
	}
	return store.Get(req)
}

// findCookie はレスポンスから指定名のCookieを返す。
func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
