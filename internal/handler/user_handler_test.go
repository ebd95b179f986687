package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/usergate/internal/model"
)

const testUserID = "0123456789abcdef01234567"

// newUserRouter はユーザーハンドラーだけを載せたルーターを返す。
func newUserRouter(svc UserServiceInterface) http.Handler {
	h := NewUserHandler(svc)
	r := chi.NewRouter()
	r.Get("/users", h.ListUsers)
	r.Post("/users", h.CreateUser)
	r.Get("/users/{id}", h.GetUser)
	r.Put("/users/{id}", h.UpdateUser)
	r.Delete("/users/{id}", h.DeleteUser)
	return r
}

func doJSON(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeDetail(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Detail
}

func decodeValidation(t *testing.T, w *httptest.ResponseRecorder) validationErrorResponse {
	t.Helper()
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusUnprocessableEntity, w.Body.String())
	}
	var body validationErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode validation body: %v", err)
	}
	if body.Detail != "Validation Error" {
		t.Errorf("detail = %q, want %q", body.Detail, "Validation Error")
	}
	return body
}

func locs(errs []model.FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, strings.Join(e.Loc, "."))
	}
	return out
}

// --- ListUsers ---

func TestListUsers_Empty_ReturnsEmptyArray(t *testing.T) {
	w := doJSON(newUserRouter(&mockUserService{}), http.MethodGet, "/users", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestListUsers_ReturnsUsers(t *testing.T) {
	svc := &mockUserService{
		listFn: func(ctx context.Context) ([]model.User, error) {
			return []model.User{{ID: testUserID, Name: "Ann", Email: "ann@example.com"}}, nil
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodGet, "/users", "")

	var users []model.User
	if err := json.NewDecoder(w.Body).Decode(&users); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Ann" {
		t.Errorf("users = %+v", users)
	}
}

func TestListUsers_StoreUnavailable_Returns503(t *testing.T) {
	svc := &mockUserService{
		listFn: func(ctx context.Context) ([]model.User, error) {
			return nil, model.NewStoreUnavailableError(context.DeadlineExceeded)
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodGet, "/users", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if detail := decodeDetail(t, w); detail != "Document store is unavailable" {
		t.Errorf("detail = %q", detail)
	}
}

// --- GetUser ---

func TestGetUser_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", model.NewUserNotFoundError(testUserID), http.StatusNotFound},
		{"invalid id", model.NewInvalidIDError("bad"), http.StatusBadRequest},
		{"store unavailable", model.NewStoreUnavailableError(nil), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUserService{
				getFn: func(ctx context.Context, id string) (*model.User, error) {
					return nil, tt.err
				},
			}

			w := doJSON(newUserRouter(svc), http.MethodGet, "/users/"+testUserID, "")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if decodeDetail(t, w) == "" {
				t.Error("expected non-empty detail")
			}
		})
	}
}

func TestGetUser_UnknownError_HidesCause(t *testing.T) {
	svc := &mockUserService{
		getFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, errors.New("pq: password authentication failed")
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodGet, "/users/"+testUserID, "")

	if detail := decodeDetail(t, w); detail != "Internal Server Error" {
		t.Errorf("detail = %q, want %q", detail, "Internal Server Error")
	}
}

func TestGetUser_PassesPathID(t *testing.T) {
	var gotID string
	svc := &mockUserService{
		getFn: func(ctx context.Context, id string) (*model.User, error) {
			gotID = id
			return &model.User{ID: id}, nil
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodGet, "/users/"+testUserID, "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != testUserID {
		t.Errorf("id = %q, want %q", gotID, testUserID)
	}
}

// --- CreateUser ---

func TestCreateUser_Returns201WithLocationAndList(t *testing.T) {
	var gotInput model.UserInput
	svc := &mockUserService{
		createFn: func(ctx context.Context, in model.UserInput) (*model.User, []model.User, error) {
			gotInput = in
			created := model.User{ID: testUserID, Name: in.Name, Email: in.Email}
			return &created, []model.User{{ID: "aaaaaaaaaaaaaaaaaaaaaaaa", Name: "Bob"}, created}, nil
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodPost, "/users", `{"name":"Ann","email":"ann@example.com"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if loc := w.Header().Get("Location"); loc != "/users/"+testUserID {
		t.Errorf("Location = %q, want %q", loc, "/users/"+testUserID)
	}
	if gotInput != (model.UserInput{Name: "Ann", Email: "ann@example.com"}) {
		t.Errorf("input = %+v", gotInput)
	}

	var users []model.User
	if err := json.NewDecoder(w.Body).Decode(&users); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("len(users) = %d, want 2", len(users))
	}
}

func TestCreateUser_RequestValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantLocs []string
	}{
		{"empty body", "", []string{"body"}},
		{"malformed JSON", `{"name":`, []string{"body"}},
		{"array body", `[]`, []string{"body"}},
		{"string body", `"Ann"`, []string{"body"}},
		{"null body", `null`, []string{"body.name", "body.email"}},
		{"missing name", `{"email":"ann@example.com"}`, []string{"body.name"}},
		{"missing both", `{}`, []string{"body.name", "body.email"}},
		{"wrong type", `{"name":1,"email":"ann@example.com"}`, []string{"body.name"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &mockUserService{
				createFn: func(ctx context.Context, in model.UserInput) (*model.User, []model.User, error) {
					called = true
					return nil, nil, nil
				},
			}

			w := doJSON(newUserRouter(svc), http.MethodPost, "/users", tt.body)

			body := decodeValidation(t, w)
			if got := strings.Join(locs(body.Errors), ","); got != strings.Join(tt.wantLocs, ",") {
				t.Errorf("locs = %s, want %s", got, strings.Join(tt.wantLocs, ","))
			}
			if called {
				t.Error("expected service not to be called")
			}
		})
	}
}

func TestCreateUser_ServiceValidationError_Returns422(t *testing.T) {
	svc := &mockUserService{
		createFn: func(ctx context.Context, in model.UserInput) (*model.User, []model.User, error) {
			return nil, nil, in.Normalize().Validate()
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodPost, "/users", `{"name":"","email":"not-an-email"}`)

	body := decodeValidation(t, w)
	if got := strings.Join(locs(body.Errors), ","); got != "body.name,body.email" {
		t.Errorf("locs = %s", got)
	}
	for _, e := range body.Errors {
		if e.Msg == "" {
			t.Errorf("empty msg for %v", e.Loc)
		}
	}
}

func TestCreateUser_StoreUnavailable_Returns503WithoutLocation(t *testing.T) {
	svc := &mockUserService{
		createFn: func(ctx context.Context, in model.UserInput) (*model.User, []model.User, error) {
			return nil, nil, model.NewStoreUnavailableError(nil)
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodPost, "/users", `{"name":"Ann","email":"ann@example.com"}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if loc := w.Header().Get("Location"); loc != "" {
		t.Errorf("Location = %q, want empty", loc)
	}
}

func TestCreateUser_BodyTooLarge_Returns422(t *testing.T) {
	big := `{"name":"` + strings.Repeat("a", maxUserBodyBytes) + `","email":"a@example.com"}`

	w := doJSON(newUserRouter(&mockUserService{}), http.MethodPost, "/users", big)

	body := decodeValidation(t, w)
	if got := strings.Join(locs(body.Errors), ","); got != "body" {
		t.Errorf("locs = %s, want body", got)
	}
}

// --- UpdateUser ---

func TestUpdateUser_ReplacesAndReturnsUser(t *testing.T) {
	var gotID string
	var gotInput model.UserInput
	svc := &mockUserService{
		updateFn: func(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
			gotID, gotInput = id, in
			return &model.User{ID: id, Name: in.Name, Email: in.Email}, nil
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodPut, "/users/"+testUserID, `{"name":"Ann2","email":"ann2@example.com"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != testUserID || gotInput.Name != "Ann2" || gotInput.Email != "ann2@example.com" {
		t.Errorf("update called with %q %+v", gotID, gotInput)
	}

	var u model.User
	if err := json.NewDecoder(w.Body).Decode(&u); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if u.Name != "Ann2" {
		t.Errorf("name = %q, want %q", u.Name, "Ann2")
	}
}

func TestUpdateUser_PartialBody_Returns422(t *testing.T) {
	w := doJSON(newUserRouter(&mockUserService{}), http.MethodPut, "/users/"+testUserID, `{"name":"Ann2"}`)

	body := decodeValidation(t, w)
	if got := strings.Join(locs(body.Errors), ","); got != "body.email" {
		t.Errorf("locs = %s, want body.email", got)
	}
}

func TestUpdateUser_InvalidIDWithBadBody_Returns400(t *testing.T) {
	called := false
	svc := &mockUserService{
		updateFn: func(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
			called = true
			return nil, nil
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodPut, "/users/not-an-id", `{"name":`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("service should not be called for an invalid id")
	}
}

func TestUpdateUser_NotFound_Returns404(t *testing.T) {
	svc := &mockUserService{
		updateFn: func(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
			return nil, model.NewUserNotFoundError(id)
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodPut, "/users/"+testUserID, `{"name":"A","email":"a@example.com"}`)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- DeleteUser ---

func TestDeleteUser_ReturnsDeletedUser(t *testing.T) {
	svc := &mockUserService{
		deleteFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Name: "Ann"}, nil
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodDelete, "/users/"+testUserID, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var u model.User
	if err := json.NewDecoder(w.Body).Decode(&u); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if u.ID != testUserID || u.Name != "Ann" {
		t.Errorf("user = %+v", u)
	}
}

func TestDeleteUser_InvalidID_Returns400(t *testing.T) {
	svc := &mockUserService{
		deleteFn: func(ctx context.Context, id string) (*model.User, error) {
			return nil, model.NewInvalidIDError(id)
		},
	}

	w := doJSON(newUserRouter(svc), http.MethodDelete, "/users/xyz", "")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
