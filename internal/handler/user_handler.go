package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/usergate/internal/middleware"
	"github.com/hitoshi/usergate/internal/model"
)

// maxUserBodyBytes はユーザーAPIのリクエストボディの上限。
const maxUserBodyBytes = 64 << 10

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]model.User, error)
	Get(ctx context.Context, id string) (*model.User, error)
	// Create は作成したユーザーと作成後の全ユーザー一覧を返す。
	Create(ctx context.Context, in model.UserInput) (*model.User, []model.User, error)
	Update(ctx context.Context, id string, in model.UserInput) (*model.User, error)
	Delete(ctx context.Context, id string) (*model.User, error)
}

// UserHandler はユーザーCRUDのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// userRequest はユーザー作成・更新リクエストのボディ。
// 未指定と空文字列を区別するためポインタで受ける。
type userRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// ListUsers は全ユーザーを返す。
// GET /users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, nonNil(users))
}

// GetUser は指定IDのユーザーを返す。
// GET /users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, u)
}

// CreateUser はユーザーを作成し、201と作成後の全ユーザー一覧を返す。
// POST /users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	in, err := decodeUserInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	created, users, err := h.service.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/users/"+created.ID)
	middleware.WriteJSON(w, http.StatusCreated, nonNil(users))
}

// UpdateUser はnameとemailを全置換し、更新後のユーザーを返す。
// PUT /users/{id}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !model.IsValidObjectID(id) {
		handleServiceError(w, model.NewInvalidIDError(id))
		return
	}

	in, err := decodeUserInput(w, r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	u, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, u)
}

// DeleteUser は指定IDのユーザーを削除し、削除したユーザーを返す。
// DELETE /users/{id}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, u)
}

// decodeUserInput はリクエストボディをUserInputにデコードする。
// 形式の誤りと必須フィールドの欠落は*model.ValidationErrorとして返す。
func decodeUserInput(w http.ResponseWriter, r *http.Request) (model.UserInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUserBodyBytes)

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return model.UserInput{}, decodeError(err)
	}

	verr := &model.ValidationError{}
	if req.Name == nil {
		verr.Add("field required", "body", "name")
	}
	if req.Email == nil {
		verr.Add("field required", "body", "email")
	}
	if verr.HasErrors() {
		return model.UserInput{}, verr
	}

	return model.UserInput{Name: *req.Name, Email: *req.Email}, nil
}

// decodeError はJSONデコードエラーを検証エラーに変換する。
func decodeError(err error) error {
	verr := &model.ValidationError{}

	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		verr.Add("field required", "body")
	case errors.As(err, &maxErr):
		verr.Add("request body is too large", "body")
	case errors.As(err, &typeErr) && typeErr.Field != "":
		verr.Add("str type expected", "body", typeErr.Field)
	case errors.As(err, &typeErr):
		verr.Add("value is not a valid object", "body")
	default:
		verr.Add("invalid JSON body", "body")
	}
	return verr
}

func nonNil(users []model.User) []model.User {
	if users == nil {
		return []model.User{}
	}
	return users
}
