package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/usergate/internal/middleware"
	"github.com/hitoshi/usergate/internal/model"
)

// validationErrorResponse は422レスポンスのボディ。
type validationErrorResponse struct {
	Detail string             `json:"detail"`
	Errors []model.FieldError `json:"errors"`
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPレスポンスに変換する。
// 検証エラー、分類済みエラー、それ以外の順に判定する。
func handleServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{
			Detail: "Validation Error",
			Errors: verr.Errors,
		})
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode >= http.StatusInternalServerError {
			slog.Error("store error", slog.String("error", err.Error()))
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr.Message)
		return
	}

	// 分類されていないエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
