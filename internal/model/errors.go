// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError はサービス層からハンドラーへ伝搬する分類済みエラー。
// CodeによってHTTPステータスが決まり、Messageはクライアントに返すdetailとなる。
type APIError struct {
	Code    string // エラーコード
	Message string // クライアント向けメッセージ
	Err     error  // 原因（ログ用、クライアントには返さない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
)

// NewUserNotFoundError は指定IDのユーザーが存在しない場合のエラーを生成する。
func NewUserNotFoundError(id string) *APIError {
	return &APIError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("User %s not found", id),
	}
}

// NewInvalidIDError はIDの形式が不正な場合のエラーを生成する。
func NewInvalidIDError(id string) *APIError {
	return &APIError{
		Code:    ErrCodeInvalidArgument,
		Message: fmt.Sprintf("%q is not a valid id, it must be a 24-character hex string", id),
	}
}

// NewStoreUnavailableError はドキュメントストアに到達できない場合のエラーを生成する。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:    ErrCodeStoreUnavailable,
		Message: "Document store is unavailable",
		Err:     cause,
	}
}

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// IsNotFound はerrがNOT_FOUNDかどうかを返す。
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeNotFound)
}

// IsStoreUnavailable はerrがSTORE_UNAVAILABLEかどうかを返す。
func IsStoreUnavailable(err error) bool {
	return HasCode(err, ErrCodeStoreUnavailable)
}

// FieldError はフィールド単位の検証エラー。
// Locはエラー箇所のパス（例: ["body", "email"]）。
type FieldError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

// ValidationError はリクエストペイロードの検証エラーをまとめたもの。
type ValidationError struct {
	Errors []FieldError
}

// Add はフィールドエラーを追加する。
func (e *ValidationError) Add(msg string, loc ...string) {
	e.Errors = append(e.Errors, FieldError{Loc: loc, Msg: msg})
}

// HasErrors はエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, strings.Join(fe.Loc, ".")+": "+fe.Msg)
	}
	return "validation error: " + strings.Join(parts, "; ")
}
