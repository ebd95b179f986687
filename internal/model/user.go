// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
)

const (
	// MaxNameLength はユーザー名の最大文字数。
	MaxNameLength = 200
	// MaxEmailLength はメールアドレスの最大文字数（RFC 5321のパス長上限）。
	MaxEmailLength = 254
)

// User はドキュメントストアに保存されるユーザードキュメントを表す。
// IDはストアが採番する24桁の16進文字列。
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserInput はユーザー作成・更新時のペイロード。
// 更新は全フィールド置換として扱う。
type UserInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Normalize は前後の空白を除去したUserInputを返す。
func (in UserInput) Normalize() UserInput {
	return UserInput{
		Name:  strings.TrimSpace(in.Name),
		Email: strings.TrimSpace(in.Email),
	}
}

// Validate は入力値を検証し、違反があればフィールド単位の*ValidationErrorを返す。
func (in UserInput) Validate() error {
	verr := &ValidationError{}

	switch {
	case in.Name == "":
		verr.Add("field must not be empty", "body", "name")
	case utf8.RuneCountInString(in.Name) > MaxNameLength:
		verr.Add("ensure this value has at most 200 characters", "body", "name")
	}

	switch {
	case in.Email == "":
		verr.Add("field must not be empty", "body", "email")
	case len(in.Email) > MaxEmailLength:
		verr.Add("ensure this value has at most 254 characters", "body", "email")
	case !govalidator.IsEmail(in.Email):
		verr.Add("value is not a valid email address", "body", "email")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}
