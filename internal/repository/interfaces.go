// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/usergate/internal/model"
)

// UserRepository はユーザードキュメントの永続化インターフェース。
// 不正なIDはクエリを発行する前にINVALID_ARGUMENTのAPIErrorを返す。
// ストアに到達できない場合はSTORE_UNAVAILABLEのAPIErrorを返す。
type UserRepository interface {
	// FindAll は全ユーザーを作成順で返す。0件の場合は空スライスを返す。
	FindAll(ctx context.Context) ([]model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はNOT_FOUNDを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Insert はユーザーを作成する。IDとタイムスタンプはストアが採番する。
	Insert(ctx context.Context, in model.UserInput) (*model.User, error)

	// Update はnameとemailを全置換し、更新後のユーザーを返す。
	Update(ctx context.Context, id string, in model.UserInput) (*model.User, error)

	// Delete は指定IDのユーザーを削除し、削除したユーザーを返す。
	Delete(ctx context.Context, id string) (*model.User, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}
