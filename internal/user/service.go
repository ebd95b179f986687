// Package user はユーザードキュメントのCRUDを扱うドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/usergate/internal/metrics"
	"github.com/hitoshi/usergate/internal/model"
	"github.com/hitoshi/usergate/internal/repository"
	"github.com/hitoshi/usergate/internal/security"
)

// StoreRecorder はストア操作のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type StoreRecorder interface {
	RecordStoreOperation(op, result string)
	RecordStoreRetry(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordStoreOperation(string, string) {}
func (nopRecorder) RecordStoreRetry(string)             {}

// Service はユーザー管理のサービス層。
// 入力の正規化とサニタイズ、検証、IDの形式チェックを行い、リポジトリを呼び出す。
// 読み取り（List, Get）はストアに到達できなかった場合に1回だけリトライする。
// 書き込みはリトライしない。
type Service struct {
	repo      repository.UserRepository
	sanitizer security.TextSanitizer
	recorder  StoreRecorder
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(repo repository.UserRepository, sanitizer security.TextSanitizer, recorder StoreRecorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		recorder:  recorder,
	}
}

// List は全ユーザーを作成順で返す。
func (s *Service) List(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.read(ctx, "list", func() error {
		var err error
		users, err = s.repo.FindAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	if err := checkID(id); err != nil {
		s.recorder.RecordStoreOperation("get", metrics.StoreResultInvalid)
		return nil, err
	}

	var user *model.User
	err := s.read(ctx, "get", func() error {
		var err error
		user, err = s.repo.FindByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create はユーザーを作成し、作成したユーザーと作成後の全ユーザー一覧を返す。
// 一覧を取得できなかった場合は作成したユーザーだけを一覧として返す。
func (s *Service) Create(ctx context.Context, in model.UserInput) (*model.User, []model.User, error) {
	in, err := s.prepare(in)
	if err != nil {
		return nil, nil, err
	}

	created, err := s.repo.Insert(ctx, in)
	s.record("create", err)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("user created", slog.String("user_id", created.ID))

	// 作成はコミット済みのため、一覧の取得に失敗しても成功として返す
	users, err := s.List(ctx)
	if err != nil {
		slog.Warn("user created but listing failed",
			slog.String("user_id", created.ID),
			slog.String("error", err.Error()),
		)
		return created, []model.User{*created}, nil
	}

	return created, users, nil
}

// Update はnameとemailを全置換し、更新後のユーザーを返す。
func (s *Service) Update(ctx context.Context, id string, in model.UserInput) (*model.User, error) {
	if err := checkID(id); err != nil {
		s.recorder.RecordStoreOperation("update", metrics.StoreResultInvalid)
		return nil, err
	}
	in, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, id, in)
	s.record("update", err)
	if err != nil {
		return nil, err
	}

	slog.Info("user updated", slog.String("user_id", updated.ID))
	return updated, nil
}

// Delete は指定IDのユーザーを削除し、削除したユーザーを返す。
func (s *Service) Delete(ctx context.Context, id string) (*model.User, error) {
	if err := checkID(id); err != nil {
		s.recorder.RecordStoreOperation("delete", metrics.StoreResultInvalid)
		return nil, err
	}

	deleted, err := s.repo.Delete(ctx, id)
	s.record("delete", err)
	if err != nil {
		return nil, err
	}

	slog.Info("user deleted", slog.String("user_id", deleted.ID))
	return deleted, nil
}

// prepare は入力を正規化し、nameからHTMLを除去したうえで検証する。
func (s *Service) prepare(in model.UserInput) (model.UserInput, error) {
	in = in.Normalize()
	if s.sanitizer != nil {
		in.Name = s.sanitizer.SanitizeText(in.Name)
	}
	if err := in.Validate(); err != nil {
		return model.UserInput{}, err
	}
	return in, nil
}

// read は読み取り操作を実行し、ストアに到達できなかった場合は1回だけリトライする。
func (s *Service) read(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if model.IsStoreUnavailable(err) && ctx.Err() == nil {
		slog.Warn("store unavailable, retrying read",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		s.recorder.RecordStoreRetry(op)
		err = fn()
	}
	s.record(op, err)
	return err
}

func (s *Service) record(op string, err error) {
	s.recorder.RecordStoreOperation(op, resultOf(err))
}

func resultOf(err error) string {
	var verr *model.ValidationError
	switch {
	case err == nil:
		return metrics.StoreResultOK
	case model.IsNotFound(err):
		return metrics.StoreResultNotFound
	case model.HasCode(err, model.ErrCodeInvalidArgument), errors.As(err, &verr):
		return metrics.StoreResultInvalid
	case model.IsStoreUnavailable(err):
		return metrics.StoreResultUnavailable
	default:
		return metrics.StoreResultError
	}
}

func checkID(id string) error {
	if !model.IsValidObjectID(id) {
		return model.NewInvalidIDError(id)
	}
	return nil
}
