// Package user はローカルアカウントの登録を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/portcullis/internal/auth"
	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/repository"
)

// パスワードの長さ制限（バイト数）。bcryptは72バイトを超える入力を扱えない。
const (
	PasswordMinLength = 8
	PasswordMaxLength = 72
)

// RegisterInput はサインアップフォームの入力値。
type RegisterInput struct {
	Username             string
	Email                string
	Password             string
	PasswordConfirmation string
}

// Service はユーザー登録のサービス層。
type Service struct {
	users   repository.UserRepository
	hasher  auth.PasswordHasher
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。mcがnilの場合はメトリクスを記録しない。
func NewService(users repository.UserRepository, hasher auth.PasswordHasher, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		users:   users,
		hasher:  hasher,
		metrics: mc,
		now:     time.Now,
	}
}

// Register は入力を検証してローカルユーザーを作成する。
// 入力不備や一意制約違反は*model.ValidationErrorとして返す。
// セッションの確立は呼び出し元が行う。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	email := model.NormalizeEmail(in.Email)

	if ve := validate(username, email, in.Password, in.PasswordConfirmation); ve.HasErrors() {
		s.metrics.RecordSignup(metrics.OutcomeInvalid)
		return nil, ve
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.RecordSignup(metrics.OutcomeError)
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			s.metrics.RecordSignup(metrics.OutcomeInvalid)
			return nil, model.NewValidationError(dup.Field, "has already been taken")
		}
		s.metrics.RecordSignup(metrics.OutcomeError)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordSignup(metrics.OutcomeSuccess)
	slog.Info("local user registered", slog.String("user_id", user.ID))
	return user, nil
}

func validate(username, email, password, confirmation string) *model.ValidationError {
	ve := &model.ValidationError{}

	if username == "" {
		ve.Add("username", "can't be blank")
	} else {
		model.ValidateUsernameLength(ve, username, model.UsernameMinLength)
	}
	model.ValidateEmail(ve, email)

	switch {
	case password == "":
		ve.Add("password", "can't be blank")
	case len(password) < PasswordMinLength:
		ve.Add("password", "is too short")
	case len(password) > PasswordMaxLength:
		ve.Add("password", "is too long")
	}
	if password != confirmation {
		ve.Add("password_confirmation", "doesn't match password")
	}
	return ve
}
