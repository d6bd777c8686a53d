package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/portcullis/internal/metrics"
	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/repository"
)

// Reconciler は外部IdPのアサーションをローカルユーザーに対応付ける。
// 未登録の場合はユーザーを作成する。
type Reconciler struct {
	users   repository.UserRepository
	hasher  PasswordHasher
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewReconciler はReconcilerを生成する。mcがnilの場合はメトリクスを記録しない。
func NewReconciler(users repository.UserRepository, hasher PasswordHasher, mc metrics.MetricsCollector) *Reconciler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Reconciler{
		users:   users,
		hasher:  hasher,
		metrics: mc,
		now:     time.Now,
	}
}

// Reconcile はアサーションに対応するユーザーを返す。
//
// (provider, external_uid) で登録済みのユーザーがいればそのまま返し、属性は更新しない。
// 未登録なら新規作成する。作成時に (provider, external_uid) の一意制約違反が起きた場合は
// 並行リクエストが先に作成したとみなし、再取得した結果を返す。
// usernameやemailの衝突は*model.ValidationErrorとして返す。
func (r *Reconciler) Reconcile(ctx context.Context, a model.Assertion) (*model.User, error) {
	if a.Provider == "" || a.ExternalUID == "" {
		r.metrics.RecordReconcile(a.Provider, metrics.OutcomeInvalid)
		ve := &model.ValidationError{}
		if a.Provider == "" {
			ve.Add("provider", "can't be blank")
		}
		if a.ExternalUID == "" {
			ve.Add("uid", "can't be blank")
		}
		return nil, ve
	}

	existing, err := r.users.FindByProviderIdentity(ctx, a.Provider, a.ExternalUID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by provider identity: %w", err)
	}
	if existing != nil {
		r.metrics.RecordReconcile(a.Provider, metrics.OutcomeFound)
		slog.Info("existing user logged in",
			slog.String("user_id", existing.ID),
			slog.String("provider", a.Provider),
		)
		return existing, nil
	}

	user, err := r.buildUser(a)
	if err != nil {
		if _, ok := model.AsValidationError(err); ok {
			r.metrics.RecordReconcile(a.Provider, metrics.OutcomeInvalid)
		}
		return nil, err
	}

	if err := r.users.Create(ctx, user); err != nil {
		var dup *repository.DuplicateError
		if !errors.As(err, &dup) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		// PostgreSQLは一意制約を定義順に検査するため、並行作成に負けた側でも
		// username/emailの違反として返ることがある。まず同一IDの勝者を探す。
		winner, err := r.users.FindByProviderIdentity(ctx, a.Provider, a.ExternalUID)
		if err != nil {
			return nil, fmt.Errorf("failed to refetch user after duplicate create: %w", err)
		}
		if winner != nil {
			r.metrics.RecordReconcile(a.Provider, metrics.OutcomeRaced)
			slog.Info("concurrent federated create resolved",
				slog.String("user_id", winner.ID),
				slog.String("provider", a.Provider),
				slog.String("field", dup.Field),
			)
			return winner, nil
		}
		if dup.Field == repository.FieldProviderIdentity {
			return nil, fmt.Errorf("user for %s identity vanished after duplicate create", a.Provider)
		}
		r.metrics.RecordReconcile(a.Provider, metrics.OutcomeInvalid)
		slog.Info("federated user creation rejected",
			slog.String("provider", a.Provider),
			slog.String("field", dup.Field),
		)
		return nil, model.NewValidationError(dup.Field, "has already been taken")
	}

	r.metrics.RecordReconcile(a.Provider, metrics.OutcomeCreated)
	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", a.Provider),
	)
	return user, nil
}

// buildUser はアサーションから新規ユーザーを組み立てる。
// usernameは表示名、プロバイダー固有のニックネームの順に採用し、どちらもなければ未設定とする。
func (r *Reconciler) buildUser(a model.Assertion) (*model.User, error) {
	username := strings.TrimSpace(a.DisplayName)
	if username == "" {
		username = strings.TrimSpace(a.Nickname)
	}
	email := model.NormalizeEmail(a.Email)

	ve := &model.ValidationError{}
	if username != "" {
		model.ValidateUsernameLength(ve, username, 0)
	}
	model.ValidateEmail(ve, email)
	if ve.HasErrors() {
		return nil, ve
	}

	hash, err := RandomPasswordHash(r.hasher)
	if err != nil {
		return nil, err
	}

	now := r.now()
	return &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Provider:     a.Provider,
		ExternalUID:  a.ExternalUID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
