// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/portcullis/internal/model"
)

// 一意制約の対象フィールド。
const (
	FieldUsername         = "username"
	FieldEmail            = "email"
	FieldProviderIdentity = "provider_identity"
)

// DuplicateError は一意制約違反を表す。
// Fieldには違反したフィールド（username, email, provider_identity）が入る。
type DuplicateError struct {
	Field string
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

// UserRepository はユーザーデータ（Credential Store）の永続化インターフェース。
// username、email、(provider, external_uid) の一意性はストア側の制約で保証する。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名の完全一致でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByProviderIdentity はproviderとexternal_uidでユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByProviderIdentity(ctx context.Context, provider, externalUID string) (*model.User, error)

	// Create はユーザーを作成する。
	// 一意制約に違反した場合は*DuplicateErrorを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Save はセッションを作成または更新する。
	Save(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}
