package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/hitoshi/portcullis/internal/model"
	"github.com/hitoshi/portcullis/internal/repository"
)

// Authenticator はユーザー名とパスワードによるローカル認証を行う。
// 副作用を持たず、セッションの確立は呼び出し元が行う。
type Authenticator struct {
	users  repository.UserRepository
	hasher PasswordHasher

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthenticator はAuthenticatorを生成する。
func NewAuthenticator(users repository.UserRepository, hasher PasswordHasher) *Authenticator {
	return &Authenticator{users: users, hasher: hasher}
}

// Authenticate はユーザー名の完全一致で検索し、パスワードを検証する。
// ユーザー未検出・パスワード不一致はいずれもmodel.ErrInvalidCredentialsを返す。
// ストアの障害は認証失敗とは区別してラップしたエラーで返す。
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	// 不正なUTF-8はUTF8エンコーディングのDBが拒否するため、検索せずに失敗とする
	if !utf8.ValidString(username) {
		a.verifyDummy(password)
		slog.Debug("local login failed", slog.String("reason", "invalid_username_encoding"))
		return nil, model.ErrInvalidCredentials
	}

	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		// ユーザーの有無で応答時間が変わらないよう、ダミーハッシュと比較する
		a.verifyDummy(password)
		slog.Debug("local login failed", slog.String("reason", "unknown_username"))
		return nil, model.ErrInvalidCredentials
	}

	ok, err := a.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}
	if !ok {
		slog.Debug("local login failed",
			slog.String("reason", "password_mismatch"),
			slog.String("user_id", user.ID),
		)
		return nil, model.ErrInvalidCredentials
	}

	return user, nil
}

func (a *Authenticator) verifyDummy(password string) {
	a.dummyOnce.Do(func() {
		h, err := RandomPasswordHash(a.hasher)
		if err != nil {
			slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return
		}
		a.dummyHash = h
	})
	if a.dummyHash != "" {
		_, _ = a.hasher.Verify(a.dummyHash, password)
	}
}
