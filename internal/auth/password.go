// Package auth はローカル認証とフェデレーションアイデンティティの照合を提供する。
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// randomSecretBytes はフェデレーションユーザーに割り当てるランダムパスワードのバイト長。
const randomSecretBytes = 32

// PasswordHasher はパスワードのハッシュ化と検証を行うインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify はパスワードがハッシュと一致するかを返す。
	// 不一致はエラーではなくfalseとして返す。
	Verify(hash, password string) (bool, error)
}

// BcryptHasher はbcryptによるPasswordHasher実装。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// costが範囲外の場合はbcrypt.DefaultCostを使用する。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash はパスワードをbcryptでハッシュ化する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はパスワードがハッシュと一致するかを検証する。
func (h *BcryptHasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify password: %w", err)
}

// RandomPasswordHash は推測不能なランダム文字列のハッシュを返す。
// フェデレーションユーザーはこのハッシュを持つため、ローカルログインには使えない。
func RandomPasswordHash(h PasswordHasher) (string, error) {
	b := make([]byte, randomSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random password: %w", err)
	}
	// bcryptは72バイトまでしか扱わないため、base64でも上限内に収まる長さにしている
	return h.Hash(base64.RawURLEncoding.EncodeToString(b))
}
