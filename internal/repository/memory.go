package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/portcullis/internal/model"
)

// MemoryUserRepo はメモリ上でユーザーを保持するリポジトリ。
// PostgreSQLと同じ一意制約（username, email, provider+external_uid）を適用する。
// 開発環境やテストでの利用を想定している。
type MemoryUserRepo struct {
	mu    sync.RWMutex
	users map[string]model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{users: make(map[string]model.User)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// FindByUsername はユーザー名の完全一致でユーザーを取得する。
func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username != "" && u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

// FindByProviderIdentity はproviderとexternal_uidでユーザーを取得する。
func (r *MemoryUserRepo) FindByProviderIdentity(_ context.Context, provider, externalUID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.IsFederated() && u.Provider == provider && u.ExternalUID == externalUID {
			return &u, nil
		}
	}
	return nil, nil
}

// Create はユーザーを作成する。一意制約に違反した場合は*DuplicateErrorを返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// PostgreSQLと同じく、マイグレーションでの制約の定義順
	// (username, email, provider identity) に検査する。
	for _, u := range r.users {
		if user.Username != "" && u.Username == user.Username {
			return &DuplicateError{Field: FieldUsername}
		}
	}
	for _, u := range r.users {
		if user.Email != "" && u.Email == user.Email {
			return &DuplicateError{Field: FieldEmail}
		}
	}
	for _, u := range r.users {
		if user.Provider != "" && user.ExternalUID != "" &&
			u.Provider == user.Provider && u.ExternalUID == user.ExternalUID {
			return &DuplicateError{Field: FieldProviderIdentity}
		}
	}
	r.users[user.ID] = *user
	return nil
}

// Count は保持しているユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// MemorySessionRepo はメモリ上でセッションを保持するリポジトリ。
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]model.Session
	now      func() time.Time
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{
		sessions: make(map[string]model.Session),
		now:      time.Now,
	}
}

// FindByID は指定IDのセッションを取得する。期限切れの場合は削除してnilを返す。
func (r *MemorySessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	if !s.ExpiresAt.After(r.now()) {
		delete(r.sessions, id)
		return nil, nil
	}
	s.Flash = append([]string(nil), s.Flash...)
	return &s, nil
}

// Save はセッションを作成または更新する。
func (r *MemorySessionRepo) Save(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := *session
	s.Flash = append([]string(nil), session.Flash...)
	r.sessions[s.ID] = s
	return nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MemorySessionRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

// Len は保持しているセッション数を返す。
func (r *MemorySessionRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
)
