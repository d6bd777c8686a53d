package session

import (
	"context"
	"fmt"

	"github.com/hitoshi/portcullis/internal/model"
)

// State は1リクエストの間有効なセッション状態。
// 複数のgoroutineから同時に使用しないこと。
type State struct {
	manager *Manager
	session model.Session

	persisted   bool   // ストアに保存済みか
	cookieSent  bool   // クライアントがCookieを保持しているか
	dirty       bool   // Saveが必要な変更があるか
	rotatedFrom string // SetUserで置き換えた旧トークン

	userLoaded bool
	user       *model.User
}

// Token はセッショントークンを返す。
func (s *State) Token() string {
	return s.session.ID
}

// UserID はセッションに格納されたユーザーIDを返す。未認証の場合は空文字列。
func (s *State) UserID() string {
	return s.session.UserID
}

// CurrentUser はセッションのユーザーを返す。
// ユーザーIDが未設定、または参照先のユーザーが存在しない場合はnilを返す。
// 結果はStateの生存期間中メモ化され、ストアへの問い合わせは最大1回になる。
func (s *State) CurrentUser(ctx context.Context) (*model.User, error) {
	if s.userLoaded {
		return s.user, nil
	}
	if s.session.UserID == "" {
		s.userLoaded = true
		return nil, nil
	}

	user, err := s.manager.users.FindByID(ctx, s.session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find current user: %w", err)
	}
	s.user = user
	s.userLoaded = true
	return user, nil
}

// IsAuthenticated は現在のユーザーが存在するかを返す。
func (s *State) IsAuthenticated(ctx context.Context) (bool, error) {
	user, err := s.CurrentUser(ctx)
	if err != nil {
		return false, err
	}
	return user != nil, nil
}

// SetUser はセッションにユーザーを格納する。
// セッション固定攻撃を防ぐため、保存済みのセッションであればトークンを再発行する。
func (s *State) SetUser(user *model.User) error {
	if s.persisted {
		token, err := s.manager.newToken()
		if err != nil {
			return fmt.Errorf("failed to rotate session token: %w", err)
		}
		if s.rotatedFrom == "" {
			s.rotatedFrom = s.session.ID
		}
		s.session.ID = token
		s.session.CreatedAt = s.manager.now()
		s.persisted = false
	}
	if s.session.ID == "" {
		token, err := s.manager.newToken()
		if err != nil {
			return fmt.Errorf("failed to generate session token: %w", err)
		}
		s.session.ID = token
	}

	s.session.UserID = user.ID
	s.user = user
	s.userLoaded = true
	s.dirty = true
	return nil
}

// Clear はセッションからユーザーを取り除く。何度呼んでも結果は同じ。
func (s *State) Clear() {
	if s.session.UserID != "" {
		s.session.UserID = ""
		s.dirty = true
	}
	s.user = nil
	s.userLoaded = true
}

// AddFlash は次のリクエストで一度だけ表示するメッセージを追加する。
func (s *State) AddFlash(msg string) {
	s.session.Flash = append(s.session.Flash, msg)
	s.dirty = true
}

// Flashes はフラッシュメッセージを取り出して消去する。
func (s *State) Flashes() []string {
	if len(s.session.Flash) == 0 {
		return nil
	}
	msgs := s.session.Flash
	s.session.Flash = nil
	s.dirty = true
	return msgs
}

// Modified はSaveが必要な変更があるかを返す。
func (s *State) Modified() bool {
	return s.dirty
}

func (s *State) empty() bool {
	return s.session.UserID == "" && len(s.session.Flash) == 0
}
