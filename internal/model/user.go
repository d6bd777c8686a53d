// Package model はドメインモデルを定義する。
package model

import "time"

// User はローカル認証またはフェデレーション認証で識別されるユーザーを表す。
// ローカルユーザーはUsernameで、フェデレーションユーザーは(Provider, ExternalUID)で一意に識別される。
type User struct {
	ID           string
	Username     string // フェデレーション専用アカウントでは空の場合がある
	Email        string // 空の場合は未設定
	PasswordHash string
	Provider     string // "google", "github" 等。ローカルユーザーは空
	ExternalUID  string // プロバイダー内で一意なユーザーID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsFederated はユーザーが外部IdP経由で作成されたかどうかを返す。
func (u *User) IsFederated() bool {
	return u.Provider != "" && u.ExternalUID != ""
}

// Session はクライアントごとのセッションを表す。
// UserIDが空の場合は未認証状態を意味する。
type Session struct {
	ID        string
	UserID    string
	Flash     []string // 次のリクエストで一度だけ表示するメッセージ
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Authenticated はセッションにユーザーIDが格納されているかを返す。
func (s *Session) Authenticated() bool {
	return s.UserID != ""
}

// Assertion は外部IdPから取得し正規化したアイデンティティ情報を表す。
// 検証済みの入力として扱い、照合処理ではプロトコルの詳細に依存しない。
type Assertion struct {
	Provider    string
	ExternalUID string
	DisplayName string
	Email       string
	Nickname    string // プロバイダー固有のユーザー名（GitHubのlogin等）。DisplayNameが空の場合の代替
}
