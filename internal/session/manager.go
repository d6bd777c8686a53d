// Package session はクライアントごとのセッション状態とその永続化を管理する。
//
// リクエストごとにManager.LoadでStateを取得し、状態を変更した場合は
// レスポンスを書き込む前にManager.Saveで保存とCookieの発行を行う。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/portcullis/internal/model"
)

// DefaultCookieName はセッショントークンを保持するCookie名。
const DefaultCookieName = "session_id"

// Store はセッションの永続化に必要なインターフェース。
// repository.SessionRepositoryが満たす。
type Store interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	DeleteByID(ctx context.Context, id string) error
}

// UserFinder はセッションに紐づくユーザーの取得に必要なインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Config はセッションCookieと有効期限の設定。
type Config struct {
	CookieName string
	MaxAge     time.Duration
	Domain     string
	Secure     bool
}

// Manager はセッションの読み込み・保存を行う。
type Manager struct {
	store    Store
	users    UserFinder
	config   Config
	now      func() time.Time
	newToken func() (string, error)
}

// NewManager はManagerを生成する。
func NewManager(store Store, users UserFinder, config Config) *Manager {
	if config.CookieName == "" {
		config.CookieName = DefaultCookieName
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	return &Manager{
		store:    store,
		users:    users,
		config:   config,
		now:      time.Now,
		newToken: generateToken,
	}
}

// CookieName はセッションCookie名を返す。
func (m *Manager) CookieName() string {
	return m.config.CookieName
}

// Load はトークンに対応するセッションを読み込む。
// トークンが空、未登録、期限切れの場合は未保存の空セッションを返す。
func (m *Manager) Load(ctx context.Context, token string) (*State, error) {
	if token != "" {
		s, err := m.store.FindByID(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if s != nil {
			return &State{manager: m, session: *s, persisted: true, cookieSent: true}, nil
		}
	}
	return m.newState(token != ""), nil
}

// LoadRequest はリクエストのCookieからセッションを読み込む。
func (m *Manager) LoadRequest(r *http.Request) (*State, error) {
	var token string
	if c, err := r.Cookie(m.config.CookieName); err == nil {
		token = c.Value
	}
	return m.Load(r.Context(), token)
}

// Save は変更されたセッションを保存し、セッションCookieを書き込む。
// 変更がない場合は何もしない。ユーザーもフラッシュも持たないセッションは保存せず、
// 既存のレコードとCookieを削除する。
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, st *State) error {
	if !st.dirty {
		return nil
	}

	if st.rotatedFrom != "" {
		if err := m.store.DeleteByID(ctx, st.rotatedFrom); err != nil {
			return fmt.Errorf("failed to delete rotated session: %w", err)
		}
		st.rotatedFrom = ""
	}

	if st.empty() {
		if st.persisted {
			if err := m.store.DeleteByID(ctx, st.session.ID); err != nil {
				return fmt.Errorf("failed to delete session: %w", err)
			}
			st.persisted = false
		}
		if st.cookieSent {
			http.SetCookie(w, m.cookie("", -1))
			st.cookieSent = false
		}
		st.dirty = false
		return nil
	}

	now := m.now()
	if st.session.CreatedAt.IsZero() {
		st.session.CreatedAt = now
	}
	st.session.ExpiresAt = now.Add(m.config.MaxAge)

	if err := m.store.Save(ctx, &st.session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	http.SetCookie(w, m.cookie(st.session.ID, int(m.config.MaxAge.Seconds())))

	st.persisted = true
	st.cookieSent = true
	st.dirty = false
	return nil
}

// newState は新しい空のセッションを生成する。トークンはSave時まで使われない。
func (m *Manager) newState(cookieSent bool) *State {
	st := &State{manager: m, cookieSent: cookieSent}
	if token, err := m.newToken(); err == nil {
		st.session.ID = token
	} else {
		slog.Error("failed to generate session token", slog.String("error", err.Error()))
	}
	return st
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.config.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
