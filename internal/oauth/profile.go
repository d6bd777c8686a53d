package oauth

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// profile はIdPのユーザー情報レスポンスから取り出した共通項目。
type profile struct {
	ID       string
	Name     string
	Email    string
	Nickname string
}

// profileDecoder はユーザー情報レスポンスをprofileに変換する。
type profileDecoder func(body []byte) (profile, error)

// profileDecoders はIdPごとのデコーダー。
var profileDecoders = map[string]profileDecoder{
	"google":   decodeOIDCProfile,
	"linkedin": decodeOIDCProfile,
	"github":   decodeGitHubProfile,
	"facebook": decodeFacebookProfile,
	"twitter":  decodeTwitterProfile,
}

// decodeOIDCProfile はOpenID Connectのuserinfoレスポンスを変換する。
// 未検証のメールアドレスは採用しない。
func decodeOIDCProfile(body []byte) (profile, error) {
	var payload struct {
		Sub           string `json:"sub"`
		Name          string `json:"name"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Nickname      string `json:"nickname"`
		GivenName     string `json:"given_name"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return profile{}, fmt.Errorf("failed to parse userinfo: %w", err)
	}
	p := profile{ID: payload.Sub, Name: payload.Name, Nickname: payload.Nickname}
	if p.Nickname == "" {
		p.Nickname = payload.GivenName
	}
	if payload.EmailVerified == nil || *payload.EmailVerified {
		p.Email = payload.Email
	}
	return p, nil
}

// decodeGitHubProfile はGitHubの /user レスポンスを変換する。
// idは数値のため文字列に変換する。
func decodeGitHubProfile(body []byte) (profile, error) {
	var payload struct {
		ID    int64   `json:"id"`
		Login string  `json:"login"`
		Name  *string `json:"name"`
		Email *string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return profile{}, fmt.Errorf("failed to parse github user: %w", err)
	}
	p := profile{Nickname: payload.Login}
	if payload.ID > 0 {
		p.ID = strconv.FormatInt(payload.ID, 10)
	}
	if payload.Name != nil {
		p.Name = *payload.Name
	}
	if payload.Email != nil {
		p.Email = *payload.Email
	}
	return p, nil
}

// decodeFacebookProfile はGraph APIの /me レスポンスを変換する。
func decodeFacebookProfile(body []byte) (profile, error) {
	var payload struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return profile{}, fmt.Errorf("failed to parse facebook user: %w", err)
	}
	return profile{ID: payload.ID, Name: payload.Name, Email: payload.Email}, nil
}

// decodeTwitterProfile はX API v2の /users/me レスポンスを変換する。
// メールアドレスは提供されない。
func decodeTwitterProfile(body []byte) (profile, error) {
	var payload struct {
		Data struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return profile{}, fmt.Errorf("failed to parse twitter user: %w", err)
	}
	return profile{ID: payload.Data.ID, Name: payload.Data.Name, Nickname: payload.Data.Username}, nil
}

// decodeGitHubEmails はGitHubの /user/emails レスポンスから、
// primaryかつ確認済みのアドレスを優先して返す。確認済みがなければ空文字列。
func decodeGitHubEmails(body []byte) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", fmt.Errorf("failed to parse github emails: %w", err)
	}
	fallback := ""
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email, nil
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback, nil
}
