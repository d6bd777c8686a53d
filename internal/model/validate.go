package model

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ユーザー属性の長さ制限。DBスキーマのカラム長と一致させること。
const (
	UsernameMinLength = 3
	UsernameMaxLength = 64
	EmailMaxLength    = 255
)

// NormalizeEmail はメールアドレスの前後の空白を除去し小文字化する。
// 不正なUTF-8はToLowerで置換文字に化けるため、ValidateEmailで弾けるようそのまま返す。
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if !utf8.ValidString(email) {
		return email
	}
	return strings.ToLower(email)
}

// ValidateUsernameLength はユーザー名の長さを検証し、違反があればveに追加する。
// minが0の場合は下限を検証しない。不正なUTF-8は文字種の違反として扱う。
func ValidateUsernameLength(ve *ValidationError, username string, min int) {
	if !utf8.ValidString(username) {
		ve.Add("username", "contains invalid characters")
		return
	}
	n := utf8.RuneCountInString(username)
	switch {
	case min > 0 && n < min:
		ve.Add("username", "is too short")
	case n > UsernameMaxLength:
		ve.Add("username", "is too long")
	}
	for _, r := range username {
		if unicode.IsControl(r) {
			ve.Add("username", "contains invalid characters")
			break
		}
	}
}

// ValidateEmail はメールアドレスの形式を検証し、違反があればveに追加する。
// 空文字列は未設定として扱い検証しない。
func ValidateEmail(ve *ValidationError, email string) {
	if email == "" {
		return
	}
	if !utf8.ValidString(email) {
		ve.Add("email", "is invalid")
		return
	}
	if len(email) > EmailMaxLength {
		ve.Add("email", "is too long")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		ve.Add("email", "is invalid")
	}
}
