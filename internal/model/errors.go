// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCredentials はローカルログインの失敗を表す。
// ユーザー名の存在有無を漏らさないため、ユーザー未検出とパスワード不一致を区別しない。
var ErrInvalidCredentials = errors.New("Invalid username or password")

// FieldError はフィールド単位のバリデーションエラーを表す。
type FieldError struct {
	Field   string
	Message string
}

// ValidationError はユーザー作成時のバリデーションエラーをまとめたもの。
// 呼び出し元はセッションを確立せず、入力フォームを再表示する。
type ValidationError struct {
	Errors []FieldError
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Field + " " + fe.Message
	}
	return "validation failed: " + strings.Join(msgs, ", ")
}

// Add はフィールドエラーを追加する。
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// HasErrors はエラーが1件以上あるかを返す。
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Messages は表示用のメッセージ一覧を返す。
func (e *ValidationError) Messages() []string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Field + " " + fe.Message
	}
	return msgs
}

// NewValidationError は単一フィールドのバリデーションエラーを生成する。
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// AsValidationError はerrがValidationErrorであれば取り出す。
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// APIError は統一エラーフォーマットを表す。
// JSONエンドポイントで原因カテゴリと対処方法を返すために使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
	ErrCodeUnknownProvider  = "UNKNOWN_PROVIDER"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFTokenInvalid = "CSRF_TOKEN_INVALID"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Please log in.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Please log in again.",
	}
}

// NewUnknownProviderError は未登録のIdPが指定された場合のエラーを生成する。
func NewUnknownProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownProvider,
		Message:  fmt.Sprintf("Unknown identity provider: %s", provider),
		Category: "validation",
		Action:   "Choose one of the sign-in options shown on the login page.",
	}
}

// NewNotFoundError は存在しないパスへのリクエストに対するエラーを生成する。
func NewNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  "The requested resource was not found.",
		Category: "validation",
		Action:   "Check the URL.",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the time given in Retry-After.",
	}
}

// NewCSRFTokenInvalidError はCSRFトークン検証失敗のエラーを生成する。
func NewCSRFTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFTokenInvalid,
		Message:  "CSRF token validation failed.",
		Category: "auth",
		Action:   "Reload the page and submit the form again.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again later.",
	}
}
