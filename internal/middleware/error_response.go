package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portcullis/internal/model"
)

// ErrorResponseBody はJSONエンドポイントが返すエラー本文。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードごとのHTTPステータス。
// 未登録のコードは500として扱う。
var statusByCode = map[string]int{
	model.ErrCodeUnauthorized:     http.StatusUnauthorized,
	model.ErrCodeUserNotFound:     http.StatusUnauthorized,
	model.ErrCodeUnknownProvider:  http.StatusNotFound,
	model.ErrCodeNotFound:         http.StatusNotFound,
	model.ErrCodeRateLimited:      http.StatusTooManyRequests,
	model.ErrCodeCSRFTokenInvalid: http.StatusForbidden,
	model.ErrCodeInternal:         http.StatusInternalServerError,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteAPIError はエラーコードから決まるステータスでapiErrをJSONとして書き込む。
// エラー応答はキャッシュさせない。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(StatusForCode(apiErr.Code))
	if err := json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}); err != nil {
		slog.Debug("failed to write error response", slog.String("error", err.Error()))
	}
}

// WriteInternalServerError は詳細を含まない500応答を書き込む。原因は呼び出し元でログに残すこと。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
