package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/calman/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// StatusForError はAPIErrorのコードに対応するHTTPステータスを返す。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidEventRange,
		model.ErrCodeInvalidURL, model.ErrCodePasswordMismatch, model.ErrCodeInvalidOTPChannel:
		return http.StatusBadRequest
	case model.ErrCodeInvalidFileType:
		return http.StatusUnsupportedMediaType
	case model.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeEventNotFound:
		return http.StatusNotFound
	case model.ErrCodeImportInProgress:
		return http.StatusConflict
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeAuthRequired, model.ErrCodeAuthExpired:
		return http.StatusUnauthorized
	case model.ErrCodeImportFailed:
		return http.StatusUnprocessableEntity
	case model.ErrCodeRemoteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
