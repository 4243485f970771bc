// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, calendar, remote, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidEventRange = "INVALID_EVENT_RANGE"
	ErrCodeEventNotFound     = "EVENT_NOT_FOUND"
	ErrCodeInvalidFileType   = "INVALID_FILE_TYPE"
	ErrCodeFileTooLarge      = "FILE_TOO_LARGE"
	ErrCodeImportFailed      = "IMPORT_FAILED"
	ErrCodeImportInProgress  = "IMPORT_IN_PROGRESS"
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeAuthRequired      = "AUTH_REQUIRED"
	ErrCodeAuthExpired       = "AUTH_EXPIRED"
	ErrCodeRemoteFailed      = "REMOTE_FAILED"
	ErrCodePasswordMismatch  = "PASSWORD_MISMATCH"
	ErrCodeInvalidOTPChannel = "INVALID_OTP_CHANNEL"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してから再度送信してください。",
	}
}

// NewInvalidEventRangeError は終了日時が開始日時より前のイベントに対するエラーを生成する。
func NewInvalidEventRangeError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEventRange,
		Message:  "終了日時が開始日時より前になっています。",
		Category: "validation",
		Action:   "終了日時を開始日時以降に設定してください。",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("指定されたイベントが見つかりません: %s", eventID),
		Category: "calendar",
		Action:   "カレンダーを再読み込みしてイベントを確認してください。",
	}
}

// NewInvalidFileTypeError はPDF以外のファイルが選択された場合のエラーを生成する。
func NewInvalidFileTypeError(filename string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFileType,
		Message:  fmt.Sprintf("PDFファイルではありません: %s", filename),
		Category: "validation",
		Action:   "拡張子が .pdf のファイルを選択してください。",
	}
}

// NewFileTooLargeError はアップロードサイズ超過エラーを生成する。
func NewFileTooLargeError(limit int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileTooLarge,
		Message:  fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", limit),
		Category: "validation",
		Action:   "より小さいファイルを選択してください。",
	}
}

// NewImportFailedError はイベント取り込み失敗エラーを生成する。
func NewImportFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeImportFailed,
		Message:  fmt.Sprintf("イベントの取り込みに失敗しました: %s", reason),
		Category: "calendar",
		Action:   "ファイルの内容を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewImportInProgressError は取り込み処理の多重実行に対するエラーを生成する。
func NewImportInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeImportInProgress,
		Message:  "別の取り込み処理が実行中です。",
		Category: "calendar",
		Action:   "実行中の取り込みが完了するまでお待ちください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているカレンダーのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewAuthRequiredError はセッションが存在しない場合のエラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewAuthExpiredError はリモートAPIがトークンを拒否した場合のエラーを生成する。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  "セッションの有効期限が切れました。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewRemoteFailedError はリモートAPI呼び出しの失敗エラーを生成する。
// messageにはレスポンスボディから抽出したメッセージ、またはフォールバック文言を渡す。
func NewRemoteFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFailed,
		Message:  message,
		Category: "remote",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPasswordMismatchError は新しいパスワードと確認用パスワードの不一致エラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "新しいパスワードと確認用パスワードが一致しません。",
		Category: "validation",
		Action:   "同じパスワードを2回入力してください。",
	}
}

// NewInvalidOTPChannelError は2段階認証コードの送信先が不正な場合のエラーを生成する。
func NewInvalidOTPChannelError(channel string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOTPChannel,
		Message:  fmt.Sprintf("無効な送信先です: %s", channel),
		Category: "validation",
		Action:   "送信先には EMAIL または MOBILE を指定してください。",
	}
}
