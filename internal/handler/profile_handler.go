package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calman/internal/model"
)

// ProfileServiceInterface はプロフィールハンドラーが必要とするサービスインターフェース。
type ProfileServiceInterface interface {
	Get(ctx context.Context) (*model.UserProfile, error)
	Update(ctx context.Context, patch model.ProfilePatch) (*model.UserProfile, error)
	EditField(field, value string) error
	ChangePassword(ctx context.Context, currentPassword, newPassword, confirmPassword string) error
	SetTwoFactor(ctx context.Context, enabled bool, sendTo string) (*model.UserProfile, error)
	SendOTP(ctx context.Context, channel string) error
	VerifyOTP(ctx context.Context, otp string) (*model.UserProfile, error)
}

// ProfileHandler はプロフィール画面のHTTPハンドラー。
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type editFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type twoFactorStatusRequest struct {
	Enabled bool   `json:"enabled"`
	SendTo  string `json:"sendTo"`
}

// GetProfile はプロフィールを返す。
// GET /api/profile
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Get(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile はプロフィールを即座に部分更新する。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch model.ProfilePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	profile, err := h.service.Update(r.Context(), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// EditField はフィールド編集を受け付け、遅延送信を予約する。結果はWebSocketで通知される。
// POST /api/profile/fields
func (h *ProfileHandler) EditField(w http.ResponseWriter, r *http.Request) {
	var req editFieldRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.EditField(req.Field, req.Value); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ChangePassword はパスワードを変更する。
// PUT /api/profile/password
func (h *ProfileHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.service.ChangePassword(r.Context(), req.CurrentPassword, req.NewPassword, req.ConfirmPassword); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetTwoFactor は2段階認証の有効・無効を切り替える。
// PUT /api/profile/two-factor
func (h *ProfileHandler) SetTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req twoFactorStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := h.service.SetTwoFactor(r.Context(), req.Enabled, req.SendTo)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SendOTP は確認コードを送信する。
// POST /api/profile/two-factor/send-otp/{type}
func (h *ProfileHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SendOTP(r.Context(), chi.URLParam(r, "type")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VerifyOTP は確認コードを検証して2段階認証を有効にする。
// POST /api/profile/two-factor/verify/{otp}
func (h *ProfileHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.VerifyOTP(r.Context(), chi.URLParam(r, "otp"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
