package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/calman/internal/model"
)

// GetProfile はログイン中ユーザーのプロフィールを取得する。
func (c *Client) GetProfile(ctx context.Context) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := c.doJSON(ctx, request{
		operation: "profile.get",
		method:    http.MethodGet,
		path:      "/api/users/profile",
		auth:      true,
		fallback:  "プロフィールの取得に失敗しました。",
	}, nil, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile は現在のプロフィールを取得してpatchをマージし、全体を書き戻す。
// 携帯電話番号は数字のみに正規化され、2段階認証を無効にすると送信先はクリアされる。
func (c *Client) UpdateProfile(ctx context.Context, patch model.ProfilePatch) (*model.UserProfile, error) {
	current, err := c.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	return c.putProfile(ctx, MergeProfile(*current, patch), "プロフィールの更新に失敗しました。")
}

// UpdateTwoFactorStatus は2段階認証の有効・無効を切り替える。
// 有効化時にsendToが空の場合は現在の送信先を維持し、無効化時は送信先をクリアする。
func (c *Client) UpdateTwoFactorStatus(ctx context.Context, enabled bool, sendTo model.TwoFactorChannel) (*model.UserProfile, error) {
	current, err := c.GetProfile(ctx)
	if err != nil {
		return nil, err
	}

	patch := model.ProfilePatch{TwoFactorEnabled: &enabled}
	if sendTo != "" {
		patch.TwoFactorSendTo = &sendTo
	}
	return c.putProfile(ctx, MergeProfile(*current, patch), "2段階認証の設定変更に失敗しました。")
}

func (c *Client) putProfile(ctx context.Context, profile model.UserProfile, fallback string) (*model.UserProfile, error) {
	var updated model.UserProfile
	err := c.doJSON(ctx, request{
		operation: "profile.update",
		method:    http.MethodPut,
		path:      "/api/users/profile",
		auth:      true,
		fallback:  fallback,
	}, profile, &updated)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdatePassword はパスワードを変更する。
func (c *Client) UpdatePassword(ctx context.Context, currentPassword, newPassword string) error {
	return c.doJSON(ctx, request{
		operation: "profile.password",
		method:    http.MethodPut,
		path:      "/api/users/profile/password",
		auth:      true,
		fallback:  "パスワードの変更に失敗しました。",
	}, map[string]string{"currentPassword": currentPassword, "newPassword": newPassword}, nil)
}

// SendVerificationOTP は指定した送信先にワンタイムコードを送信させる。
func (c *Client) SendVerificationOTP(ctx context.Context, channel model.TwoFactorChannel) error {
	return c.doJSON(ctx, request{
		operation: "profile.send_otp",
		method:    http.MethodPost,
		path:      "/api/users/verification/" + url.PathEscape(string(channel)) + "/send-otp",
		auth:      true,
		fallback:  "認証コードの送信に失敗しました。",
	}, struct{}{}, nil)
}

// VerifyAndEnableTwoFactor はワンタイムコードを検証して2段階認証を有効にする。
func (c *Client) VerifyAndEnableTwoFactor(ctx context.Context, otp string) (*model.UserProfile, error) {
	var profile model.UserProfile
	err := c.doJSON(ctx, request{
		operation: "profile.verify_otp",
		method:    http.MethodPatch,
		path:      "/api/users/enable-two-factor/verify-otp/" + url.PathEscape(otp),
		auth:      true,
		fallback:  "認証コードの検証に失敗しました。",
	}, struct{}{}, &profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// MergeProfile はプロフィールに部分更新を適用した結果を返す。
func MergeProfile(current model.UserProfile, patch model.ProfilePatch) model.UserProfile {
	merged := current
	if patch.Fullname != nil {
		merged.Fullname = *patch.Fullname
	}
	if patch.Mobile != nil {
		merged.Mobile = DigitsOnly(*patch.Mobile)
	}
	if patch.TwoFactorEnabled != nil {
		merged.TwoFactorAuth.Enabled = *patch.TwoFactorEnabled
	}
	switch {
	case patch.TwoFactorEnabled != nil && !*patch.TwoFactorEnabled:
		merged.TwoFactorAuth.SendTo = ""
	case patch.TwoFactorSendTo != nil:
		merged.TwoFactorAuth.SendTo = *patch.TwoFactorSendTo
	}
	return merged
}

// DigitsOnly は文字列から数字以外を取り除く。
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
