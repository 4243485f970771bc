package model

import (
	"encoding/json"
	"strings"
)

// TwoFactorChannel は2段階認証コードの送信先。
type TwoFactorChannel string

const (
	TwoFactorChannelEmail  TwoFactorChannel = "EMAIL"
	TwoFactorChannelMobile TwoFactorChannel = "MOBILE"
)

// ParseTwoFactorChannel は文字列を送信先に変換する。大文字小文字は区別しない。
func ParseTwoFactorChannel(s string) (TwoFactorChannel, error) {
	switch TwoFactorChannel(strings.ToUpper(strings.TrimSpace(s))) {
	case TwoFactorChannelEmail:
		return TwoFactorChannelEmail, nil
	case TwoFactorChannelMobile:
		return TwoFactorChannelMobile, nil
	default:
		return "", NewInvalidOTPChannelError(s)
	}
}

// TwoFactorAuth はユーザーの2段階認証設定を表す。
// 無効化されている場合SendToは空になる。
type TwoFactorAuth struct {
	Enabled bool
	SendTo  TwoFactorChannel
}

// twoFactorAuthWire はリモートAPIとやり取りする正規スキーマ。
type twoFactorAuthWire struct {
	Enabled bool    `json:"enabled"`
	SendTo  *string `json:"send_to"`
}

// MarshalJSON は正規スキーマ（enabled / send_to）で出力する。
// SendToが空の場合はnullを出力する。
func (t TwoFactorAuth) MarshalJSON() ([]byte, error) {
	w := twoFactorAuthWire{Enabled: t.Enabled}
	if t.SendTo != "" {
		s := string(t.SendTo)
		w.SendTo = &s
	}
	return json.Marshal(w)
}

// UnmarshalJSON は正規スキーマに加えて旧フィールド名
// （is_enabled, isEnabled, sendTo）も受け付ける。
func (t *TwoFactorAuth) UnmarshalJSON(data []byte) error {
	var raw struct {
		Enabled      *bool   `json:"enabled"`
		IsEnabled    *bool   `json:"is_enabled"`
		IsEnabledAlt *bool   `json:"isEnabled"`
		SendTo       *string `json:"send_to"`
		SendToAlt    *string `json:"sendTo"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = TwoFactorAuth{}
	switch {
	case raw.Enabled != nil:
		t.Enabled = *raw.Enabled
	case raw.IsEnabled != nil:
		t.Enabled = *raw.IsEnabled
	case raw.IsEnabledAlt != nil:
		t.Enabled = *raw.IsEnabledAlt
	}

	sendTo := raw.SendTo
	if sendTo == nil {
		sendTo = raw.SendToAlt
	}
	if sendTo != nil {
		t.SendTo = TwoFactorChannel(strings.ToUpper(*sendTo))
	}
	return nil
}

// UserProfile はリモートAPIが管理するユーザープロフィール。
type UserProfile struct {
	ID            int64         `json:"id"`
	Fullname      string        `json:"fullname"`
	Email         string        `json:"email"`
	Mobile        string        `json:"mobile"`
	Status        string        `json:"status"`
	IsVerified    bool          `json:"isVerified"`
	TwoFactorAuth TwoFactorAuth `json:"twoFactorAuth"`
	Picture       *string       `json:"picture"`
	Role          string        `json:"role"`
}

// ProfilePatch はプロフィールの部分更新内容。
// nilのフィールドは現在値を維持する。
type ProfilePatch struct {
	Fullname         *string           `json:"fullname,omitempty"`
	Mobile           *string           `json:"mobile,omitempty"`
	TwoFactorEnabled *bool             `json:"twoFactorEnabled,omitempty"`
	TwoFactorSendTo  *TwoFactorChannel `json:"twoFactorSendTo,omitempty"`
}

// IsEmpty は更新対象のフィールドが1つもない場合にtrueを返す。
func (p ProfilePatch) IsEmpty() bool {
	return p.Fullname == nil && p.Mobile == nil && p.TwoFactorEnabled == nil && p.TwoFactorSendTo == nil
}

// AuthResponse はサインイン・サインアップ・2段階認証検証のレスポンス。
// RequiresTwoFactorがtrueの場合、JWTは空でSessionにチャレンジ識別子が入る。
type AuthResponse struct {
	JWT                    string `json:"jwt"`
	Status                 bool   `json:"status"`
	Message                string `json:"message"`
	IsTwoFactorAuthEnabled bool   `json:"isTwoFactorAuthEnabled"`
	RequiresTwoFactor      bool   `json:"requiresTwoFactor"`
	Session                string `json:"session,omitempty"`
}

// RegisterRequest はユーザー登録のリクエスト。
type RegisterRequest struct {
	Fullname      string         `json:"fullname"`
	Email         string         `json:"email"`
	Password      string         `json:"password"`
	Role          string         `json:"role,omitempty"`
	TwoFactorAuth *TwoFactorAuth `json:"twoFactorAuth,omitempty"`
}
