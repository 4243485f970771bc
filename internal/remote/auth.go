package remote

import (
	"context"
	"net/http"

	"github.com/hitoshi/calman/internal/model"
)

// Login はメールアドレスとパスワードでサインインする。
// 2段階認証が有効なユーザーの場合、JWTは空でRequiresTwoFactorとSessionが返る。
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	err := c.doJSON(ctx, request{
		operation: "auth.signin",
		method:    http.MethodPost,
		path:      "/auth/signin",
		fallback:  "ログインに失敗しました。",
	}, map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyTwoFactor はサインイン時に発行されたチャレンジとワンタイムコードを検証する。
func (c *Client) VerifyTwoFactor(ctx context.Context, otp, session string) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	err := c.doJSON(ctx, request{
		operation: "auth.two_factor",
		method:    http.MethodPost,
		path:      "/auth/two-factor/verify",
		fallback:  "認証コードの検証に失敗しました。",
	}, map[string]string{"otp": otp, "session": session}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register は新しいユーザーを登録する。
func (c *Client) Register(ctx context.Context, user model.RegisterRequest) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	err := c.doJSON(ctx, request{
		operation: "auth.signup",
		method:    http.MethodPost,
		path:      "/auth/signup",
		fallback:  "ユーザー登録に失敗しました。",
	}, user, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
