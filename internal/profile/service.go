// Package profile はプロフィール画面の操作（フィールド編集、パスワード変更、2段階認証設定）を提供する。
// フィールド編集は静止期間の後にまとめてリモートAPIへ送信する。
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/calman/internal/debounce"
	"github.com/hitoshi/calman/internal/model"
)

// 編集可能なフィールド名
const (
	FieldFullname = "fullname"
	FieldMobile   = "mobile"
)

// DefaultDebounce はフィールド編集の静止期間の既定値。
const DefaultDebounce = time.Second

// sendTimeout は遅延送信1回あたりのタイムアウト。
const sendTimeout = 30 * time.Second

// RemoteProfile はリモートAPIのプロフィールエンドポイント。remote.Clientが実装する。
type RemoteProfile interface {
	GetProfile(ctx context.Context) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, patch model.ProfilePatch) (*model.UserProfile, error)
	UpdateTwoFactorStatus(ctx context.Context, enabled bool, sendTo model.TwoFactorChannel) (*model.UserProfile, error)
	UpdatePassword(ctx context.Context, currentPassword, newPassword string) error
	SendVerificationOTP(ctx context.Context, channel model.TwoFactorChannel) error
	VerifyAndEnableTwoFactor(ctx context.Context, otp string) (*model.UserProfile, error)
}

// Notifier は遅延送信の結果を受け取る。websocket.EventBroadcasterが実装する。
type Notifier interface {
	ProfileUpdated(profile *model.UserProfile)
	ProfileError(err error)
}

// DebounceRecorder は遅延送信の回数を記録する。metrics.Collectorが実装する。
type DebounceRecorder interface {
	RecordDebouncedUpdateSent()
	RecordDebouncedUpdateCoalesced()
}

// Config はプロフィールサービスの設定。
type Config struct {
	// Debounce はフィールド編集をまとめる静止期間。0以下の場合DefaultDebounce。
	Debounce time.Duration
}

// Service はプロフィール操作のサービス層。
type Service struct {
	remote   RemoteProfile
	notifier Notifier
	recorder DebounceRecorder
	logger   *slog.Logger

	// debouncer は未送信のフィールド編集をまとめたパッチを保持する。
	debouncer *debounce.Debouncer[model.ProfilePatch]
}

// NewService はServiceを生成する。notifierはnilでもよい。
func NewService(remote RemoteProfile, notifier Notifier, logger *slog.Logger, config Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	delay := config.Debounce
	if delay <= 0 {
		delay = DefaultDebounce
	}
	s := &Service{
		remote:   remote,
		notifier: notifier,
		logger:   logger,
	}
	s.debouncer = debounce.New(delay, s.send)
	s.debouncer.OnCoalesce = func() {
		if s.recorder != nil {
			s.recorder.RecordDebouncedUpdateCoalesced()
		}
	}
	return s
}

// SetRecorder は遅延送信の記録先を設定する。
func (s *Service) SetRecorder(r DebounceRecorder) {
	s.recorder = r
}

// Get は現在のプロフィールを取得する。
func (s *Service) Get(ctx context.Context) (*model.UserProfile, error) {
	return s.remote.GetProfile(ctx)
}

// Update はプロフィールを即座に部分更新する。
func (s *Service) Update(ctx context.Context, patch model.ProfilePatch) (*model.UserProfile, error) {
	if patch.IsEmpty() {
		return nil, model.NewValidationError("更新する項目がありません。")
	}
	if patch.Fullname != nil {
		name := strings.TrimSpace(*patch.Fullname)
		if name == "" {
			return nil, model.NewValidationError("氏名を入力してください。")
		}
		patch.Fullname = &name
	}
	if patch.Mobile != nil {
		mobile := FilterMobileInput(*patch.Mobile)
		patch.Mobile = &mobile
	}
	return s.remote.UpdateProfile(ctx, patch)
}

// EditField はフィールドの編集内容を保留し、静止期間の後にまとめて送信する。
// 静止期間中に同じフィールドが再編集された場合は最後の値だけが送られる。
// 送信結果はNotifierへ通知される。
func (s *Service) EditField(field, value string) error {
	var apply func(p model.ProfilePatch) model.ProfilePatch
	switch field {
	case FieldFullname:
		v := strings.TrimSpace(value)
		apply = func(p model.ProfilePatch) model.ProfilePatch {
			p.Fullname = &v
			return p
		}
	case FieldMobile:
		v := FilterMobileInput(value)
		apply = func(p model.ProfilePatch) model.ProfilePatch {
			p.Mobile = &v
			return p
		}
	default:
		return model.NewValidationError(fmt.Sprintf("編集できないフィールドです: %s", field))
	}

	s.debouncer.Update(apply)
	return nil
}

// Flush は保留中のフィールド編集を即座に送信する。
func (s *Service) Flush() {
	s.debouncer.Flush()
}

// Discard は保留中のフィールド編集を送信せずに破棄する。
func (s *Service) Discard() {
	s.debouncer.Stop()
}

// HasPending は送信待ちの編集があるかを返す。
func (s *Service) HasPending() bool {
	return s.debouncer.Pending()
}

// send は遅延送信のコールバック。
func (s *Service) send(patch model.ProfilePatch) {
	if patch.Fullname != nil && *patch.Fullname == "" {
		patch.Fullname = nil
	}
	if patch.IsEmpty() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if s.recorder != nil {
		s.recorder.RecordDebouncedUpdateSent()
	}
	updated, err := s.remote.UpdateProfile(ctx, patch)
	if err != nil {
		s.logger.Warn("debounced profile update failed", slog.String("error", err.Error()))
		if s.notifier != nil {
			s.notifier.ProfileError(err)
		}
		return
	}
	if s.notifier != nil {
		s.notifier.ProfileUpdated(updated)
	}
}

// ChangePassword はパスワードを変更する。確認用パスワードが一致しない場合はリモートAPIを呼ばない。
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword, confirmPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return model.NewValidationError("現在のパスワードと新しいパスワードを入力してください。")
	}
	if newPassword != confirmPassword {
		return model.NewPasswordMismatchError()
	}
	return s.remote.UpdatePassword(ctx, currentPassword, newPassword)
}

// SetTwoFactor は2段階認証の有効・無効を切り替える。sendToは有効化時のみ使われ、空でもよい。
func (s *Service) SetTwoFactor(ctx context.Context, enabled bool, sendTo string) (*model.UserProfile, error) {
	var channel model.TwoFactorChannel
	if enabled && strings.TrimSpace(sendTo) != "" {
		c, err := model.ParseTwoFactorChannel(sendTo)
		if err != nil {
			return nil, err
		}
		channel = c
	}
	return s.remote.UpdateTwoFactorStatus(ctx, enabled, channel)
}

// SendOTP は指定した送信先（EMAIL / MOBILE）へ確認コードを送る。
func (s *Service) SendOTP(ctx context.Context, channel string) error {
	c, err := model.ParseTwoFactorChannel(channel)
	if err != nil {
		return err
	}
	return s.remote.SendVerificationOTP(ctx, c)
}

// VerifyOTP は確認コードを検証し、2段階認証を有効にする。
func (s *Service) VerifyOTP(ctx context.Context, otp string) (*model.UserProfile, error) {
	otp = strings.TrimSpace(otp)
	if otp == "" || strings.IndexFunc(otp, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return nil, model.NewValidationError("確認コードは数字で入力してください。")
	}
	return s.remote.VerifyAndEnableTwoFactor(ctx, otp)
}

// FilterMobileInput は携帯電話番号の入力から数字・空白・+()- 以外の文字を取り除く。
func FilterMobileInput(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return r
		case r == ' ', r == '\t', r == '+', r == '(', r == ')', r == '-':
			return r
		default:
			return -1
		}
	}, s)
}
