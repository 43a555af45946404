// Package notify は利用者への通知（ウェルカムメール、パスワード再設定リンク）を扱う。
//
// 送信はDispatcherが非同期に行い、リクエスト処理をブロックしない。
// 送信失敗は記録されるだけで呼び出し元には伝搬しない。
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kind は通知の種類。
type Kind string

const (
	KindWelcome       Kind = "welcome"
	KindPasswordReset Kind = "password_reset"
)

// Message は1件の通知。Bodyには秘匿情報（再設定リンク）が含まれうるため、ログに出力しない。
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// Notifier は通知の配送先。
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NotifierFunc は関数をNotifierとして扱うアダプター。
type NotifierFunc func(ctx context.Context, msg Message) error

// Send はf(ctx, msg)を呼ぶ。
func (f NotifierFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogNotifier は配送の代わりに構造化ログを出力するNotifier。
// メール配送基盤を持たない環境で使う。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。loggerがnilの場合はslog.Default()を使う。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send は通知の種類と宛先のみを記録する。
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification sent",
		slog.String("kind", string(msg.Kind)),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// WelcomeMessage は登録完了通知を組み立てる。
func WelcomeMessage(email, fullName string) Message {
	name := fullName
	if name == "" {
		name = email
	}
	return Message{
		Kind:    KindWelcome,
		To:      email,
		Subject: "Welcome!",
		Body:    fmt.Sprintf("Hello %s,\n\nYour account has been created. You can now sign in with %s.\n", name, email),
	}
}

// PasswordResetMessage はパスワード再設定リンクの通知を組み立てる。
func PasswordResetMessage(email, link string, ttl time.Duration) Message {
	return Message{
		Kind:    KindPasswordReset,
		To:      email,
		Subject: "Password reset request",
		Body: fmt.Sprintf(
			"We received a request to reset your password.\n\nOpen the link below within %d minutes:\n%s\n\nIf you did not request this, you can ignore this message.\n",
			int(ttl.Minutes()), link,
		),
	}
}
