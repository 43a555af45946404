package notify

import (
	"errors"
	"time"
)

const (
	// defaultMaxAttempts は1件の通知に対する送信試行回数の既定値。
	defaultMaxAttempts = 3
	// defaultInitialBackoff は再送の初回待機時間。
	defaultInitialBackoff = 500 * time.Millisecond
	// maxBackoff は再送待機時間の上限。
	maxBackoff = 10 * time.Second
)

// permanentError は再送しても成功しない送信エラー。
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はerrを再送不要なエラーとしてマークする。
// 宛先不正など、Notifierが再送しても無駄と判断できる場合に使う。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent はerrが再送不要なエラーかを返す。
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// CalculateBackoff は失敗回数に基づいて指数バックオフの待機時間を計算する。
// initialから2倍ずつ増加し、maxBackoffで頭打ちになる。
func CalculateBackoff(initial time.Duration, failures int) time.Duration {
	delay := initial
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
