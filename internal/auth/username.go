package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
)

const (
	// maxUsernameAttempts はユーザー名衝突時の再試行上限。
	maxUsernameAttempts = 5
	maxUsernameLength   = 32
	fallbackUsername    = "user"
)

// createWithUniqueUsername はbaseから導いたユーザー名でuserを作成する。
// 衝突した場合は乱数サフィックスを付けて再試行する。一意性の判定はストアに委ねる。
func (s *Service) createWithUniqueUsername(ctx context.Context, base string, user *model.User) error {
	base = normalizeUsername(base)

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			suffix, err := randomHex(2)
			if err != nil {
				return err
			}
			candidate = base + "_" + suffix
		}
		user.Username = candidate

		err := s.users.Create(ctx, user)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateUsername):
			slog.Debug("username taken, retrying", slog.String("username", candidate), slog.Int("attempt", attempt+1))
			continue
		case errors.Is(err, repository.ErrDuplicateEmail):
			return model.NewEmailAlreadyRegisteredError()
		default:
			return fmt.Errorf("failed to create user: %w", err)
		}
	}

	user.Username = ""
	return fmt.Errorf("failed to allocate a unique username for %q after %d attempts", base, maxUsernameAttempts)
}

// normalizeUsername は英小文字・数字・「.」「_」「-」以外を取り除く。
func normalizeUsername(hint string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(hint) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	name := strings.Trim(b.String(), "._-")
	if len(name) > maxUsernameLength {
		name = name[:maxUsernameLength]
	}
	if name == "" {
		return fallbackUsername
	}
	return name
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
