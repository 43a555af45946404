package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/notify"
	"github.com/hitoshi/authcore/internal/password"
	"github.com/hitoshi/authcore/internal/repository"
	"github.com/hitoshi/authcore/internal/token"
)

// --- モック定義 ---

// memUserRepo はメールアドレスとユーザー名の一意性を強制するインメモリのUserRepository。
type memUserRepo struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*model.User

	findErr  error
	createFn func(ctx context.Context, user *model.User) error
	creates  int
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[int64]*model.User{}}
}

func (m *memUserRepo) find(match func(u *model.User) bool) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, u := range m.users {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id })
}

func (m *memUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username })
}

func (m *memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email })
}

func (m *memUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, user); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	c := *user
	m.users[c.ID] = &c
	return nil
}

func (m *memUserRepo) UpdatePassword(ctx context.Context, id int64, hashed string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.NewUserNotFoundError()
	}
	u.HashedPassword = hashed
	return nil
}

func (m *memUserRepo) SetTwoFactorSecret(ctx context.Context, id int64, secret string) (bool, error) {
	return true, nil
}

func (m *memUserRepo) EnableTwoFactor(ctx context.Context, id int64, secret string) (bool, error) {
	return true, nil
}

func (m *memUserRepo) DisableTwoFactor(ctx context.Context, id int64) error {
	return nil
}

// put はテスト用にユーザーを直接登録する。
func (m *memUserRepo) put(u *model.User) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	c := *u
	m.users[u.ID] = &c
	return u
}

func (m *memUserRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// memConsumedStore はjtiを記録するインメモリのConsumedTokenStore。
type memConsumedStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memConsumedStore) MarkConsumed(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[jti] {
		return false, nil
	}
	m.seen[jti] = true
	return true, nil
}

// recordingNotifier はキューに積まれた通知を記録する。
type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (r *recordingNotifier) Enqueue(msg notify.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return true
}

func (r *recordingNotifier) sent() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.messages...)
}

// codeVerifierFunc は関数をCodeVerifierとして扱う。
type codeVerifierFunc func(secret, code string) bool

func (f codeVerifierFunc) Verify(secret, code string) bool { return f(secret, code) }

const testSecretKey = "test-secret-key"

type testEnv struct {
	svc      *Service
	repo     *memUserRepo
	notifier *recordingNotifier
	hasher   *password.Hasher
	issuer   *token.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hasher, err := password.NewHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	issuer, err := token.NewIssuer(token.Config{SecretKey: []byte(testSecretKey)})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}
	repo := newMemUserRepo()
	notifier := &recordingNotifier{}
	svc := NewService(Dependencies{
		Users:    repo,
		Consumed: &memConsumedStore{},
		Hasher:   hasher,
		Tokens:   issuer,
		Codes:    codeVerifierFunc(func(secret, code string) bool { return code == "123456" }),
		Notifier: notifier,
	}, ServiceConfig{
		AccessTokenTTL:    30 * time.Minute,
		ResetTokenTTL:     15 * time.Minute,
		PasswordMinLength: 8,
		ResetPasswordURL:  "https://www.example.com/reset-password",
	})
	return &testEnv{svc: svc, repo: repo, notifier: notifier, hasher: hasher, issuer: issuer}
}

// addUser はパスワードをハッシュ化してユーザーを登録する。
func (e *testEnv) addUser(t *testing.T, username, email, plaintext string) *model.User {
	t.Helper()
	hashed, err := e.hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("failed to hash: %v", err)
	}
	return e.repo.put(&model.User{
		Username: username, Email: email, FullName: "Test User",
		HashedPassword: hashed, IsActive: true,
	})
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !model.HasCode(err, code) {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}

func tokenFromLink(t *testing.T, body string) string {
	t.Helper()
	i := strings.Index(body, "token=")
	if i < 0 {
		t.Fatalf("reset link not found in %q", body)
	}
	rest := body[i+len("token="):]
	if j := strings.IndexAny(rest, "\n "); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
