package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/auth"
	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/repo"
)

// ----- Fakes -----

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[uint]*domain.User
	nextID uint

	linkedID       uint
	linkedTelegram string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uint]*domain.User{}, nextID: 1}
}

func (r *fakeUserRepo) GetUser(ctx context.Context, db *gorm.DB, id uint) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetUserByEmailOrMsisdn(ctx context.Context, db *gorm.DB, identifier string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == identifier || u.Msisdn == identifier {
			return u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakeUserRepo) GetUserByTelegramID(ctx context.Context, db *gorm.DB, telegramID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TelegramID == telegramID {
			return u, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakeUserRepo) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u.ID = r.nextID
	r.users[u.ID] = u
	r.nextID++
	return nil
}

func (r *fakeUserRepo) LinkUserTelegramID(ctx context.Context, db *gorm.DB, id uint, telegramID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repo.ErrNotFound
	}
	u.TelegramID = telegramID
	r.linkedID, r.linkedTelegram = id, telegramID
	return nil
}

type fakeIssuer struct {
	issued auth.UserClaims
	token  string
	err    error
}

func (f *fakeIssuer) IssueUserToken(c auth.UserClaims) (string, error) {
	f.issued = c
	if f.token == "" {
		return "token-abc", f.err
	}
	return f.token, f.err
}

type fakeBot struct{ username string }

func (f fakeBot) Username() string { return f.username }

func newQRService(users *fakeUserRepo, issuer *fakeIssuer, bot BotIdentity) *QRLoginService {
	return NewQRLoginService(nil, users, issuer, bot, zerolog.Nop())
}

// setClock pins the service clock to a controllable time.
func setClock(svc *QRLoginService, t *time.Time, mu *sync.Mutex) {
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return *t
	}
}

// ----- Tests -----

func TestGenerateLoginToken_UniqueAndPending(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})

	t1, err := svc.GenerateLoginToken(nil)
	if err != nil {
		t.Fatalf("GenerateLoginToken: %v", err)
	}
	t2, err := svc.GenerateLoginToken(nil)
	if err != nil {
		t.Fatalf("GenerateLoginToken: %v", err)
	}
	if t1 == t2 {
		t.Error("two tokens must not collide")
	}
	if len(t1) != 32 {
		t.Errorf("token length = %d, want 32 hex chars", len(t1))
	}

	res, err := svc.CheckLoginStatus(context.Background(), t1)
	if err != nil {
		t.Fatalf("CheckLoginStatus: %v", err)
	}
	if res.Status != LoginPending || res.Token != "" {
		t.Errorf("fresh token status = %+v, want pending with no API token", res)
	}
}

func TestCreateDeepLink(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})

	link, err := svc.CreateDeepLink("abc123")
	if err != nil {
		t.Fatalf("CreateDeepLink: %v", err)
	}
	if link != "https://t.me/relay_bot?start=abc123" {
		t.Errorf("deep link = %q", link)
	}

	svc = newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{""})
	if _, err := svc.CreateDeepLink("abc123"); !errors.Is(err, ErrBotNotReady) {
		t.Fatalf("err = %v, want ErrBotNotReady", err)
	}
}

func TestGenerateQRCode_DataURL(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})

	data, err := svc.GenerateQRCode("https://t.me/relay_bot?start=abc")
	if err != nil {
		t.Fatalf("GenerateQRCode: %v", err)
	}
	if !strings.HasPrefix(data, "data:image/png;base64,") {
		t.Errorf("not a PNG data URL: %.40q", data)
	}
	if len(data) < 100 {
		t.Errorf("suspiciously small QR payload (%d bytes)", len(data))
	}
}

func TestHandleCallback_CompletesAndIssuesToken(t *testing.T) {
	users := newFakeUserRepo()
	issuer := &fakeIssuer{}
	svc := newQRService(users, issuer, fakeBot{"relay_bot"})

	token, _ := svc.GenerateLoginToken(nil)
	if err := svc.HandleCallback(context.Background(), token, "777000"); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	res, err := svc.CheckLoginStatus(context.Background(), token)
	if err != nil {
		t.Fatalf("CheckLoginStatus: %v", err)
	}
	if res.Status != LoginCompleted || res.TelegramID != "777000" || res.Token == "" {
		t.Errorf("completed status = %+v", res)
	}

	// First login creates the linked account.
	if u, err := users.GetUserByTelegramID(context.Background(), nil, "777000"); err != nil || u == nil {
		t.Fatalf("linked user not created: %v", err)
	}
	if issuer.issued.UserID == 0 {
		t.Error("API token issued without a user id")
	}
}

func TestHandleCallback_ReplayIsRejectedWithoutStateChange(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})

	token, _ := svc.GenerateLoginToken(nil)
	if err := svc.HandleCallback(context.Background(), token, "111"); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	// Replay with a different account must not steal the session.
	if err := svc.HandleCallback(context.Background(), token, "222"); !errors.Is(err, ErrLoginTokenNotFound) {
		t.Fatalf("replay err = %v, want ErrLoginTokenNotFound", err)
	}

	res, err := svc.CheckLoginStatus(context.Background(), token)
	if err != nil {
		t.Fatalf("CheckLoginStatus: %v", err)
	}
	if res.TelegramID != "111" {
		t.Errorf("telegram id = %q, first transition must win", res.TelegramID)
	}
}

func TestHandleCallback_UnknownToken(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})
	if err := svc.HandleCallback(context.Background(), "nope", "111"); !errors.Is(err, ErrLoginTokenNotFound) {
		t.Fatalf("err = %v, want ErrLoginTokenNotFound", err)
	}
}

func TestHandleCallback_LinksPreBoundUser(t *testing.T) {
	users := newFakeUserRepo()
	u := &domain.User{Email: "user1@example.com"}
	_ = users.CreateUser(context.Background(), nil, u)
	svc := newQRService(users, &fakeIssuer{}, fakeBot{"relay_bot"})

	token, _ := svc.GenerateLoginToken(&u.ID)
	if err := svc.HandleCallback(context.Background(), token, "777000"); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if users.linkedID != u.ID || users.linkedTelegram != "777000" {
		t.Errorf("link = (%d, %q), want (%d, 777000)", users.linkedID, users.linkedTelegram, u.ID)
	}
}

func TestCheckLoginStatus_LazyExpiry(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})
	var mu sync.Mutex
	now := time.Now()
	setClock(svc, &now, &mu)

	token, _ := svc.GenerateLoginToken(nil)

	mu.Lock()
	now = now.Add(LoginTokenTTL + time.Second)
	mu.Unlock()

	if _, err := svc.CheckLoginStatus(context.Background(), token); !errors.Is(err, ErrLoginTokenExpired) {
		t.Fatalf("err = %v, want ErrLoginTokenExpired", err)
	}
	// An expired token cannot be confirmed afterwards.
	if err := svc.HandleCallback(context.Background(), token, "777000"); !errors.Is(err, ErrLoginTokenNotFound) {
		t.Fatalf("callback after expiry err = %v, want ErrLoginTokenNotFound", err)
	}
}

func TestHandleCallback_ExpiredPendingToken(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})
	var mu sync.Mutex
	now := time.Now()
	setClock(svc, &now, &mu)

	token, _ := svc.GenerateLoginToken(nil)

	mu.Lock()
	now = now.Add(LoginTokenTTL + time.Second)
	mu.Unlock()

	if err := svc.HandleCallback(context.Background(), token, "777000"); !errors.Is(err, ErrLoginTokenExpired) {
		t.Fatalf("err = %v, want ErrLoginTokenExpired", err)
	}
}

func TestGenerateLoginToken_SweepsStaleEntries(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})
	var mu sync.Mutex
	now := time.Now()
	setClock(svc, &now, &mu)

	stale, _ := svc.GenerateLoginToken(nil)

	// Past expiry but inside the grace window: still reported as expired.
	mu.Lock()
	now = now.Add(LoginTokenTTL + time.Minute)
	mu.Unlock()
	_, _ = svc.GenerateLoginToken(nil)
	if _, err := svc.CheckLoginStatus(context.Background(), stale); !errors.Is(err, ErrLoginTokenExpired) {
		t.Fatalf("err = %v, want ErrLoginTokenExpired inside grace window", err)
	}

	// Far past the grace window the sweep removes the entry entirely.
	mu.Lock()
	now = now.Add(loginTokenPurgeAfter + time.Minute)
	mu.Unlock()
	_, _ = svc.GenerateLoginToken(nil)
	if _, err := svc.CheckLoginStatus(context.Background(), stale); !errors.Is(err, ErrLoginTokenNotFound) {
		t.Fatalf("err = %v, want ErrLoginTokenNotFound after sweep", err)
	}
}

func TestCallbackPollRace_FirstTransitionWins(t *testing.T) {
	svc := newQRService(newFakeUserRepo(), &fakeIssuer{}, fakeBot{"relay_bot"})
	token, _ := svc.GenerateLoginToken(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = svc.HandleCallback(context.Background(), token, "111")
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.CheckLoginStatus(context.Background(), token)
		}()
	}
	wg.Wait()

	res, err := svc.CheckLoginStatus(context.Background(), token)
	if err != nil {
		t.Fatalf("CheckLoginStatus: %v", err)
	}
	if res.Status != LoginCompleted || res.TelegramID != "111" {
		t.Errorf("final state = %+v", res)
	}
}
