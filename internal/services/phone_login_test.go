package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-backend/internal/domain"
	"github.com/tbourn/go-telegram-backend/internal/repo"
	"github.com/tbourn/go-telegram-backend/internal/telegram"
)

// ----- Fake wire client -----

type fakeClient struct {
	connectErr   error
	connected    bool
	disconnected bool

	sentCode    *telegram.SentCode
	sendCodeErr error
	gotPhone    string

	signInID  string
	signInErr error
	gotCode   string
	gotHash   string

	passwordID  string
	passwordErr error
	gotPassword string

	signOutErr error
	signedOut  bool

	sessionStr string

	dialogs    []telegram.ChannelInfo
	dialogsErr error

	history       []telegram.HistoryMessage
	historyErr    error
	historyChanID int64
	historyHash   int64
	historyLimit  int
	historyOffset int
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Disconnect(ctx context.Context) error {
	f.disconnected = true
	return nil
}

func (f *fakeClient) SendCode(ctx context.Context, phone string) (*telegram.SentCode, error) {
	f.gotPhone = phone
	return f.sentCode, f.sendCodeErr
}

func (f *fakeClient) SignIn(ctx context.Context, phone, code, codeHash string) (string, error) {
	f.gotPhone, f.gotCode, f.gotHash = phone, code, codeHash
	return f.signInID, f.signInErr
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, password string) (string, error) {
	f.gotPassword = password
	return f.passwordID, f.passwordErr
}

func (f *fakeClient) SignOut(ctx context.Context) error {
	f.signedOut = true
	return f.signOutErr
}

func (f *fakeClient) SessionString() string { return f.sessionStr }

func (f *fakeClient) ChannelDialogs(ctx context.Context) ([]telegram.ChannelInfo, error) {
	return f.dialogs, f.dialogsErr
}

func (f *fakeClient) ChannelHistory(ctx context.Context, channelID, accessHash int64, limit, offsetID int) ([]telegram.HistoryMessage, error) {
	f.historyChanID, f.historyHash = channelID, accessHash
	f.historyLimit, f.historyOffset = limit, offsetID
	return f.history, f.historyErr
}

func clientsFor(f *fakeClient) ClientFactory {
	return func(sessionString string) (SessionClient, error) { return f, nil }
}

// ----- Fake session repo -----

type fakeSessionRepo struct {
	sessions map[uint]*domain.Session
	nextID   uint
	saveErr  error
	createFn func(phone string) (*domain.Session, error)
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uint]*domain.Session{}, nextID: 1}
}

func (r *fakeSessionRepo) GetSession(ctx context.Context, db *gorm.DB, id uint) (*domain.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return s, nil
}

func (r *fakeSessionRepo) GetSessionByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error) {
	for _, s := range r.sessions {
		if s.Phone == phone {
			return s, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (r *fakeSessionRepo) CreateSession(ctx context.Context, db *gorm.DB, phone string) (*domain.Session, error) {
	if r.createFn != nil {
		return r.createFn(phone)
	}
	s := &domain.Session{ID: r.nextID, Phone: phone}
	r.sessions[s.ID] = s
	r.nextID++
	return s, nil
}

func (r *fakeSessionRepo) SaveSession(ctx context.Context, db *gorm.DB, s *domain.Session) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *fakeSessionRepo) ActivateSession(ctx context.Context, db *gorm.DB, id uint, sessionString, telegramID string, loginAt time.Time) error {
	s, ok := r.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.SessionString = sessionString
	s.TelegramID = telegramID
	s.IsActive = true
	s.LastLogin = &loginAt
	return nil
}

func (r *fakeSessionRepo) DeactivateSession(ctx context.Context, db *gorm.DB, id uint) error {
	s, ok := r.sessions[id]
	if !ok {
		return repo.ErrNotFound
	}
	s.SessionString = ""
	s.IsActive = false
	return nil
}

func newPhoneService(r SessionRepo, f *fakeClient) *PhoneLoginService {
	return NewPhoneLoginService(nil, r, clientsFor(f), zerolog.Nop())
}

// ----- Tests -----

func TestStartPhoneLogin_RejectsMalformedPhones(t *testing.T) {
	svc := newPhoneService(newFakeSessionRepo(), &fakeClient{})

	for _, phone := range []string{
		"",
		"1234567890",        // missing plus
		"+123",              // too short
		"+12345678901234567", // too long
		"+1234abc8901",      // non-digits
		"++12345678901",
	} {
		if _, err := svc.StartPhoneLogin(context.Background(), phone); !errors.Is(err, ErrInvalidPhone) {
			t.Errorf("StartPhoneLogin(%q) err = %v, want ErrInvalidPhone", phone, err)
		}
	}
}

func TestStartPhoneLogin_CreatesInactiveSession(t *testing.T) {
	store := newFakeSessionRepo()
	fc := &fakeClient{
		sentCode:   &telegram.SentCode{PhoneCodeHash: "hash-1", PhoneCodeLength: 5},
		sessionStr: "intermediate",
	}
	svc := newPhoneService(store, fc)

	res, err := svc.StartPhoneLogin(context.Background(), "+12025550123")
	if err != nil {
		t.Fatalf("StartPhoneLogin: %v", err)
	}
	if res.PhoneCodeHash != "hash-1" || res.PhoneCodeLength != 5 {
		t.Errorf("unexpected result: %+v", res)
	}
	if fc.gotPhone != "+12025550123" {
		t.Errorf("SendCode phone = %q", fc.gotPhone)
	}
	if !fc.disconnected {
		t.Error("client was not disconnected")
	}

	sess := store.sessions[res.SessionID]
	if sess == nil {
		t.Fatal("session row not created")
	}
	if sess.IsActive {
		t.Error("session must stay inactive until verification")
	}
	if sess.SessionString != "intermediate" {
		t.Errorf("intermediate credential not stored: %q", sess.SessionString)
	}
}

func TestStartPhoneLogin_ReusesExistingRow(t *testing.T) {
	store := newFakeSessionRepo()
	existing, _ := store.CreateSession(context.Background(), nil, "+12025550123")
	fc := &fakeClient{sentCode: &telegram.SentCode{PhoneCodeHash: "h", PhoneCodeLength: 5}}
	svc := newPhoneService(store, fc)

	res, err := svc.StartPhoneLogin(context.Background(), "+12025550123")
	if err != nil {
		t.Fatalf("StartPhoneLogin: %v", err)
	}
	if res.SessionID != existing.ID {
		t.Errorf("SessionID = %d, want existing %d", res.SessionID, existing.ID)
	}
	if len(store.sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(store.sessions))
	}
}

func TestStartPhoneLogin_RecoversFromCreateRace(t *testing.T) {
	store := newFakeSessionRepo()
	store.createFn = func(phone string) (*domain.Session, error) {
		// A concurrent start for the same phone wins the insert just
		// before ours lands; the unique index rejects the duplicate.
		s := &domain.Session{ID: store.nextID, Phone: phone}
		store.sessions[s.ID] = s
		store.nextID++
		return nil, gorm.ErrDuplicatedKey
	}
	fc := &fakeClient{sentCode: &telegram.SentCode{PhoneCodeHash: "h", PhoneCodeLength: 5}}
	svc := newPhoneService(store, fc)

	res, err := svc.StartPhoneLogin(context.Background(), "+12025550123")
	if err != nil {
		t.Fatalf("StartPhoneLogin: %v", err)
	}
	if len(store.sessions) != 1 {
		t.Fatalf("sessions = %d, want 1 (winner's row reused)", len(store.sessions))
	}
	if res.SessionID != 1 {
		t.Errorf("SessionID = %d, want the row the winner created", res.SessionID)
	}
}

func TestCompletePhoneLogin_ActivatesSession(t *testing.T) {
	store := newFakeSessionRepo()
	sess, _ := store.CreateSession(context.Background(), nil, "+12025550123")
	sess.SessionString = "intermediate"
	fc := &fakeClient{signInID: "777000", sessionStr: "final-credential"}
	svc := newPhoneService(store, fc)

	res, err := svc.CompletePhoneLogin(context.Background(), sess.ID, "12345", "hash-1", "")
	if err != nil {
		t.Fatalf("CompletePhoneLogin: %v", err)
	}
	if res.TelegramID != "777000" {
		t.Errorf("TelegramID = %q", res.TelegramID)
	}
	if fc.gotPhone != "+12025550123" || fc.gotCode != "12345" || fc.gotHash != "hash-1" {
		t.Errorf("SignIn args = (%q, %q, %q)", fc.gotPhone, fc.gotCode, fc.gotHash)
	}
	if !sess.IsActive || sess.SessionString != "final-credential" || sess.TelegramID != "777000" {
		t.Errorf("session not activated: %+v", sess)
	}
	if sess.LastLogin == nil {
		t.Error("LastLogin not stamped")
	}
}

func TestCompletePhoneLogin_SecondFactor(t *testing.T) {
	store := newFakeSessionRepo()
	sess, _ := store.CreateSession(context.Background(), nil, "+12025550123")
	fc := &fakeClient{signInErr: telegram.ErrSecondFactorRequired, passwordID: "777000"}
	svc := newPhoneService(store, fc)

	// Without a password the 2FA demand surfaces and nothing is activated.
	_, err := svc.CompletePhoneLogin(context.Background(), sess.ID, "12345", "h", "")
	if !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("err = %v, want ErrSecondFactorRequired", err)
	}
	if sess.IsActive {
		t.Error("session must not be active after failed verification")
	}

	// With the password the sign-in completes through the password path.
	res, err := svc.CompletePhoneLogin(context.Background(), sess.ID, "12345", "h", "hunter2")
	if err != nil {
		t.Fatalf("CompletePhoneLogin with password: %v", err)
	}
	if fc.gotPassword != "hunter2" {
		t.Errorf("password = %q", fc.gotPassword)
	}
	if res.TelegramID != "777000" || !sess.IsActive {
		t.Errorf("unexpected state: res=%+v sess=%+v", res, sess)
	}
}

func TestCompletePhoneLogin_UnknownSession(t *testing.T) {
	svc := newPhoneService(newFakeSessionRepo(), &fakeClient{})
	if _, err := svc.CompletePhoneLogin(context.Background(), 42, "1", "h", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestLogout_ClearsCredentialEvenWhenRemoteFails(t *testing.T) {
	store := newFakeSessionRepo()
	sess, _ := store.CreateSession(context.Background(), nil, "+12025550123")
	sess.IsActive = true
	sess.SessionString = "credential"
	fc := &fakeClient{signOutErr: errors.New("FLOOD_WAIT_30")}
	svc := newPhoneService(store, fc)

	if err := svc.Logout(context.Background(), sess.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !fc.signedOut {
		t.Error("remote sign-out was not attempted")
	}
	if sess.IsActive || sess.SessionString != "" {
		t.Errorf("session not deactivated: %+v", sess)
	}
}

func TestLogout_UnknownSession(t *testing.T) {
	svc := newPhoneService(newFakeSessionRepo(), &fakeClient{})
	if err := svc.Logout(context.Background(), 9); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}
