package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
)

// Factory builds connection-capable clients bound to the application's
// fixed API identifiers. One factory is created at process start; each
// login or sync operation asks it for a fresh Client scoped to that
// operation's credential string.
type Factory struct {
	apiID   int
	apiHash string
	retries int
	logger  zerolog.Logger
}

// NewFactory returns a Factory for the given API credentials.
func NewFactory(apiID int, apiHash string, logger zerolog.Logger) (*Factory, error) {
	if apiID == 0 {
		return nil, fmt.Errorf("telegram api id is required")
	}
	if apiHash == "" {
		return nil, fmt.Errorf("telegram api hash is required")
	}
	return &Factory{
		apiID:   apiID,
		apiHash: apiHash,
		retries: 5,
		logger:  logger.With().Str("component", "mtproto_client").Logger(),
	}, nil
}

// Client returns a new, unconnected client. sessionString may be empty (a
// fresh, unauthenticated connection for the send-code step) or a credential
// previously obtained from SessionString().
func (f *Factory) Client(sessionString string) (*Client, error) {
	storage, err := decodeSession(sessionString)
	if err != nil {
		return nil, err
	}
	return &Client{
		apiID:   f.apiID,
		apiHash: f.apiHash,
		retries: f.retries,
		storage: storage,
		logger:  f.logger,
	}, nil
}

// Client is a single connection to Telegram. Connect and Disconnect must be
// paired by the caller; every relay operation opens its own client and
// closes it before returning, so connections are never shared between
// concurrent requests.
type Client struct {
	apiID   int
	apiHash string
	retries int
	storage *memorySession
	logger  zerolog.Logger

	mu            sync.RWMutex
	client        *telegram.Client
	api           *tg.Client
	connected     bool
	disconnecting bool
	cancel        context.CancelFunc
	runDone       chan struct{}
}

// Connect establishes the MTProto connection and blocks until it is ready
// to serve requests. The caller should bound ctx with a timeout. Connection
// attempts are retried up to the factory's bounded retry count; no
// authentication is performed here (login steps are explicit operations).
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if err := c.connectOnce(ctx); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("connect failed, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("connect failed after %d attempts: %w", c.retries, lastErr)
}

// connectOnce starts the gotd run loop in a goroutine and waits for it to
// signal readiness.
func (c *Client) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.disconnecting {
		c.mu.Unlock()
		return fmt.Errorf("disconnect in progress")
	}
	defer c.mu.Unlock()

	c.client = telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		SessionStorage: c.storage,
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	c.runDone = make(chan struct{})

	go func() {
		defer close(c.runDone)
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			c.api = c.client.API()
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case errCh <- err:
		default:
		}
	}()

	select {
	case <-ready:
		c.connected = true
		return nil
	case err := <-errCh:
		cancel()
		if err != nil {
			return err
		}
		return fmt.Errorf("connection closed before ready")
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Disconnect tears the connection down and waits for the run loop to exit.
// Safe to call more than once; ctx bounds how long to wait for shutdown.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.disconnecting || !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.disconnecting = true
	cancel := c.cancel
	runDone := c.runDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		if runDone != nil {
			select {
			case <-runDone:
			case <-ctx.Done():
				c.logger.Warn().Msg("disconnect timeout waiting for client shutdown")
			}
		}
	}

	c.mu.Lock()
	c.client = nil
	c.api = nil
	c.connected = false
	c.cancel = nil
	c.runDone = nil
	c.disconnecting = false
	c.mu.Unlock()
	return nil
}

// IsConnected reports whether the client is inside a Connect/Disconnect pair.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// checkConnected returns the API handle or ErrNotConnected.
func (c *Client) checkConnected() (*tg.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.api == nil {
		return nil, ErrNotConnected
	}
	return c.api, nil
}

// SentCode is the result of requesting a verification code.
type SentCode struct {
	PhoneCodeHash   string
	PhoneCodeLength int
}

// SendCode asks Telegram to deliver a verification code to phone and
// returns the code hash the caller must echo back on sign-in. Upstream
// failures (flood limits, banned numbers) are surfaced unmodified.
func (c *Client) SendCode(ctx context.Context, phone string) (*SentCode, error) {
	if _, err := c.checkConnected(); err != nil {
		return nil, err
	}

	sent, err := c.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return nil, err
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return nil, fmt.Errorf("unexpected sent code type %T", sent)
	}

	length := 5 // Telegram's default verification code length
	switch t := code.Type.(type) {
	case *tg.AuthSentCodeTypeApp:
		length = t.Length
	case *tg.AuthSentCodeTypeSMS:
		length = t.Length
	case *tg.AuthSentCodeTypeCall:
		length = t.Length
	}

	return &SentCode{PhoneCodeHash: code.PhoneCodeHash, PhoneCodeLength: length}, nil
}

// SignIn completes phone-code verification. When the account has 2FA
// enabled it returns ErrSecondFactorRequired and the caller must retry via
// SignInWithPassword. On success the external account id is returned.
func (c *Client) SignIn(ctx context.Context, phone, code, codeHash string) (string, error) {
	if _, err := c.checkConnected(); err != nil {
		return "", err
	}

	authz, err := c.client.Auth().SignIn(ctx, phone, code, codeHash)
	if err != nil {
		return "", classifyAuthErr(err)
	}
	return userID(authz)
}

// SignInWithPassword completes sign-in through the 2FA password path.
func (c *Client) SignInWithPassword(ctx context.Context, password string) (string, error) {
	if _, err := c.checkConnected(); err != nil {
		return "", err
	}

	authz, err := c.client.Auth().Password(ctx, password)
	if err != nil {
		return "", err
	}
	return userID(authz)
}

// userID extracts the numeric account id from an authorization result.
func userID(authz *tg.AuthAuthorization) (string, error) {
	u, ok := authz.User.(*tg.User)
	if !ok {
		return "", fmt.Errorf("unexpected authorization user type %T", authz.User)
	}
	return strconv.FormatInt(u.ID, 10), nil
}

// SignOut terminates the remote login session. The local credential string
// is invalid afterwards.
func (c *Client) SignOut(ctx context.Context) error {
	api, err := c.checkConnected()
	if err != nil {
		return err
	}
	_, err = api.AuthLogOut(ctx)
	return err
}

// SessionString serializes the current credential state to the opaque
// string persisted on the Session row. Empty until authentication has
// succeeded on this connection.
func (c *Client) SessionString() string {
	return c.storage.encode()
}

// ChannelInfo describes one remote dialog that survived the channel filter.
type ChannelInfo struct {
	ID         int64
	AccessHash int64
	Title      string
	Broadcast  bool
	Megagroup  bool
}

// dialogPageSize is the dialog count requested per MessagesGetDialogs call.
const dialogPageSize = 100

// ChannelDialogs lists the account's dialogs and keeps only broadcast
// channels and megagroups, as classified by the server. Plain groups and
// direct chats are excluded. The dialog list is walked page by page with the
// offset cursor advanced to the last dialog's top message, so accounts with
// more dialogs than one page still surface every channel.
func (c *Client) ChannelDialogs(ctx context.Context) ([]ChannelInfo, error) {
	api, err := c.checkConnected()
	if err != nil {
		return nil, err
	}

	var (
		out        []ChannelInfo
		seen       = make(map[int64]struct{})
		offsetID   int
		offsetDate int
	)
	for {
		dialogs, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetID:   offsetID,
			OffsetDate: offsetDate,
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      dialogPageSize,
		})
		if err != nil {
			return nil, err
		}

		var (
			page     []tg.DialogClass
			messages []tg.MessageClass
			chats    []tg.ChatClass
			complete bool
		)
		switch d := dialogs.(type) {
		case *tg.MessagesDialogs:
			page, messages, chats = d.Dialogs, d.Messages, d.Chats
			complete = true
		case *tg.MessagesDialogsSlice:
			page, messages, chats = d.Dialogs, d.Messages, d.Chats
		default:
			return nil, fmt.Errorf("unexpected dialogs type %T", dialogs)
		}

		out = collectChannels(out, chats, seen)

		if complete || len(page) < dialogPageSize {
			break
		}

		nextID, nextDate, ok := nextDialogsOffset(page, messages)
		if !ok || (nextID == offsetID && nextDate == offsetDate) {
			// Cursor cannot advance; stop instead of looping on the
			// same page forever.
			break
		}
		offsetID, offsetDate = nextID, nextDate
	}
	return out, nil
}

// collectChannels appends the broadcast channels and megagroups found in one
// dialogs page, deduplicating across pages by remote channel id.
func collectChannels(out []ChannelInfo, chats []tg.ChatClass, seen map[int64]struct{}) []ChannelInfo {
	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok {
			continue
		}
		if !ch.Broadcast && !ch.Megagroup {
			continue
		}
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		out = append(out, ChannelInfo{
			ID:         ch.ID,
			AccessHash: ch.AccessHash,
			Title:      ch.Title,
			Broadcast:  ch.Broadcast,
			Megagroup:  ch.Megagroup,
		})
	}
	return out
}

// nextDialogsOffset derives the cursor for the next dialogs page: the id and
// date of the last dialog's top message. Folder entries and dialogs whose top
// message is missing from the page are skipped.
func nextDialogsOffset(page []tg.DialogClass, messages []tg.MessageClass) (offsetID, offsetDate int, ok bool) {
	for i := len(page) - 1; i >= 0; i-- {
		d, isDialog := page[i].(*tg.Dialog)
		if !isDialog {
			continue
		}
		for _, m := range messages {
			top, hasFields := m.(interface {
				GetID() int
				GetDate() int
			})
			if !hasFields || top.GetID() != d.TopMessage {
				continue
			}
			return top.GetID(), top.GetDate(), true
		}
	}
	return 0, 0, false
}

// HistoryMessage is one remote message from a channel history page.
type HistoryMessage struct {
	ID   int
	Text string
	Date time.Time
}

// ChannelHistory fetches up to limit messages older than offsetID from the
// channel identified by channelID/accessHash. offsetID zero means "start
// from the most recent". Service messages and non-message entries are
// skipped; empty bodies are returned as-is and filtered by the caller.
func (c *Client) ChannelHistory(ctx context.Context, channelID, accessHash int64, limit, offsetID int) ([]HistoryMessage, error) {
	api, err := c.checkConnected()
	if err != nil {
		return nil, err
	}

	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  channelID,
			AccessHash: accessHash,
		},
		OffsetID: offsetID,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	var raw []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesMessages:
		raw = h.Messages
	default:
		return nil, fmt.Errorf("unexpected history type %T", history)
	}

	out := make([]HistoryMessage, 0, len(raw))
	for _, m := range raw {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, HistoryMessage{
			ID:   msg.ID,
			Text: msg.Message,
			Date: time.Unix(int64(msg.Date), 0).UTC(),
		})
	}
	return out, nil
}
