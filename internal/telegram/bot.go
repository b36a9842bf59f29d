package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// LoginCallback is invoked when a user opens a deep link in the bot chat.
// token is the deep-link start payload, telegramID the sender's account id.
// The returned error selects the rejection reply; nil means the link was
// accepted.
type LoginCallback func(ctx context.Context, token, telegramID string) error

// LinkBot is the process-scoped bot that receives QR/deep-link login
// callbacks. It is created once at startup, started with the process
// lifecycle, and injected into the components that need it; per-request
// code never constructs one.
type LinkBot struct {
	bot    *tgbot.Bot
	logger zerolog.Logger

	mu       sync.RWMutex
	username string
	onLogin  LoginCallback
}

// NewLinkBot creates the bot from its token. The login callback is attached
// later via OnLogin to avoid a construction cycle with the QR service.
func NewLinkBot(token string, logger zerolog.Logger) (*LinkBot, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	lb := &LinkBot{logger: logger.With().Str("component", "link_bot").Logger()}

	b, err := tgbot.New(token, tgbot.WithDefaultHandler(lb.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	lb.bot = b
	return lb, nil
}

// OnLogin registers the callback invoked for deep-link starts. Must be set
// before Start.
func (b *LinkBot) OnLogin(fn LoginCallback) {
	b.mu.Lock()
	b.onLogin = fn
	b.mu.Unlock()
}

// Start resolves the bot identity and long-polls for updates until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (b *LinkBot) Start(ctx context.Context) error {
	me, err := b.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot identity: %w", err)
	}
	b.mu.Lock()
	b.username = me.Username
	b.mu.Unlock()

	b.logger.Info().Str("username", me.Username).Msg("link bot started")
	b.bot.Start(ctx)
	b.logger.Info().Msg("link bot stopped")
	return nil
}

// Username returns the resolved bot username, or "" before Start has
// completed identity resolution. Deep links cannot be built until it is
// known.
func (b *LinkBot) Username() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.username
}

// handleUpdate dispatches /start commands; everything else gets a short
// usage hint.
func (b *LinkBot) handleUpdate(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if !strings.HasPrefix(text, "/start") {
		b.reply(ctx, bot, update, "Send /start or scan a QR code to log in.")
		return
	}

	payload := strings.TrimSpace(strings.TrimPrefix(text, "/start"))
	if payload == "" {
		b.reply(ctx, bot, update, "Welcome! Scan a QR code to log in.")
		return
	}

	b.mu.RLock()
	fn := b.onLogin
	b.mu.RUnlock()
	if fn == nil {
		b.logger.Error().Msg("deep link received but no login callback registered")
		b.reply(ctx, bot, update, "An error occurred. Please try again.")
		return
	}

	telegramID := strconv.FormatInt(update.Message.From.ID, 10)
	if err := fn(ctx, payload, telegramID); err != nil {
		b.logger.Warn().Err(err).Msg("deep link rejected")
		b.reply(ctx, bot, update, "Invalid or expired login token. Please try again.")
		return
	}
	b.reply(ctx, bot, update, "Login successful! You can now close this chat and return to the application.")
}

// reply sends a best-effort text response to the update's chat.
func (b *LinkBot) reply(ctx context.Context, bot *tgbot.Bot, update *models.Update, text string) {
	_, err := bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to send bot reply")
	}
}
