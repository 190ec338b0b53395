package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/flowchat/internal/chat"
	"github.com/user/flowchat/internal/state"
	"github.com/user/flowchat/internal/tokens"
	"github.com/user/flowchat/internal/types"
	"github.com/user/flowchat/pkg/workflow"
)

const (
	maxTelegramMessage = 4096
	editInterval       = time.Second
	placeholderText    = "…"
)

// Sender is the part of the bot API the adapter writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram chats to workflow sessions, one session per chat.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	sender   Sender
	sessions *state.SessionStore
	budget   *tokens.Budget
	now      func() time.Time

	mu    sync.Mutex
	views map[types.SessionKey]*view
}

// view tracks the Telegram message that shows a chat's current answer.
type view struct {
	turn sync.Mutex // held for the whole turn

	mu        sync.Mutex
	chatID    int64
	messageID int
	lastEdit  time.Time
}

// New creates a Telegram adapter.
func New(token string, provider workflow.Provider, budget *tokens.Budget) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	a := newAdapter(bot, provider, budget)
	a.bot = bot
	return a, nil
}

func newAdapter(sender Sender, provider workflow.Provider, budget *tokens.Budget) *Adapter {
	a := &Adapter{
		sender: sender,
		budget: budget,
		now:    time.Now,
		views:  make(map[types.SessionKey]*view),
	}
	a.sessions = state.NewSessionStore(func(key types.SessionKey) *chat.Session {
		return chat.New(provider,
			chat.WithLogger(slog.Default().With("session_key", string(key))),
			chat.WithObserver(func(u chat.Update) { a.progress(key, u) }),
		)
	})
	return a
}

// Start begins long-polling for Telegram updates. It returns when ctx is
// cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				a.handleMessage(ctx, msg)
			}(update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg.Chat.ID, msg.From.ID, msg.Command())
		return
	}
	a.handleText(ctx, msg.Chat.ID, msg.From.ID, msg.Text)
}

func (a *Adapter) handleCommand(ctx context.Context, chatID, userID int64, command string) {
	key := buildSessionKey(userID, chatID)

	switch command {
	case "start":
		a.sendResponse(chatID, "Hello! Ask me how to automate something and I'll find matching workflows.")

	case "new":
		if err := a.sessions.Remove(ctx, key); err != nil {
			if errors.Is(err, state.ErrSessionBusy) {
				a.sendResponse(chatID, "Still answering your last question. Try /new again when it's done.")
				return
			}
			slog.Error("remove session", "session_key", key, "error", err)
			a.sendResponse(chatID, "Error starting a new conversation.")
			return
		}
		a.sendResponse(chatID, "Started a new conversation.")

	case "status":
		session := a.sessions.ResolveOrCreate(ctx, key)
		entry, err := a.sessions.Get(ctx, session.ID())
		if err != nil {
			slog.Error("lookup session", "session_key", key, "error", err)
			a.sendResponse(chatID, "Error reading session status.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Session: %s\nStarted: %s\nMessages: %d\nState: %s\nOpen conversations: %d",
			session.ID(), entry.CreatedAt.Format(time.RFC3339), len(session.Messages()),
			session.State(), len(a.sessions.List(ctx))))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status")
	}
}

func (a *Adapter) handleText(ctx context.Context, chatID, userID int64, text string) {
	key := buildSessionKey(userID, chatID)
	v := a.viewFor(key, chatID)

	if !v.turn.TryLock() {
		a.sendResponse(chatID, "Still working on your previous question.")
		return
	}
	defer v.turn.Unlock()

	if err := a.budget.Check(text); err != nil {
		a.sendResponse(chatID, "Sorry, that question is too long.")
		return
	}

	placeholder, err := a.sender.Send(tgbotapi.NewMessage(chatID, placeholderText))
	if err != nil {
		slog.Error("send placeholder", "chat_id", chatID, "error", err)
		return
	}
	v.mu.Lock()
	v.messageID = placeholder.MessageID
	v.lastEdit = a.now()
	v.mu.Unlock()

	session := a.sessions.ResolveOrCreate(ctx, key)
	err = session.Send(ctx, text)
	switch {
	case err == nil:
		last, _ := session.LastAssistant()
		a.finish(chatID, placeholder.MessageID, formatAnswer(last))
	case errors.Is(err, chat.ErrTurnActive):
		a.edit(chatID, placeholder.MessageID, "Still working on your previous question.", "")
	case ctx.Err() != nil:
		// Shutting down.
	default:
		slog.Error("turn failed", "session_key", key, "error", err)
		a.edit(chatID, placeholder.MessageID, "Sorry, I couldn't get an answer right now. Please try again.", "")
	}
}

func (a *Adapter) viewFor(key types.SessionKey, chatID int64) *view {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.views[key]
	if !ok {
		v = &view{chatID: chatID}
		a.views[key] = v
	}
	return v
}

// progress edits the placeholder with the partial answer, at most once per
// editInterval.
func (a *Adapter) progress(key types.SessionKey, u chat.Update) {
	if u.Kind != chat.UpdateChanged || u.Delta == "" {
		return
	}
	a.mu.Lock()
	v := a.views[key]
	a.mu.Unlock()
	if v == nil {
		return
	}

	v.mu.Lock()
	now := a.now()
	if v.messageID == 0 || now.Sub(v.lastEdit) < editInterval {
		v.mu.Unlock()
		return
	}
	v.lastEdit = now
	chatID, messageID := v.chatID, v.messageID
	v.mu.Unlock()

	a.edit(chatID, messageID, splitMessage(u.Message.Content)[0], "")
}

// finish replaces the placeholder with the first part of the answer and
// sends the rest as new messages.
func (a *Adapter) finish(chatID int64, messageID int, text string) {
	parts := splitMessage(text)
	a.edit(chatID, messageID, parts[0], tgbotapi.ModeMarkdown)
	for _, part := range parts[1:] {
		a.send(chatID, part)
	}
}

func (a *Adapter) edit(chatID int64, messageID int, text, parseMode string) {
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ParseMode = parseMode
	if _, err := a.sender.Send(msg); err != nil && parseMode != "" {
		// Retry without markdown if it fails
		msg.ParseMode = ""
		_, err = a.sender.Send(msg)
		if err != nil {
			slog.Warn("edit message error", "chat_id", chatID, "error", err)
		}
	} else if err != nil {
		slog.Debug("edit message error", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		a.send(chatID, part)
	}
}

func (a *Adapter) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := a.sender.Send(msg); err != nil {
		// Retry without markdown if it fails
		msg.ParseMode = ""
		if _, err := a.sender.Send(msg); err != nil {
			slog.Warn("send message error", "chat_id", chatID, "error", err)
		}
	}
}

func formatAnswer(m types.Message) string {
	var b strings.Builder
	b.WriteString(m.Content)
	if len(m.Workflows) > 0 {
		b.WriteString("\n\nWorkflows:")
		for i, ref := range m.Workflows {
			fmt.Fprintf(&b, "\n%d. [%s](%s)", i+1, ref.Name, ref.Link)
		}
	}
	if b.Len() == 0 {
		return "(empty answer)"
	}
	return b.String()
}

// splitMessage cuts text into Telegram-sized parts on rune boundaries.
func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end >= len(text) {
			end = len(text)
		} else {
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey("telegram",
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}
