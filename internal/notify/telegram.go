// Package notify delivers user and operations messages over the chat
// platform and patches previously-sent notices.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ActionHandler reacts to a button press. It returns the short toast shown
// to the presser.
type ActionHandler interface {
	HandleAction(ctx context.Context, actorID, data string) (string, error)
}

// Dispatcher sends direct messages, posts to the operations channel and
// edits previously-sent messages.
type Dispatcher struct {
	bot     *tgbotapi.BotAPI
	opsChat int64
	log     *slog.Logger
}

// NewDispatcher wraps a connected bot. opsChat is the operations channel for
// deposit broadcasts and operator approvals.
func NewDispatcher(bot *tgbotapi.BotAPI, opsChat int64, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		bot:     bot,
		opsChat: opsChat,
		log:     log.With(slog.String("component", "notify")),
	}
}

func parseUserID(userID string) (int64, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad user id %q: %w", userID, err)
	}
	return chatID, nil
}

// DirectMessage sends a plain message to a user.
func (d *Dispatcher) DirectMessage(userID, text string) error {
	_, _, err := d.Send(userID, text)
	return err
}

// Send sends a message to a user and returns its chat and message ids so the
// message can be patched later.
func (d *Dispatcher) Send(userID, text string) (int64, int, error) {
	chatID, err := parseUserID(userID)
	if err != nil {
		return 0, 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	sent, err := d.bot.Send(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("send message to %s: %w", userID, err)
	}
	return chatID, sent.MessageID, nil
}

// Announce posts to the operations channel.
func (d *Dispatcher) Announce(text string) error {
	msg := tgbotapi.NewMessage(d.opsChat, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := d.bot.Send(msg); err != nil {
		return fmt.Errorf("announce to operations channel: %w", err)
	}
	return nil
}

func confirmDenyKeyboard(confirmData, denyData string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Confirm", confirmData),
			tgbotapi.NewInlineKeyboardButtonData("Deny", denyData),
		),
	)
}

// Prompt sends a user a message with confirm/deny buttons.
func (d *Dispatcher) Prompt(userID, text, confirmData, denyData string) (int64, int, error) {
	chatID, err := parseUserID(userID)
	if err != nil {
		return 0, 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = confirmDenyKeyboard(confirmData, denyData)
	sent, err := d.bot.Send(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("send prompt to %s: %w", userID, err)
	}
	return chatID, sent.MessageID, nil
}

// PromptOperations posts a confirm/deny prompt to the operations channel.
func (d *Dispatcher) PromptOperations(text, confirmData, denyData string) (int, error) {
	msg := tgbotapi.NewMessage(d.opsChat, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = confirmDenyKeyboard(confirmData, denyData)
	sent, err := d.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send operations prompt: %w", err)
	}
	return sent.MessageID, nil
}

// Patch rewrites a previously-sent message and drops its buttons.
func (d *Dispatcher) Patch(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if _, err := d.bot.Send(edit); err != nil {
		return fmt.Errorf("patch message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

// Run pumps bot updates until the context ends, routing button presses to
// the handler. Non-interactive updates are ignored; command dispatch lives
// elsewhere.
func (d *Dispatcher) Run(ctx context.Context, handler ActionHandler) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := d.bot.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			d.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery == nil {
				continue
			}
			query := update.CallbackQuery
			actorID := strconv.FormatInt(query.From.ID, 10)
			toast, err := handler.HandleAction(ctx, actorID, query.Data)
			if err != nil {
				d.log.Error("handle action", "actor", actorID, "data", query.Data, "error", err)
			}
			if _, err := d.bot.Request(tgbotapi.NewCallback(query.ID, toast)); err != nil {
				d.log.Error("answer callback", "error", err)
			}
		}
	}
}
