package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/joingate/internal/logger"
)

// ErrUnreachable marks failures caused by the recipient: the user blocked the
// bot, deactivated the account, or never opened a chat with it.
var ErrUnreachable = errors.New("recipient unreachable")

// Bad request descriptions that mean the recipient cannot be reached.
var unreachableDescriptions = []string{
	"chat not found",
	"user not found",
	"user is deactivated",
	"peer_id_invalid",
	"bot can't initiate conversation",
}

// ErrMessageGone marks a delete that failed because the message no longer
// exists or is too old to be deleted.
var ErrMessageGone = errors.New("message gone")

var goneDescriptions = []string{
	"message to delete not found",
	"message can't be deleted",
}

// IsMessageGone reports whether a delete failed because the message is gone.
func IsMessageGone(err error) bool {
	return errors.Is(err, ErrMessageGone)
}

// IsUnreachable reports whether err was classified as unreachable.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// classify wraps transport errors that mean the recipient is gone with
// ErrUnreachable. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrUnreachable) {
		return err
	}
	if errors.Is(err, bot.ErrorForbidden) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if errors.Is(err, bot.ErrorBadRequest) {
		desc := strings.ToLower(err.Error())
		for _, d := range unreachableDescriptions {
			if strings.Contains(desc, d) {
				return fmt.Errorf("%w: %w", ErrUnreachable, err)
			}
		}
	}
	return err
}

// SendOptions controls formatting and the inline keyboard of a message.
type SendOptions struct {
	ParseMode models.ParseMode
	Entities  []models.MessageEntity
	Keyboard  *models.InlineKeyboardMarkup
}

func (o SendOptions) replyMarkup() models.ReplyMarkup {
	if o.Keyboard == nil {
		return nil
	}
	return o.Keyboard
}

// Client is the messaging transport over a go-telegram/bot instance. Every
// method classifies its error with ErrUnreachable where it applies.
type Client struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// NewClient wraps b.
func NewClient(b *bot.Bot, log *slog.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{bot: b, logger: log.With("component", "telegram_client")}
}

// SendText sends a text message and returns its message id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string, opts SendOptions) (int, error) {
	msg, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   opts.ParseMode,
		Entities:    opts.Entities,
		ReplyMarkup: opts.replyMarkup(),
	})
	return messageID(msg, classify(err))
}

// SendPhoto sends a photo by file id or URL with an optional caption.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, file, caption string, opts SendOptions) (int, error) {
	msg, err := c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:          chatID,
		Photo:           &models.InputFileString{Data: file},
		Caption:         caption,
		ParseMode:       opts.ParseMode,
		CaptionEntities: opts.Entities,
		ReplyMarkup:     opts.replyMarkup(),
	})
	return messageID(msg, classify(err))
}

// SendVideo sends a video by file id or URL with an optional caption.
func (c *Client) SendVideo(ctx context.Context, chatID int64, file, caption string, opts SendOptions) (int, error) {
	msg, err := c.bot.SendVideo(ctx, &bot.SendVideoParams{
		ChatID:          chatID,
		Video:           &models.InputFileString{Data: file},
		Caption:         caption,
		ParseMode:       opts.ParseMode,
		CaptionEntities: opts.Entities,
		ReplyMarkup:     opts.replyMarkup(),
	})
	return messageID(msg, classify(err))
}

// SendDocument sends a document by file id or URL with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, file, caption string, opts SendOptions) (int, error) {
	msg, err := c.bot.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID:          chatID,
		Document:        &models.InputFileString{Data: file},
		Caption:         caption,
		ParseMode:       opts.ParseMode,
		CaptionEntities: opts.Entities,
		ReplyMarkup:     opts.replyMarkup(),
	})
	return messageID(msg, classify(err))
}

// ApproveJoinRequest admits userID into chatID.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	_, err := c.bot.ApproveChatJoinRequest(ctx, &bot.ApproveChatJoinRequestParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return fmt.Errorf("failed to approve join request of user %d in chat %d: %w", userID, chatID, classify(err))
	}
	return nil
}

// DeleteMessage deletes a message previously sent to chatID.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	_, err := c.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: messageID,
	})
	if err != nil {
		if errors.Is(err, bot.ErrorBadRequest) {
			desc := strings.ToLower(err.Error())
			for _, d := range goneDescriptions {
				if strings.Contains(desc, d) {
					return fmt.Errorf("failed to delete message %d in chat %d: %w: %w", messageID, chatID, ErrMessageGone, err)
				}
			}
		}
		return fmt.Errorf("failed to delete message %d in chat %d: %w", messageID, chatID, classify(err))
	}
	return nil
}

// EditText replaces the text of a message. An edit that leaves the message
// unchanged is not an error.
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, opts SendOptions) error {
	_, err := c.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   opts.ParseMode,
		Entities:    opts.Entities,
		ReplyMarkup: opts.replyMarkup(),
	})
	if err != nil {
		if errors.Is(err, bot.ErrorBadRequest) && strings.Contains(err.Error(), "message is not modified") {
			c.logger.DebugContext(ctx, "Edit skipped, message not modified", "chat_id", chatID, "message_id", messageID)
			return nil
		}
		return fmt.Errorf("failed to edit message %d in chat %d: %w", messageID, chatID, classify(err))
	}
	return nil
}

// AnswerCallback acknowledges a callback query, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := c.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("failed to answer callback query: %w", classify(err))
	}
	return nil
}

func messageID(msg *models.Message, err error) (int, error) {
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, errors.New("telegram returned no message")
	}
	return msg.ID, nil
}
