// Package payload defines the broadcastable message variant and how it is
// extracted from a Telegram message and rendered back.
package payload

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Kind is the media kind of a payload.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// FormatMode tells whether the text is escaped into MarkdownV2 before
// sending (markdown) or sent as is with its entities (plain).
type FormatMode string

const (
	FormatPlain    FormatMode = "plain"
	FormatMarkdown FormatMode = "markdown"
)

var (
	// ErrUnsupported is returned for messages that are not text, photo, video, or document.
	ErrUnsupported = errors.New("unsupported message kind")
	// ErrEmpty is returned when a payload has nothing to send.
	ErrEmpty = errors.New("empty payload")
)

// Payload is one stored message: exactly one kind, an optional file reference,
// and the body (text kind) or caption (media kinds).
type Payload struct {
	Kind     Kind                   `json:"kind"`
	FileID   string                 `json:"file_id,omitempty"`
	Text     string                 `json:"text,omitempty"`
	Entities []models.MessageEntity `json:"entities,omitempty"`
	Format   FormatMode             `json:"format"`
}

// Validate checks the kind invariant.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindText:
		if strings.TrimSpace(p.Text) == "" {
			return ErrEmpty
		}
		if p.FileID != "" {
			return fmt.Errorf("text payload carries a file id: %w", ErrUnsupported)
		}
	case KindPhoto, KindVideo, KindDocument:
		if p.FileID == "" {
			return fmt.Errorf("%s payload without file id: %w", p.Kind, ErrEmpty)
		}
	default:
		return fmt.Errorf("kind %q: %w", p.Kind, ErrUnsupported)
	}
	switch p.Format {
	case FormatPlain, FormatMarkdown:
		return nil
	default:
		return fmt.Errorf("unknown format %q", p.Format)
	}
}

// RenderText returns the text to put on the wire.
func (p Payload) RenderText() string {
	if p.Format == FormatMarkdown {
		return EscapeMarkdownV2(p.Text)
	}
	return p.Text
}

// ParseMode returns MarkdownV2 for markdown payloads and "" otherwise.
func (p Payload) ParseMode() models.ParseMode {
	if p.Format == FormatMarkdown {
		return models.ParseModeMarkdown
	}
	return ""
}

// SendEntities returns the entities to attach. Entity offsets refer to the
// raw text, so they are dropped when the text is escaped.
func (p Payload) SendEntities() []models.MessageEntity {
	if p.Format == FormatMarkdown {
		return nil
	}
	return p.Entities
}

// Value stores the payload as a JSON document.
func (p Payload) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(b), nil
}

// Scan reads a JSON document written by Value.
func (p *Payload) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	case nil:
		*p = Payload{}
		return nil
	default:
		return fmt.Errorf("cannot scan %T into payload", src)
	}
	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// EscapeMarkdownV2 escapes s so that every character renders literally
// under MarkdownV2, backslashes included.
func EscapeMarkdownV2(s string) string {
	return bot.EscapeMarkdown(strings.ReplaceAll(s, `\`, `\\`))
}
