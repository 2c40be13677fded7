package payload

import (
	"unicode/utf8"

	"github.com/go-telegram/bot/models"
)

// FromMessage captures the broadcastable content of msg. The largest photo
// size wins. Messages with entities keep them and are sent plain; messages
// without are escaped on send so that every character renders literally.
func FromMessage(msg *models.Message) (Payload, error) {
	if msg == nil {
		return Payload{}, ErrEmpty
	}

	var p Payload
	switch {
	case len(msg.Photo) > 0:
		p = Payload{Kind: KindPhoto, FileID: largestPhoto(msg.Photo).FileID}
	case msg.Video != nil:
		p = Payload{Kind: KindVideo, FileID: msg.Video.FileID}
	case msg.Document != nil:
		p = Payload{Kind: KindDocument, FileID: msg.Document.FileID}
	case msg.Text != "":
		p = Payload{Kind: KindText, Text: msg.Text, Entities: msg.Entities}
	default:
		return Payload{}, ErrUnsupported
	}

	if p.Kind != KindText {
		p.Text = msg.Caption
		p.Entities = msg.CaptionEntities
	}

	p.Format = FormatMarkdown
	if len(p.Entities) > 0 {
		p.Format = FormatPlain
	}

	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func largestPhoto(sizes []models.PhotoSize) models.PhotoSize {
	best := sizes[0]
	for _, s := range sizes[1:] {
		if s.Width*s.Height > best.Width*best.Height ||
			(s.Width*s.Height == best.Width*best.Height && s.FileSize > best.FileSize) {
			best = s
		}
	}
	return best
}

// Preview shortens the text to at most n runes for prompts and logs.
func (p Payload) Preview(n int) string {
	if utf8.RuneCountInString(p.Text) <= n {
		return p.Text
	}
	runes := []rune(p.Text)
	return string(runes[:n]) + "…"
}
