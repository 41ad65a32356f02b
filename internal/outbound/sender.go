package outbound

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

// Kind is the application-level message kind.
type Kind string

const (
	KindText     Kind = "text"
	KindAudio    Kind = "audio"
	KindTemplate Kind = "template"
)

// Request describes what to send. Exactly one payload field matching Kind
// must be set.
type Request struct {
	To       string
	Kind     Kind
	Text     string
	Audio    *whatsapp.AudioMessage
	Template *whatsapp.TemplateMessage
}

// Sender translates application-level message requests into Cloud API calls.
// It normalizes recipients, converts Markdown, and splits over-long text into
// multiple sends. Fire-and-forget per message: no retry, no queue.
type Sender struct {
	client *whatsapp.Client
}

// NewSender creates a Sender on top of a Cloud API client.
func NewSender(client *whatsapp.Client) *Sender {
	return &Sender{client: client}
}

// Send submits the request and returns the vendor message ID of the first
// delivered message.
func (s *Sender) Send(ctx context.Context, req Request) (string, error) {
	to := NormalizeRecipient(req.To)
	if to == "" {
		return "", fmt.Errorf("empty recipient after normalization: %q", req.To)
	}

	switch req.Kind {
	case KindText:
		return s.sendText(ctx, to, req.Text)

	case KindAudio:
		if req.Audio == nil {
			return "", fmt.Errorf("audio request without audio payload")
		}
		resp, err := s.client.SendMessage(ctx, whatsapp.SendMessageRequest{
			To:    to,
			Type:  "audio",
			Audio: req.Audio,
		})
		if err != nil {
			return "", err
		}
		return resp.MessageID(), nil

	case KindTemplate:
		if req.Template == nil {
			return "", fmt.Errorf("template request without template payload")
		}
		resp, err := s.client.SendMessage(ctx, whatsapp.SendMessageRequest{
			To:       to,
			Type:     "template",
			Template: req.Template,
		})
		if err != nil {
			return "", err
		}
		return resp.MessageID(), nil

	default:
		return "", fmt.Errorf("unsupported message kind %q", req.Kind)
	}
}

func (s *Sender) sendText(ctx context.Context, to, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty text body")
	}

	text = MarkdownToWhatsApp(text)
	chunks := SplitMessage(text, MaxTextLen)

	var firstID string
	for i, chunk := range chunks {
		resp, err := s.client.SendText(ctx, to, chunk)
		if err != nil {
			if i > 0 {
				log.Printf("outbound: chunk %d/%d to %s failed after partial delivery: %v",
					i+1, len(chunks), to, err)
			}
			return firstID, err
		}
		if firstID == "" {
			firstID = resp.MessageID()
		}
	}

	if len(chunks) > 1 {
		log.Printf("outbound: sent %d chunks to %s", len(chunks), to)
	}
	return firstID, nil
}

// NormalizeRecipient strips everything except digits, the form the Cloud API
// expects ("+237 671 178 991" becomes "237671178991").
func NormalizeRecipient(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
