package webhook

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

// MediaResolver resolves a media ID to its download metadata.
type MediaResolver interface {
	GetMediaURL(ctx context.Context, mediaID string) (*whatsapp.MediaResponse, error)
}

// ExtractText converts an inbound message of any supported type into the text
// broadcast to chat clients. Text bodies pass through verbatim; media types
// become a bracketed representation. It returns ("", false) if the message
// should be skipped.
func ExtractText(ctx context.Context, msg whatsapp.Message, media MediaResolver) (string, bool) {
	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return "", false
		}
		return msg.Text.Body, true

	case "image":
		if msg.Image == nil {
			return "", false
		}
		return formatMediaText(ctx, "image", msg.Image.Caption, msg.Image.MimeType, msg.Image.ID, media), true

	case "document":
		if msg.Document == nil {
			return "", false
		}
		label := msg.Document.Filename
		if label == "" {
			label = msg.Document.Caption
		}
		return formatMediaText(ctx, "document", label, msg.Document.MimeType, msg.Document.ID, media), true

	case "audio":
		if msg.Audio == nil {
			return "", false
		}
		return formatMediaText(ctx, "audio", "", msg.Audio.MimeType, msg.Audio.ID, media), true

	case "video":
		if msg.Video == nil {
			return "", false
		}
		return formatMediaText(ctx, "video", msg.Video.Caption, msg.Video.MimeType, msg.Video.ID, media), true

	case "location":
		if msg.Location == nil {
			return "", false
		}
		return formatLocationText(msg.Location), true

	default:
		log.Printf("webhook: unsupported message type %q from %s (id=%s)", msg.Type, msg.From, msg.ID)
		return "", false
	}
}

// formatMediaText builds a text representation for a media attachment. The
// download URL is best-effort; the result is always non-empty.
func formatMediaText(ctx context.Context, kind, label, mimeType, mediaID string, media MediaResolver) string {
	parts := []string{"[" + kind + "]"}
	if label != "" {
		parts = append(parts, label)
	}
	if mimeType != "" {
		parts = append(parts, "("+mimeType+")")
	}

	if mediaID != "" && media != nil {
		if resp, err := media.GetMediaURL(ctx, mediaID); err == nil && resp.URL != "" {
			parts = append(parts, resp.URL)
		} else if err != nil {
			log.Printf("webhook: could not retrieve media URL for %s: %v", mediaID, err)
		}
	}

	return strings.Join(parts, " ")
}

func formatLocationText(loc *whatsapp.LocationContent) string {
	parts := []string{"[location]"}
	if loc.Name != "" {
		parts = append(parts, loc.Name)
	}
	if loc.Address != "" {
		parts = append(parts, loc.Address)
	}
	parts = append(parts, fmt.Sprintf("(%.6f, %.6f)", loc.Latitude, loc.Longitude))
	return strings.Join(parts, " ")
}
