package outbound

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxTextLen is the WhatsApp limit for a single text message body.
const MaxTextLen = 4096

// Compiled once at startup.
var (
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reItalic     = regexp.MustCompile(`\*(.+?)\*`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reHeading    = regexp.MustCompile(`(?m)^#{1,3} +(.+)$`)
	reBlockquote = regexp.MustCompile(`(?m)^> ?`)
)

// FormatContactMessage renders a contact-form submission into the text body
// relayed to the site owner. The format is fixed so the owner's chat history
// stays scannable.
func FormatContactMessage(name, email, subject, message string) string {
	return fmt.Sprintf("Nouveau message de %s (%s):\n\nSujet: %s\n\nMessage: %s",
		name, email, subject, message)
}

// MarkdownToWhatsApp converts Markdown formatting to WhatsApp-compatible
// formatting. Bold must be rewritten before italic so that ** is not consumed
// as two italic markers; a placeholder byte holds the spot.
func MarkdownToWhatsApp(text string) string {
	const boldMarker = "\x01"

	out := reBold.ReplaceAllString(text, boldMarker+"$1"+boldMarker)
	out = reItalic.ReplaceAllString(out, "_$1_")
	out = strings.ReplaceAll(out, boldMarker, "*")
	out = reStrike.ReplaceAllString(out, "~$1~")
	out = reHeading.ReplaceAllString(out, "*$1*")
	out = reBlockquote.ReplaceAllString(out, "")

	return out
}

// SplitMessage splits text into chunks of at most maxLen bytes, preferring to
// break on paragraph, line, sentence, then word boundaries. Breaks within the
// first quarter of a chunk are rejected to avoid tiny fragments.
func SplitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	minSplit := maxLen / 4
	var chunks []string

	for len(text) > maxLen {
		chunk := text[:maxLen]

		split := -1
		for _, sep := range []string{"\n\n", "\n"} {
			if i := strings.LastIndex(chunk, sep); i >= minSplit {
				split = i
				break
			}
		}

		if split < 0 {
			for _, sep := range []string{". ", "? ", "! "} {
				if i := strings.LastIndex(chunk, sep); i >= minSplit && i+1 > split {
					split = i + 1
				}
			}
		}

		if split < 0 {
			if i := strings.LastIndex(chunk, " "); i >= minSplit {
				split = i
			}
		}

		if split < 0 {
			split = maxLen
		}

		chunks = append(chunks, strings.TrimSpace(text[:split]))
		text = strings.TrimSpace(text[split:])
	}

	if text != "" {
		chunks = append(chunks, strings.TrimSpace(text))
	}

	return chunks
}
