package voice

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/samber/lo"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/gladia"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/outbound"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

// PlaceholderCaption replaces the caption when transcription fails twice.
// Delivery of the audio itself is the primary goal; transcription is
// best-effort enrichment.
const PlaceholderCaption = "transcription unavailable"

// MediaUploader uploads raw audio to the vendor media store.
type MediaUploader interface {
	UploadMedia(ctx context.Context, data []byte, filename string) (string, error)
}

// Transcriber runs the speech vendor call.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts gladia.Options) (*gladia.Result, error)
}

// MessageSender submits the outbound audio message.
type MessageSender interface {
	Send(ctx context.Context, req outbound.Request) (string, error)
}

// Options toggle the optional enrichment stages of one voice message.
type Options struct {
	IncludeTranscription bool
	IncludeTranslation   bool
	IncludeSubtitles     bool
	IncludeSpeakers      bool

	Language         string
	TargetLanguages  []string
	NumberOfSpeakers int
	SubtitlesFormat  string
}

func (o Options) anyStage() bool {
	return o.IncludeTranscription || o.IncludeTranslation || o.IncludeSubtitles || o.IncludeSpeakers
}

// Result reports what was delivered and which enrichments succeeded.
type Result struct {
	MessageID     string           `json:"message_id"`
	Transcription string           `json:"transcription,omitempty"`
	Translation   string           `json:"translation,omitempty"`
	Subtitles     string           `json:"subtitles,omitempty"`
	Speakers      []gladia.Speaker `json:"speakers,omitempty"`
}

// Pipeline turns a recorded audio clip into a WhatsApp audio message with a
// transcription-derived caption.
type Pipeline struct {
	media       MediaUploader
	transcriber Transcriber
	sender      MessageSender
	owner       string // recipient of every voice message
}

// NewPipeline wires the voice pipeline.
func NewPipeline(media MediaUploader, transcriber Transcriber, sender MessageSender, owner string) *Pipeline {
	return &Pipeline{
		media:       media,
		transcriber: transcriber,
		sender:      sender,
		owner:       owner,
	}
}

// Process uploads the clip, runs the enabled enrichment stages and sends the
// audio message. A transcription failure degrades to PlaceholderCaption after
// one retry; an upload or send failure aborts.
func (p *Pipeline) Process(ctx context.Context, audio []byte, opts Options) (*Result, error) {
	mediaID, err := p.media.UploadMedia(ctx, audio, "audio.webm")
	if err != nil {
		return nil, fmt.Errorf("upload audio: %w", err)
	}

	result := &Result{}
	caption := ""

	if opts.anyStage() {
		transcript, err := p.transcribe(ctx, audio, opts)
		if err != nil {
			log.Printf("voice: transcription failed twice, degrading to placeholder: %v", err)
			caption = PlaceholderCaption
		} else {
			if opts.IncludeTranscription {
				result.Transcription = transcript.Transcription
			}
			if opts.IncludeTranslation {
				result.Translation = transcript.Translation
			}
			if opts.IncludeSpeakers {
				result.Speakers = transcript.Speakers
			}
			if opts.IncludeSubtitles && transcript.Subtitles != "" {
				result.Subtitles = gladia.FormatSubtitles(transcript.Subtitles)
			}
			caption = buildCaption(result)
		}
	}

	msgID, err := p.sender.Send(ctx, outbound.Request{
		To:   p.owner,
		Kind: outbound.KindAudio,
		Audio: &whatsapp.AudioMessage{
			ID:      mediaID,
			Caption: caption,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send audio message: %w", err)
	}

	result.MessageID = msgID
	return result, nil
}

// transcribe runs the vendor call with a single retry.
func (p *Pipeline) transcribe(ctx context.Context, audio []byte, opts Options) (*gladia.Result, error) {
	gopts := gladia.Options{
		Language:         opts.Language,
		DetectLanguage:   opts.Language == "",
		Translation:      opts.IncludeTranslation,
		TargetLanguages:  opts.TargetLanguages,
		Diarization:      opts.IncludeSpeakers,
		NumberOfSpeakers: opts.NumberOfSpeakers,
		Subtitles:        opts.IncludeSubtitles,
		SubtitlesFormat:  opts.SubtitlesFormat,
	}

	res, err := p.transcriber.Transcribe(ctx, audio, gopts)
	if err == nil {
		return res, nil
	}
	log.Printf("voice: transcription attempt failed, retrying once: %v", err)

	return p.transcriber.Transcribe(ctx, audio, gopts)
}

// buildCaption assembles the human-readable caption from whichever stages
// produced output. Failed or disabled stages contribute nothing.
func buildCaption(r *Result) string {
	var parts []string
	if r.Transcription != "" {
		parts = append(parts, "Transcription: "+r.Transcription)
	}
	if r.Translation != "" {
		parts = append(parts, "Traduction: "+r.Translation)
	}
	if len(r.Speakers) > 0 {
		lines := lo.Map(r.Speakers, func(s gladia.Speaker, _ int) string {
			return fmt.Sprintf("Speaker %d: %s", s.ID, s.Text)
		})
		parts = append(parts, "Intervenants:\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
