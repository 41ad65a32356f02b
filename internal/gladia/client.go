package gladia

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://api.gladia.io/v2"

// Options control which stages the transcription request enables. Zero value
// means plain transcription with automatic language detection.
type Options struct {
	Language         string
	DetectLanguage   bool
	Translation      bool
	TargetLanguages  []string
	Diarization      bool
	NumberOfSpeakers int
	Subtitles        bool
	SubtitlesFormat  string // "srt" or "vtt"
}

// Speaker is one diarized span of the transcript.
type Speaker struct {
	ID    int     `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is the processed transcription outcome.
type Result struct {
	Transcription string
	Translation   string
	Language      string
	Subtitles     string
	Speakers      []Speaker
}

// Client calls the Gladia v2 transcription API.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a Gladia client.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		HTTPClient: http.DefaultClient,
	}
}

// request mirrors the vendor's transcription request schema.
type request struct {
	AudioBase64       string             `json:"audio_base64"`
	Language          string             `json:"language"`
	DetectLanguage    bool               `json:"detect_language"`
	Translation       bool               `json:"translation"`
	TranslationConfig *translationConfig `json:"translation_config,omitempty"`
	Diarization       bool               `json:"diarization"`
	DiarizationConfig *diarizationConfig `json:"diarization_config,omitempty"`
	Subtitles         bool               `json:"subtitles"`
	SubtitlesConfig   *subtitlesConfig   `json:"subtitles_config,omitempty"`
}

type translationConfig struct {
	TargetLanguages         []string `json:"target_languages"`
	Model                   string   `json:"model"`
	MatchOriginalUtterances bool     `json:"match_original_utterances"`
	Lipsync                 bool     `json:"lipsync"`
}

type diarizationConfig struct {
	NumberOfSpeakers int  `json:"number_of_speakers"`
	MinSpeakers      int  `json:"min_speakers"`
	MaxSpeakers      int  `json:"max_speakers"`
	Enhanced         bool `json:"enhanced"`
}

type subtitlesConfig struct {
	Formats                 []string `json:"formats"`
	MinimumDuration         float64  `json:"minimum_duration"`
	MaximumDuration         float64  `json:"maximum_duration"`
	MaximumCharactersPerRow int      `json:"maximum_characters_per_row"`
	MaximumRowsPerCaption   int      `json:"maximum_rows_per_caption"`
	Style                   string   `json:"style"`
}

// response mirrors the subset of the vendor response the bridge consumes.
type response struct {
	Result struct {
		Transcription struct {
			FullTranscript string   `json:"full_transcript"`
			Languages      []string `json:"languages"`
			Subtitles      []struct {
				Subtitles string `json:"subtitles"`
			} `json:"subtitles"`
			Utterances []struct {
				Speaker int     `json:"speaker"`
				Text    string  `json:"text"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
			} `json:"utterances"`
		} `json:"transcription"`
		Translation struct {
			Results []struct {
				FullTranscript string `json:"full_transcript"`
			} `json:"results"`
		} `json:"translation"`
	} `json:"result"`
}

// Transcribe submits an audio clip and returns the processed result. The call
// is synchronous on the vendor side; cancellation comes from ctx.
func (c *Client) Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error) {
	req := buildRequest(audio, opts)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transcription", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-gladia-key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gladia API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return parsed.toResult(), nil
}

func buildRequest(audio []byte, opts Options) request {
	req := request{
		AudioBase64:    base64.StdEncoding.EncodeToString(audio),
		Language:       opts.Language,
		DetectLanguage: opts.DetectLanguage,
		Translation:    opts.Translation,
		Diarization:    opts.Diarization,
		Subtitles:      opts.Subtitles,
	}
	if req.Language == "" {
		req.Language = "auto"
		req.DetectLanguage = true
	}

	if opts.Translation {
		targets := opts.TargetLanguages
		if len(targets) == 0 {
			targets = []string{"en"}
		}
		req.TranslationConfig = &translationConfig{
			TargetLanguages:         targets,
			Model:                   "base",
			MatchOriginalUtterances: true,
			Lipsync:                 true,
		}
	}

	if opts.Diarization {
		speakers := opts.NumberOfSpeakers
		if speakers <= 0 {
			speakers = 2
		}
		req.DiarizationConfig = &diarizationConfig{
			NumberOfSpeakers: speakers,
			MinSpeakers:      1,
			MaxSpeakers:      speakers,
			Enhanced:         false,
		}
	}

	if opts.Subtitles {
		format := opts.SubtitlesFormat
		if format == "" {
			format = "srt"
		}
		req.SubtitlesConfig = &subtitlesConfig{
			Formats:                 []string{format},
			MinimumDuration:         1,
			MaximumDuration:         15.5,
			MaximumCharactersPerRow: 42,
			MaximumRowsPerCaption:   3,
			Style:                   "default",
		}
	}

	return req
}

func (r *response) toResult() *Result {
	result := &Result{
		Transcription: r.Result.Transcription.FullTranscript,
	}
	if langs := r.Result.Transcription.Languages; len(langs) > 0 {
		result.Language = langs[0]
	}
	if translations := r.Result.Translation.Results; len(translations) > 0 {
		result.Translation = translations[0].FullTranscript
	}
	if subs := r.Result.Transcription.Subtitles; len(subs) > 0 {
		result.Subtitles = subs[0].Subtitles
	}
	for _, u := range r.Result.Transcription.Utterances {
		result.Speakers = append(result.Speakers, Speaker{
			ID:    u.Speaker,
			Text:  u.Text,
			Start: u.Start,
			End:   u.End,
		})
	}
	return result
}
