package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/abadojack/whatlanggo"
)

const defaultBaseURL = "https://translation.googleapis.com/language/translate/v2"

// SupportedLanguages maps target codes to display names, as offered by the
// chat widget's language picker.
var SupportedLanguages = map[string]string{
	"fr": "Français",
	"en": "Anglais",
	"es": "Espagnol",
	"de": "Allemand",
	"it": "Italien",
	"pt": "Portugais",
	"ru": "Russe",
	"ja": "Japonais",
	"ko": "Coréen",
	"zh": "Chinois",
	"ar": "Arabe",
	"hi": "Hindi",
	"bn": "Bengali",
	"nl": "Néerlandais",
	"pl": "Polonais",
	"tr": "Turc",
	"vi": "Vietnamien",
	"th": "Thaï",
	"id": "Indonésien",
	"ms": "Malais",
}

// Options select the translation direction. SourceLanguage may be empty, in
// which case the source is detected locally before the vendor call.
type Options struct {
	SourceLanguage string
	TargetLanguage string
}

// Client calls the Google Translate v2 REST API.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a translation client.
func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		HTTPClient: http.DefaultClient,
	}
}

// Translate returns text translated into the target language.
func (c *Client) Translate(ctx context.Context, text string, opts Options) (string, error) {
	if opts.TargetLanguage == "" {
		return "", fmt.Errorf("target language required")
	}

	source := opts.SourceLanguage
	if source == "" {
		source = DetectLanguage(text)
	}

	reqBody := map[string]string{
		"q":      text,
		"target": opts.TargetLanguage,
		"format": "text",
	}
	// The vendor auto-detects when source is omitted.
	if source != "" && source != "auto" {
		reqBody["source"] = source
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s?key=%s", c.BaseURL, c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Data.Translations) == 0 {
		return "", fmt.Errorf("translation API returned no translations")
	}

	return parsed.Data.Translations[0].TranslatedText, nil
}

// DetectLanguage returns the ISO 639-1 code of the text's language, detected
// locally. Unrecognized text falls back to "auto" so the vendor decides.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if code := info.Lang.Iso6391(); code != "" && info.IsReliable() {
		return code
	}
	return "auto"
}
