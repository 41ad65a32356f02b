package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://graph.facebook.com/v22.0"

// DeliveryError is returned when the Cloud API rejects a send call. It carries
// the vendor's HTTP status and error body so the caller can surface both.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("whatsapp API error (status %d): %s", e.StatusCode, e.Body)
}

// Client sends messages and manages media via the WhatsApp Cloud API.
type Client struct {
	Token         string
	PhoneNumberID string
	BaseURL       string
	HTTPClient    *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(token, phoneNumberID string) *Client {
	return &Client{
		Token:         token,
		PhoneNumberID: phoneNumberID,
		BaseURL:       defaultBaseURL,
		HTTPClient:    http.DefaultClient,
	}
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

// SendMessage submits a single message envelope to the Cloud API. It fills in
// the messaging_product and recipient_type fields the vendor requires.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	req.MessagingProduct = "whatsapp"
	req.RecipientType = "individual"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL(), c.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &DeliveryError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result SendMessageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &result, nil
}

// SendText sends a plain text message to the given phone number.
func (c *Client) SendText(ctx context.Context, to, text string) (*SendMessageResponse, error) {
	return c.SendMessage(ctx, SendMessageRequest{
		To:   to,
		Type: "text",
		Text: &TextContent{Body: text},
	})
}
