package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

// Broadcaster receives one call per inbound message extracted from a webhook
// delivery. The relay hub satisfies this.
type Broadcaster interface {
	BroadcastMessage(from, body, timestamp string)
}

// Handler processes WhatsApp Business webhook callbacks: the GET verification
// handshake and POST event deliveries. Extracted messages are handed to the
// Broadcaster; nothing is persisted.
type Handler struct {
	verifyToken string
	appSecret   string
	broadcaster Broadcaster
	media       MediaResolver
	seen        sync.Map // message ID → struct{}
}

// NewHandler creates a webhook handler.
//   - verifyToken: pre-shared token checked during Meta's GET handshake
//   - appSecret: HMAC-SHA256 secret for validating POST payloads; empty skips
//     the check (local development only)
//   - broadcaster: fan-out target for relayed messages
//   - media: resolves media IDs to download URLs for inbound attachments; may
//     be nil
func NewHandler(verifyToken, appSecret string, broadcaster Broadcaster, media MediaResolver) *Handler {
	return &Handler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		broadcaster: broadcaster,
		media:       media,
	}
}

// ServeHTTP dispatches verification (GET) and event delivery (POST).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification responds to Meta's webhook verification challenge:
// GET /webhook?hub.mode=subscribe&hub.verify_token=TOKEN&hub.challenge=CHALLENGE
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		log.Printf("webhook: verification successful")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	log.Printf("webhook: verification failed: mode=%q token_match=%v", mode, token == h.verifyToken)
	http.Error(w, "verification failed", http.StatusForbidden)
}

// handleEvent validates, parses and relays a webhook POST. The delivery is
// acknowledged before fan-out so the vendor never waits on broadcast work.
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !h.validSignature(body, sig) {
			log.Printf("webhook: invalid signature")
			http.Error(w, `{"error":"invalid signature"}`, http.StatusUnauthorized)
			return
		}
	}

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("webhook: invalid JSON: %v", err)
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	if payload.Object != "whatsapp_business_account" {
		log.Printf("webhook: ignoring non-whatsapp object %q", payload.Object)
		writeOK(w)
		return
	}

	writeOK(w)

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			h.relayMessages(r.Context(), change.Value)
		}
	}
}

func (h *Handler) relayMessages(ctx context.Context, value whatsapp.ChangeValue) {
	for _, msg := range value.Messages {
		if h.markSeen(msg.ID) {
			log.Printf("webhook: skipping duplicate message %s", msg.ID)
			continue
		}

		text, ok := ExtractText(ctx, msg, h.media)
		if !ok {
			continue
		}

		h.broadcaster.BroadcastMessage(msg.From, text, msg.Timestamp)
	}
}

// markSeen records a message ID; true means it was already processed.
// Meta redelivers webhooks at-least-once, so this bounds duplicate broadcasts.
func (h *Handler) markSeen(id string) bool {
	if id == "" {
		return false
	}
	_, loaded := h.seen.LoadOrStore(id, struct{}{})
	return loaded
}

// CleanSeen clears the dedup set to bound memory. Call periodically; worst
// case is one duplicate broadcast right after cleanup.
func (h *Handler) CleanSeen() {
	h.seen.Range(func(key, _ any) bool {
		h.seen.Delete(key)
		return true
	})
}

// validSignature checks the X-Hub-Signature-256 header: HMAC-SHA256 over the
// raw body with the app secret, hex-encoded with a "sha256=" prefix.
func (h *Handler) validSignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	sig := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
