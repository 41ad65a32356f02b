package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/outbound"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/security"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/translate"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/voice"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

// maxVoiceUpload caps voice recordings at the WhatsApp media limit.
const maxVoiceUpload = 16 << 20

// ContactRequest is a contact-form submission.
type ContactRequest struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// ChatRequest is a chat-widget send.
type ChatRequest struct {
	To      string `json:"to" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// TranslateRequest asks for a chat text translation.
type TranslateRequest struct {
	Text   string `json:"text" validate:"required"`
	Source string `json:"source"`
	Target string `json:"target" validate:"required"`
}

// handleContact formats a contact submission and relays it to the owner's
// WhatsApp number.
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if !s.guardCheck(w, r) {
		return
	}

	body := outbound.FormatContactMessage(req.Name, req.Email, req.Subject, req.Message)
	msgID, err := s.sender.Send(r.Context(), outbound.Request{
		To:   s.ownerNumber,
		Kind: outbound.KindText,
		Text: body,
	})
	if err != nil {
		s.deliveryError(w, "contact", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "message_id": msgID})
}

// handleChat sends a free-form chat widget message.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if !s.guardCheck(w, r) {
		return
	}

	msgID, err := s.sender.Send(r.Context(), outbound.Request{
		To:   req.To,
		Kind: outbound.KindText,
		Text: req.Message,
	})
	if err != nil {
		s.deliveryError(w, "chat", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "sent", "message_id": msgID})
}

// handleVoice accepts a recorded clip plus stage toggles and runs the voice
// pipeline.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !s.guardCheck(w, r) {
		return
	}

	if err := r.ParseMultipartForm(maxVoiceUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "audio file required"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxVoiceUpload+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read audio"})
		return
	}
	if len(audio) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty audio"})
		return
	}
	if len(audio) > maxVoiceUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "audio too large"})
		return
	}

	if !acceptableAudio(audio) {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "unsupported audio format"})
		return
	}

	opts := voice.Options{
		IncludeTranscription: formBool(r, "transcription"),
		IncludeTranslation:   formBool(r, "translation"),
		IncludeSubtitles:     formBool(r, "subtitles"),
		IncludeSpeakers:      formBool(r, "speakers"),
		Language:             r.FormValue("language"),
		SubtitlesFormat:      r.FormValue("subtitles_format"),
	}
	if v := r.FormValue("target_languages"); v != "" {
		opts.TargetLanguages = strings.Split(v, ",")
	}
	if v := r.FormValue("number_of_speakers"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.NumberOfSpeakers = n
		}
	}

	result, err := s.pipeline.Process(r.Context(), audio, opts)
	if err != nil {
		s.deliveryError(w, "voice", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleTranslate translates chat text via the translation vendor.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if _, ok := translate.SupportedLanguages[req.Target]; !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported target language"})
		return
	}

	translated, err := s.translator.Translate(r.Context(), req.Text, translate.Options{
		SourceLanguage: req.Source,
		TargetLanguage: req.Target,
	})
	if err != nil {
		log.Printf("api: translate failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "translation failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"translated": translated})
}

// handleLanguages lists the translation targets the chat widget may offer.
func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, translate.SupportedLanguages)
}

// handleHealth returns 200 OK — used by the CLI status command.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

// decodeAndValidate parses the JSON body into dst and runs struct validation.
// On failure it writes the error response and returns false.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := strings.ToLower(verrs[0].Field())
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid field: " + field})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation failed"})
		return false
	}

	return true
}

// guardCheck applies the abuse guard keyed by client IP. On rejection it
// writes the response and returns false.
func (s *Server) guardCheck(w http.ResponseWriter, r *http.Request) bool {
	switch s.guard.Check(clientIP(r)) {
	case security.Deny:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not allowed"})
		return false
	case security.RateLimited:
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited, try again later"})
		return false
	}
	return true
}

// deliveryError maps a send failure to the HTTP response, preserving the
// vendor status when available.
func (s *Server) deliveryError(w http.ResponseWriter, op string, err error) {
	log.Printf("api: %s send failed: %v", op, err)

	var derr *whatsapp.DeliveryError
	if errors.As(err, &derr) {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":         "delivery failed",
			"vendor_status": derr.StatusCode,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delivery failed"})
}

// acceptableAudio sniffs the clip's content type. Browsers record audio as
// audio/webm or audio/ogg; webm containers sometimes sniff as video/webm.
func acceptableAudio(data []byte) bool {
	mt := mimetype.Detect(data).String()
	return strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/webm")
}

func formBool(r *http.Request, field string) bool {
	v := strings.ToLower(r.FormValue(field))
	return v == "true" || v == "1" || v == "on"
}

// clientIP extracts the caller's address, honoring the first X-Forwarded-For
// hop when the bridge sits behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}
