package api

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/outbound"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/relay"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/security"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/translate"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/voice"
)

// MessageSender submits outbound message requests.
type MessageSender interface {
	Send(ctx context.Context, req outbound.Request) (string, error)
}

// VoiceProcessor runs the voice pipeline for one uploaded clip.
type VoiceProcessor interface {
	Process(ctx context.Context, audio []byte, opts voice.Options) (*voice.Result, error)
}

// Translator translates chat text.
type Translator interface {
	Translate(ctx context.Context, text string, opts translate.Options) (string, error)
}

// Server is the HTTP surface the portfolio site talks to: the WhatsApp
// webhook, the live-update WebSocket, and the contact/chat/voice/translate
// endpoints.
type Server struct {
	addr           string
	allowedOrigins []string
	ownerNumber    string

	hub        *relay.Hub
	webhook    http.Handler
	sender     MessageSender
	pipeline   VoiceProcessor
	translator Translator
	guard      *security.Guard
	validate   *validator.Validate

	srv *http.Server
}

// Options wires a Server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	OwnerNumber    string
	Hub            *relay.Hub
	Webhook        http.Handler
	Sender         MessageSender
	Pipeline       VoiceProcessor
	Translator     Translator
	Guard          *security.Guard
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	return &Server{
		addr:           opts.Addr,
		allowedOrigins: opts.AllowedOrigins,
		ownerNumber:    opts.OwnerNumber,
		hub:            opts.Hub,
		webhook:        opts.Webhook,
		sender:         opts.Sender,
		pipeline:       opts.Pipeline,
		translator:     opts.Translator,
		guard:          opts.Guard,
		validate:       validator.New(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/webhook", s.webhook)
	mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	mux.HandleFunc("POST /api/contact", s.handleContact)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/voice", s.handleVoice)
	mux.HandleFunc("POST /api/translate", s.handleTranslate)
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.cors(mux)
}

// Start begins listening. It blocks until the server is stopped or hits a
// fatal listener error.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	log.Printf("api server listening on %s", ln.Addr())
	return s.srv.Serve(ln)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// cors allows the portfolio site's origin to call the API from the browser.
// The WebSocket upgrade performs its own origin check in the hub.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}
