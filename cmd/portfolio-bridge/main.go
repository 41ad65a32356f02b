package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/api"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/config"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/gladia"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/outbound"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/relay"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/security"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/translate"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/voice"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/webhook"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.Webhook.AppSecret == "" {
		log.Printf("warning: WHATSAPP_APP_SECRET not set, webhook signature check disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	waClient := whatsapp.NewClient(cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID)
	if cfg.WhatsApp.APIBaseURL != "" {
		waClient.BaseURL = cfg.WhatsApp.APIBaseURL
	}

	hub := relay.NewHub(cfg.Server.AllowedOrigins)
	go hub.Run(ctx)

	wh := webhook.NewHandler(cfg.Webhook.VerifyToken, cfg.Webhook.AppSecret, hub, waClient)
	go cleanSeenLoop(ctx, wh)

	sender := outbound.NewSender(waClient)
	pipeline := voice.NewPipeline(
		waClient,
		gladia.NewClient(cfg.Gladia.APIKey),
		sender,
		cfg.WhatsApp.OwnerNumber,
	)

	guard := security.New(security.Config{
		Mode:       cfg.Security.Mode,
		Allowed:    cfg.Security.Allowed,
		RateLimit:  cfg.Security.RateLimit,
		RateWindow: cfg.Security.RateWindowDuration(),
	})

	server := api.NewServer(api.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		OwnerNumber:    cfg.WhatsApp.OwnerNumber,
		Hub:            hub,
		Webhook:        wh,
		Sender:         sender,
		Pipeline:       pipeline,
		Translator:     translate.NewClient(cfg.Translate.APIKey),
		Guard:          guard,
	})

	// Graceful shutdown on signal.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("received %s, shutting down", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
		cancel()
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("api server error: %v", err)
	}
}

// cleanSeenLoop periodically clears the webhook dedup set to bound memory.
func cleanSeenLoop(ctx context.Context, wh *webhook.Handler) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wh.CleanSeen()
		}
	}
}
