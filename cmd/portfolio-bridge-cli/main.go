package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hybridz/portfolio-whatsapp-bridge/internal/feed"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/outbound"
	"github.com/hybridz/portfolio-whatsapp-bridge/internal/whatsapp"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		handleSend(os.Args[2:])
	case "status":
		handleStatus()
	case "tail":
		handleTail()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func handleSend(args []string) {
	var to, text string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--to":
			if i+1 < len(args) {
				to = args[i+1]
				i++
			}
		case "--text":
			if i+1 < len(args) {
				text = args[i+1]
				i++
			}
		default:
			// Allow positional: send +NUMBER "message"
			if to == "" && strings.HasPrefix(args[i], "+") {
				to = args[i]
			} else if text == "" {
				text = args[i]
			}
		}
	}

	if to == "" || text == "" {
		fmt.Fprintln(os.Stderr, "usage: portfolio-bridge-cli send --to +NUMBER --text \"message\"")
		os.Exit(1)
	}

	token := os.Getenv("WHATSAPP_TOKEN")
	phoneNumberID := os.Getenv("WHATSAPP_PHONE_NUMBER_ID")

	if token == "" || phoneNumberID == "" {
		fmt.Fprintln(os.Stderr, "error: WHATSAPP_TOKEN and WHATSAPP_PHONE_NUMBER_ID must be set")
		os.Exit(1)
	}

	sender := outbound.NewSender(whatsapp.NewClient(token, phoneNumberID))
	msgID, err := sender.Send(context.Background(), outbound.Request{
		To:   to,
		Kind: outbound.KindText,
		Text: text,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if msgID != "" {
		fmt.Printf("sent (id: %s)\n", msgID)
	} else {
		fmt.Println("sent")
	}
}

func handleStatus() {
	addr := envOr("BRIDGE_URL", "http://localhost:8790")

	resp, err := http.Get(addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge unreachable: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("bridge: ok")
	} else {
		fmt.Fprintf(os.Stderr, "bridge: unhealthy (status %d)\n", resp.StatusCode)
		os.Exit(1)
	}
}

// handleTail connects to the live update channel and prints every relayed
// WhatsApp message as it arrives.
func handleTail() {
	url := envOr("BRIDGE_WS_URL", "ws://localhost:8790/ws")

	client := feed.NewClient(url)
	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Printf("tailing %s (ctrl-c to stop)\n", url)
	for {
		evt, err := client.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "feed closed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("[%s] %s: %s\n", evt.Timestamp, evt.From, evt.Message)
	}
}

func printUsage() {
	fmt.Println(`portfolio-bridge-cli — talk to the portfolio WhatsApp bridge

commands:
  send --to +NUMBER --text "message"   send a test WhatsApp message
  status                               check the bridge health endpoint
  tail                                 print relayed messages as they arrive

environment:
  WHATSAPP_TOKEN, WHATSAPP_PHONE_NUMBER_ID   credentials for send
  BRIDGE_URL      bridge base URL (default http://localhost:8790)
  BRIDGE_WS_URL   live channel URL (default ws://localhost:8790/ws)`)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
