// Package cmd provides the CLI commands for homedesk.
//
// Commands:
//   - serve: HTTP API server (chat, feedback, corpus admin, WhatsApp webhook)
//   - seed: generate synthetic corpus examples per category
//
// Signal handling and graceful shutdown are implemented for serve via
// context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/homedesk/homedesk/internal/log"
)

// Execute is the main entry point for the homedesk CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: os.Getenv("HOMEDESK_LOG_JSON") != ""})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "seed":
		return runSeed(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("homedesk - Support response engine for home services")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  homedesk serve [addr]            Start HTTP API server (default: 127.0.0.1:3400)")
	fmt.Println("  homedesk seed [-count N] [-category C]")
	fmt.Println("                                   Generate synthetic corpus examples")
	fmt.Println("  homedesk --version               Show version information")
	fmt.Println("  homedesk --help                  Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY         Gemini API key (default provider)")
	fmt.Println("  OPENAI_API_KEY         OpenAI API key (provider: openai)")
	fmt.Println("  DATABASE_URL           PostgreSQL connection URL")
	fmt.Println("  WHATSAPP_ACCESS_TOKEN  Enables the WhatsApp channel")
	fmt.Println("  DEBUG                  Enable debug logging")
}
