// Package app provides application initialization and dependency wiring.
//
// Setup builds the full component graph in dependency order: tracing,
// database pool, Genkit provider, embedder, stores, retrieval, the
// response engine, the learning loop, and the HTTP server. App is the
// resulting container; call Close to release resources in reverse order.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/homedesk/homedesk/internal/api"
	"github.com/homedesk/homedesk/internal/chatlog"
	"github.com/homedesk/homedesk/internal/config"
	"github.com/homedesk/homedesk/internal/engine"
	"github.com/homedesk/homedesk/internal/example"
	"github.com/homedesk/homedesk/internal/learning"
	"github.com/homedesk/homedesk/internal/llm"
	"github.com/homedesk/homedesk/internal/retrieve"
	"github.com/homedesk/homedesk/internal/whatsapp"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit    *genkit.Genkit
	DBPool    *pgxpool.Pool
	Embedder  *llm.Embedder
	Completer *llm.Completer

	// Domain components
	Examples  *example.Store
	ChatLogs  *chatlog.Store
	Retriever *retrieve.Retriever
	Engine    *engine.Engine
	Learning  *learning.Service

	// WhatsApp is nil when the channel is not configured.
	WhatsApp *whatsapp.Client

	Server *api.Server

	// Lifecycle management
	dbCleanup   func()
	otelCleanup func()
}

// Close gracefully releases all resources in reverse initialization order.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down application")
	}

	if a.dbCleanup != nil {
		a.dbCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
