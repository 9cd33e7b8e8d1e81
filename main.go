package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/shellback/shellback/internal/config"
	"github.com/shellback/shellback/internal/database"
	"github.com/shellback/shellback/internal/handlers"
	"github.com/shellback/shellback/internal/hostfile"
	"github.com/shellback/shellback/internal/logging"
	"github.com/shellback/shellback/internal/middleware"
	"github.com/shellback/shellback/internal/session"
)

func main() {
	config.Load()
	logging.Init()

	if err := database.Init(filepath.Join(config.Cfg.DataPath, "shellback.db")); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	// Seed profiles from the hosts file when one is configured.
	if config.Cfg.HostsFile != "" {
		if _, err := os.Stat(config.Cfg.HostsFile); err == nil {
			n, err := hostfile.Import(config.Cfg.HostsFile)
			if err != nil {
				log.Printf("WARNING: hosts file import: %v", err)
			} else {
				log.Printf("Imported %d profile(s) from %s", n, config.Cfg.HostsFile)
			}
		}
	}

	sessionMgr := session.NewManager(config.Cfg.SessionIdleTimeout)
	sessionMgr.OnClosed = func(o *session.Orchestrator) {
		if err := database.RecordSessionEnd(o.ID(), o.Controller().State().String(), o.Controller().Attempt(), o.LinesReceived()); err != nil {
			log.Printf("Record session end %s: %v", o.ID(), err)
		}
	}
	handlers.SessionMgr = sessionMgr
	log.Printf("Session manager initialized (idle_timeout=%s, scrollback=%d lines)",
		config.Cfg.SessionIdleTimeout, config.Cfg.ScrollbackLines)

	// Nightly history retention job.
	sched := cron.New()
	if config.Cfg.HistoryRetentionDays > 0 {
		if _, err := sched.AddFunc("@daily", runHistoryPrune); err != nil {
			log.Fatalf("Schedule history prune: %v", err)
		}
	}
	sched.Start()

	if config.Cfg.APIToken == "" {
		log.Printf("WARNING: no API token configured; the control API is unauthenticated")
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(config.Cfg.APIToken))

		// Host profiles
		r.Get("/profiles", handlers.ListProfiles)
		r.Post("/profiles", handlers.CreateProfile)
		r.Post("/profiles/import", handlers.ImportProfiles)
		r.Post("/profiles/export", handlers.ExportProfiles)
		r.Get("/profiles/{name}", handlers.GetProfile)
		r.Put("/profiles/{name}", handlers.UpdateProfile)
		r.Delete("/profiles/{name}", handlers.DeleteProfile)

		// Sessions
		r.Get("/sessions", handlers.ListSessions)
		r.Post("/sessions", handlers.OpenSession)
		r.Get("/sessions/{id}", handlers.GetSession)
		r.Delete("/sessions/{id}", handlers.CloseSession)
		r.Post("/sessions/{id}/connect", handlers.ConnectSession)
		r.Post("/sessions/{id}/disconnect", handlers.DisconnectSession)
		r.Post("/sessions/{id}/reset", handlers.ResetSession)
		r.Get("/sessions/{id}/scrollback", handlers.GetScrollback)
		r.Get("/sessions/{id}/transitions", handlers.GetSessionTransitions)

		// Terminal feed WebSocket
		r.Get("/sessions/{id}/feed", handlers.SessionFeed)

		// Search
		r.Post("/sessions/{id}/search", handlers.StartSearch)
		r.Get("/sessions/{id}/search", handlers.GetSearch)
		r.Post("/sessions/{id}/search/next", handlers.NextMatch)
		r.Post("/sessions/{id}/search/previous", handlers.PreviousMatch)
		r.Delete("/sessions/{id}/search", handlers.CloseSearch)

		// Session history
		r.Get("/history", handlers.GetSessionHistory)

		// Server logs
		r.Get("/server/logs", handlers.GetServerLogs)
		r.Delete("/server/logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sched.Stop()
	sessionMgr.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// runHistoryPrune removes session-history records older than the
// configured retention window.
func runHistoryPrune() {
	cutoff := time.Now().AddDate(0, 0, -config.Cfg.HistoryRetentionDays)
	n, err := database.PruneSessionRecords(cutoff)
	if err != nil {
		log.Printf("History prune: %v", err)
		return
	}
	if n > 0 {
		log.Printf("History prune: removed %d record(s) older than %d days", n, config.Cfg.HistoryRetentionDays)
	}
}
