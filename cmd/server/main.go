package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vidlense/internal/config"
	"vidlense/internal/database"
	"vidlense/internal/gateway"
	"vidlense/internal/handlers"
	"vidlense/internal/history"
	"vidlense/internal/orchestrator"
	"vidlense/internal/render"
	"vidlense/internal/router"
	"vidlense/internal/tlsgen"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// --- Configuration ---
	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration from %s: %v", *cfgPath, err)
	}
	log.Printf("Configuration loaded: Address=%s, DB=%s, Model=%s, TLS=%t",
		cfg.Server.Address, cfg.Database.DSN, cfg.Gemini.Model, cfg.Server.TLS.Enabled)

	// --- TLS Certificates ---
	var certs tlsgen.Paths
	if cfg.Server.TLS.Enabled {
		certs, err = tlsgen.EnsureCerts(cfg.Server.TLS.CertDir, cfg.Server.TLS.Hosts)
		if err != nil {
			log.Fatalf("Failed to ensure TLS certificates: %v", err)
		}
		fmt.Println("\n--- IMPORTANT ---")
		fmt.Printf("For HTTPS to work in your browser, you MUST trust the generated CA certificate:\n")
		fmt.Printf("  %s\n", certs.CACert)
		fmt.Println("Consult your browser/OS documentation on how to import and trust a CA certificate.")
		fmt.Print("-----------------\n\n")
	}

	// --- Database ---
	db, err := database.InitDB(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// --- Services ---
	rootCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	gw, err := gateway.NewService(rootCtx, &gateway.Config{
		APIKey:       cfg.Gemini.APIKey,
		ModelName:    cfg.Gemini.Model,
		Temperature:  cfg.Gemini.Temperature,
		PollInterval: cfg.Gemini.PollInterval,
	})
	if err != nil {
		log.Fatalf("Failed to initialize AI gateway (set GEMINI_API_KEY): %v", err)
	}

	hist, err := history.New(db)
	if err != nil {
		log.Fatalf("Failed to load learning history: %v", err)
	}

	sessions := handlers.NewSessionStore(func() *orchestrator.Session {
		return orchestrator.NewSession(gw, hist, db)
	}, cfg.Session.MaxAge)

	// --- Handlers ---
	apiHandlers := handlers.NewAPIHandlers(rootCtx, db, cfg, hist, sessions, render.NewRenderer())

	mux := router.New()
	apiHandlers.RegisterRoutes(mux, handlers.SessionMiddleware(sessions, cfg))

	// --- File Server for Media ---
	absUploadDir, err := filepath.Abs(cfg.Storage.UploadDir)
	if err != nil {
		log.Fatalf("Error getting absolute path for upload directory: %v", err)
	}
	if err := os.MkdirAll(absUploadDir, 0755); err != nil {
		log.Fatalf("Failed to create upload directory %s: %v", absUploadDir, err)
	}
	log.Printf("Serving media files from %s under /media/", absUploadDir)
	mediaFs := http.FileServer(http.Dir(absUploadDir))
	mux.HandlePrefix("GET", "/media/", handlers.NoDeadline(http.StripPrefix("/media/", mediaFs)))

	// Static front end
	staticFs := http.FileServer(http.Dir(cfg.Web.StaticDir))
	mux.HandlePrefix("GET", "/static/", http.StripPrefix("/static/", staticFs))
	mux.HandleFunc("GET", "/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(cfg.Web.StaticDir, "index.html"))
	})

	// --- Server ---
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handlers.LoggingMiddleware(mux),
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.Timeout * 2,
	}

	// Drop idle sessions periodically.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case now := <-ticker.C:
				if n := sessions.Sweep(now); n > 0 {
					log.Printf("Sessions: dropped %d idle sessions", n)
				}
			}
		}
	}()

	go func() {
		var err error
		if cfg.Server.TLS.Enabled {
			log.Printf("Starting HTTPS server on %s", cfg.Server.Address)
			err = server.ListenAndServeTLS(certs.ServerCert, certs.ServerKey)
		} else {
			log.Printf("Starting HTTP server on %s", cfg.Server.Address)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Stop uploads and generations still running in the background.
	sessions.CloseAll()
	cancelJobs()
	apiHandlers.Wait()

	log.Println("Server exiting.")
}
