package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendarapi "google.golang.org/api/calendar/v3"

	"github.com/jw6ventures/mailvite/internal/backend"
	"github.com/jw6ventures/mailvite/internal/backend/caldavapi"
	"github.com/jw6ventures/mailvite/internal/backend/googleapi"
	"github.com/jw6ventures/mailvite/internal/backend/inmem"
	"github.com/jw6ventures/mailvite/internal/config"
	httpserver "github.com/jw6ventures/mailvite/internal/http"
	"github.com/jw6ventures/mailvite/internal/invite"
	"github.com/jw6ventures/mailvite/internal/reply"
)

func main() {
	log.Println("Starting Mailvite server...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize %s backend: %v", cfg.Backend, err)
	}

	var replier invite.Replier
	if cfg.SMTP.Addr != "" {
		replier = &reply.Mailer{
			From: cfg.UserEmail,
			Sender: &reply.SMTPSender{
				Addr:     cfg.SMTP.Addr,
				Username: cfg.SMTP.Username,
				Password: cfg.SMTP.Password,
			},
		}
	} else {
		log.Println("[WARN] APP_SMTP_ADDR not set; reply mails are disabled")
	}

	// Attachment decryption is a host concern; this deployment receives
	// attachments in the clear.
	r := httpserver.NewRouter(cfg, client, replier, nil)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (backend.Client, error) {
	switch cfg.Backend {
	case config.BackendCalDAV:
		return caldavapi.New(ctx, caldavapi.Config{
			Endpoint:        cfg.CalDAV.Endpoint,
			Username:        cfg.CalDAV.Username,
			Password:        cfg.CalDAV.Password,
			PrimaryTimezone: cfg.DefaultTimezone.String(),
		})
	case config.BackendGoogle:
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendarapi.CalendarScope},
			Endpoint:     google.Endpoint,
		}
		token, err := tokenFromFile(cfg.Google.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("could not load token from %s: %w", cfg.Google.TokenFile, err)
		}
		return googleapi.New(ctx, oauthCfg, token)
	default:
		return inmem.New(), nil
	}
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
