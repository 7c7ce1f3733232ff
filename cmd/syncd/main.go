// cmd/syncd/main.go
// Chat synchronization daemon. Owns the backend REST and socket
// connections for one session and exposes the synced state to a local
// UI over the loopback bridge.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taskchat/syncd/internal/api"
	"github.com/taskchat/syncd/internal/archive"
	"github.com/taskchat/syncd/internal/auth"
	"github.com/taskchat/syncd/internal/bridge"
	"github.com/taskchat/syncd/internal/cache"
	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/config"
	"github.com/taskchat/syncd/internal/socket"
	"github.com/taskchat/syncd/internal/statestore"
	"github.com/taskchat/syncd/internal/window"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	selfID, err := resolveUserID(cfg)
	if err != nil {
		log.Fatalf("Cannot establish session identity: %v", err)
	}
	log.Printf("Starting syncd for user %d (%s)", selfID, cfg.Environment)

	client := api.New(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout)
	sock := socket.NewManagerTimings(cfg.SocketURL, cfg.AuthToken, cfg.WriteWait, cfg.PongWait)
	store := cache.NewStore(client, cfg.ConversationPageSize, cfg.MessagePageSize)
	win := window.NewController(sock, store, client, selfID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every message push invalidates both the message cache and the
	// denormalized conversation list.
	sock.OnMessageEvent(func(eventType string, event chat.MessageEvent) {
		store.HandleMessageEvent(ctx, eventType, event)
	})

	var resume *statestore.Store
	if cfg.RedisURL != "" {
		resume, err = statestore.New(cfg.RedisURL, selfID)
		if err != nil {
			log.Fatalf("Failed to connect resume-state store: %v", err)
		}
		defer resume.Close()
		log.Println("Resume-state store connected")

		sock.OnMessageEvent(func(string, chat.MessageEvent) {
			if err := resume.TouchLastEvent(ctx, time.Now()); err != nil {
				log.Printf("Failed to record last event time: %v", err)
			}
		})

		// Mirror the read cursor for the active conversation so a
		// restarted daemon shows coherent unread markers before the
		// first refetch lands.
		store.OnChange(func(conversationID int64) {
			if conversationID == 0 || conversationID != win.ActiveConversation() {
				return
			}
			messages := store.CachedMessages(conversationID)
			if len(messages) == 0 {
				return
			}
			newest := messages[len(messages)-1].ID
			if err := resume.SetReadCursor(ctx, conversationID, newest); err != nil {
				log.Printf("Failed to record read cursor: %v", err)
			}
		})
	}

	var arch archive.Archiver
	if cfg.ArchiveDSN != "" {
		arch, err = archive.NewPostgresArchiver(cfg.ArchiveDSN)
		if err != nil {
			log.Fatalf("Failed to open message archive: %v", err)
		}
		defer arch.Close()
		log.Println("Message archive connected")

		// Write-behind: archive the authoritative copy after each
		// applied refetch, and tombstone archived rows on deletes.
		mirror := archive.NewMirror(arch, store)
		store.OnChange(func(conversationID int64) {
			mirror.HandleChange(ctx, conversationID)
		})
		sock.OnMessageEvent(func(eventType string, event chat.MessageEvent) {
			mirror.HandleMessageEvent(ctx, eventType, event)
		})
	}

	if err := sock.Connect(ctx); err != nil {
		// Start degraded; the UI sees connected=false and can trigger
		// a reconnect once the network returns.
		log.Printf("Initial socket connect failed: %v", err)
	}
	defer sock.Close()

	var resumeState bridge.ResumeState
	if resume != nil {
		resumeState = resume
	}

	srv := &http.Server{
		Addr:         cfg.BridgeAddr,
		Handler:      bridge.NewServer(client, store, win, sock, arch, resumeState, selfID).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Bridge listening on %s", cfg.BridgeAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Bridge server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	win.Deactivate()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Bridge shutdown failed: %v", err)
	}
	log.Println("Server exited")
}

// resolveUserID learns who the session belongs to. Production tokens
// are JWTs; development setups may use a bare numeric user id.
func resolveUserID(cfg *config.Config) (int64, error) {
	if id, err := strconv.ParseInt(cfg.AuthToken, 10, 64); err == nil && id > 0 {
		return id, nil
	}

	claims, err := auth.ParseSessionToken(cfg.AuthToken)
	if err != nil {
		return 0, err
	}
	if err := claims.Check(); err != nil {
		return 0, err
	}
	return claims.UserID, nil
}
