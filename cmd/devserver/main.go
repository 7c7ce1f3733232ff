// cmd/devserver/main.go
// Standalone reference backend for local development. Seeds a few users
// and conversations so a freshly started daemon has something to sync.

package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/taskchat/syncd/internal/chat"
	"github.com/taskchat/syncd/internal/devserver"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	addr := os.Getenv("DEVSERVER_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	server := devserver.New()
	seed(server)

	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Dev server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Dev server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Dev server exited")
}

func seed(server *devserver.Server) {
	server.SeedUser(&chat.UserInfo{ID: 1, Username: "me", DisplayName: "Me"})
	server.SeedUser(&chat.UserInfo{ID: 2, Username: "ada", DisplayName: "Ada Lovelace"})
	server.SeedUser(&chat.UserInfo{ID: 3, Username: "grace", DisplayName: "Grace Hopper"})
	server.SeedUser(&chat.UserInfo{ID: 4, Username: "edsger", DisplayName: "Edsger Dijkstra"})

	direct := server.SeedConversation(chat.KindDirect, "", 1, []int64{2})
	server.SeedMessage(direct.ID, 2, "Did you see the build is green again?")

	group := server.SeedConversation(chat.KindGroup, "Team chat", 1, []int64{2, 3, 4})
	server.SeedMessage(group.ID, 3, "Standup moved to 10:30 tomorrow")
	server.SeedMessage(group.ID, 4, "Works for me")

	project := server.SeedConversation(chat.KindProject, "launch-prep", 1, []int64{2, 3})
	server.SeedMessage(project.ID, 2, "Checklist is up, please claim items")

	log.Println(`Seeded 3 conversations; connect with token "1"`)
}
