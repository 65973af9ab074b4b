package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studiodesk/internal/api"
	"studiodesk/internal/auth"
	"studiodesk/internal/chat"
	"studiodesk/internal/commands"
	"studiodesk/internal/config"
	"studiodesk/internal/filestore"
	"studiodesk/internal/http"
	"studiodesk/internal/logging"
	"studiodesk/internal/metrics"
	"studiodesk/internal/models"
	"studiodesk/internal/presence"
	"studiodesk/internal/requests"
	"studiodesk/internal/storage"
	"studiodesk/internal/ws"

	"golang.org/x/sync/errgroup"
)

// Kinds of records whose chat threads every session discovers.
var chatKinds = []models.RequestKind{models.RequestKindDesign, models.RequestKindProduction}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("studiodesk", flag.ContinueOnError)
	addUser := fs.String("add-user", "", "Name of the user to create (prints the user id and a session token)")
	role := fs.String("role", string(models.RoleClient), "Role of the created user: admin or client")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*addUser != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		return commands.AddUser(*addUser, models.Role(*role), cfg)
	}

	logger := logging.New(cfg.LogLevel)

	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	authService, err := auth.NewAuthService(ctx, authConfig)
	if err != nil {
		return err
	}

	m := metrics.New()
	m.WatchSubscriptions(bbStorage.ActiveSubscriptions)

	hub := ws.NewHub(m, logger)
	registry := presence.NewRegistry(authService, hub, m, logger)
	svc := requests.NewService(bbStorage, files, bbStorage, logger)

	sessions := func(identity string, emit chat.Emitter) ws.ChatSession {
		return chat.NewSession(chat.SessionConfig{
			Identity: identity,
			Kinds:    chatKinds,
			Store:    bbStorage,
			Sender:   svc,
			Emit:     emit,
			Logger:   logger,
		})
	}
	realtime := ws.NewServer(ctx, hub, registry, sessions, m, logger)

	apiHandlers := api.New(authService, svc, bbStorage, files, bbStorage, cfg.MaxUploadBytes)
	adminHandler := api.NewAdminHandler(authService, bbStorage, registry, cfg.BaseURL)

	adminServer := http.NewAdminServer(adminHandler, m.Handler(), cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, realtime.HandleConnections, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal) or a listener failure
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
