package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/chat"
	"chatrelay/config"
	"chatrelay/ollama"
	"chatrelay/provider"
	"chatrelay/server"
	"chatrelay/storage"
)

const Version = "v0.01.00"

const (
	shutdownTimeout = 10 * time.Second
	sqliteBusySlack = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())
	config.Debugf("[Main] chatrelay %s driver=%s listen=%s", Version, cfg.StorageDriver, cfg.ListenAddress)

	enc, err := cfg.NewEncryptionManager()
	if err != nil {
		fmt.Printf("Failed to initialize credential encryption: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, enc)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	ollamaClient, err := ollama.NewClient(cfg.OllamaURL(), "", httpClient)
	if err != nil {
		fmt.Printf("Invalid Ollama host: %v\n", err)
		os.Exit(1)
	}
	if err := ollamaClient.Ping(ctx); err != nil {
		log.Printf("Warning: Ollama at %s is not reachable: %v", ollamaClient.BaseURL(), err)
	}

	defaults := provider.Defaults{
		OllamaHost: cfg.OllamaURL(),
		Timeout:    cfg.RequestTimeout,
		HTTPClient: httpClient,
	}
	svc := chat.NewService(store, defaults.Builder())

	srv := server.New(store, svc, server.Options{
		SlowRequest: cfg.SlowRequest,
		Models:      ollamaClient,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.ListenAddress)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: shutdown did not complete: %v", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, codec storage.Codec) (storage.Store, error) {
	if cfg.StorageDriver == config.DriverPostgres {
		store, err := storage.NewPostgresStore(ctx, cfg.PostgresDSN, codec)
		if err != nil {
			return nil, err
		}
		return store, nil
	}

	// A turn holds the write lock across its provider call; other writers
	// queue behind it for up to the request timeout.
	busy := cfg.RequestTimeout + sqliteBusySlack
	store, err := storage.NewSQLiteStore(cfg.DataDir(), codec, storage.WithBusyTimeout(busy))
	if err != nil {
		return nil, err
	}
	return store, nil
}
