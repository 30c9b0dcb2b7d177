// whatsgate - WhatsApp HTTP gateway with reply correlation
// License: MIT

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/whatsgate/whatsgate/pkg/bus"
	"github.com/whatsgate/whatsgate/pkg/correlate"
	"github.com/whatsgate/whatsgate/pkg/dispatch"
	"github.com/whatsgate/whatsgate/pkg/logger"
	"github.com/whatsgate/whatsgate/pkg/server"
	"github.com/whatsgate/whatsgate/pkg/waclient"
)

func serveCmd() {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.File != "" {
		if err := logger.EnableFileLogging(cfg.Logging.File); err != nil {
			logger.WarnCF("main", "File logging unavailable", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messageBus := bus.NewMessageBus()
	client := waclient.New(cfg.WhatsApp, messageBus)
	engine := correlate.NewEngine(messageBus, dispatch.NewWebhookNotifier(), cfg.DefaultReplyTimeout())
	httpServer := server.New(cfg.ListenAddr(), server.NewHandler(client, engine))

	if err := client.Start(ctx); err != nil {
		logger.FatalC("main", fmt.Sprintf("Failed to start WhatsApp client: %v", err))
	}

	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.ErrorC("main", fmt.Sprintf("Correlation engine stopped: %v", err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCF("main", "Shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		if err != nil {
			logger.ErrorC("main", fmt.Sprintf("HTTP server error: %v", err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WarnC("main", fmt.Sprintf("HTTP shutdown error: %v", err))
	}
	client.Stop(shutdownCtx)
	messageBus.Close()
}
