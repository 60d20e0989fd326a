package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/api"
	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/channels"
	"github.com/dotsetgreg/dotcompanion/pkg/companion"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

func runServe(opts *runtimeOptions) error {
	engine, cfg, err := opts.openEngine(true)
	if err != nil {
		return err
	}
	defer engine.Close()

	// Background loops still touch the engine; they are drained before it
	// closes.
	var background []<-chan struct{}
	defer func() {
		for _, done := range background {
			<-done
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}
	if enabled := channelManager.EnabledChannels(); len(enabled) > 0 {
		if err := channelManager.StartAll(ctx); err != nil {
			return fmt.Errorf("start channels: %w", err)
		}
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	}

	gateway := companion.NewGateway(msgBus, engine)
	gatewayDone := make(chan struct{})
	background = append(background, gatewayDone)
	go func() {
		defer close(gatewayDone)
		if err := gateway.Run(ctx); err != nil {
			logger.ErrorCF("gateway", "Gateway stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	if cfg.Reflection.DigestEnabled {
		digest, err := companion.NewDigest(engine, cfg.Reflection.DigestCron)
		if err != nil {
			return err
		}
		background = append(background, digest.Start(ctx))
		fmt.Printf("✓ Reflection digest scheduled (%s)\n", cfg.Reflection.DigestCron)
	}

	server := api.NewServer(cfg.Gateway, engine)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	fmt.Printf("✓ API listening on http://%s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("http server: %w", err)
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.WarnCF("api", "HTTP shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := channelManager.StopAll(shutdownCtx); err != nil {
		logger.WarnCF("channels", "Channel shutdown error", map[string]interface{}{"error": err.Error()})
	}
	for _, done := range background {
		<-done
	}
	fmt.Println("✓ Stopped")
	return nil
}
