// Command bridge is the entry point for the telephony-to-AI transcription
// bridge: it loads configuration, wires the runtime, and serves the
// Media Gateway and Transcription push WebSocket until an interrupt
// triggers a graceful shutdown.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaywire/callbridge/internal/config"
	"github.com/relaywire/callbridge/internal/gateway"
	"github.com/relaywire/callbridge/internal/runtime"
	"github.com/relaywire/callbridge/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.Debug)
	logger.Info("logger initialized")

	rt := runtime.New(cfg, logger)

	router := gateway.NewRouter(rt, rt.Registry(), cfg.Gateway.MediaStreamPath, cfg.Gateway.TranscriptionPath, logger)

	closeGrace := time.Duration(cfg.Session.CloseGraceSec * float64(time.Second))
	go idleSweepLoop(rt, closeGrace)

	startServer(cfg.Gateway.Addr, router, logger, closeGrace)
}

// idleSweepLoop force-closes sessions with no media activity for the
// configured window.
func idleSweepLoop(rt *runtime.Runtime, grace time.Duration) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, id := range rt.CloseIdleSessions(time.Now()) {
			rt.Logger.With("session_id", id).Warnw("runtime: closed idle session")
		}
	}
}

func startServer(addr string, handler http.Handler, logger *logging.Logger, grace time.Duration) {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		logger.With("addr", addr).Info("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("gateway: listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.With("error", err).Error("server forced to shutdown")
	} else {
		logger.Info("server shutdown complete")
	}
}
