package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/scenecast/scenecast/internal/config"
	"github.com/scenecast/scenecast/internal/engine"
	"github.com/scenecast/scenecast/internal/peer"
)

const dialTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadAgent(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting scenecast-agent",
		"relay_url", cfg.RelayURL,
		"mode", cfg.Mode,
		"stun_urls", cfg.StunURLs,
	)

	var iceServers []webrtc.ICEServer
	if len(cfg.StunURLs) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.StunURLs}}
	}

	api, err := engine.NewAPI(logger, nil)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}
	eng, err := engine.New(api, logger.With("component", "engine"), iceServers)
	if err != nil {
		logger.Error("failed to build negotiation engine", "err", err)
		os.Exit(2)
	}
	defer eng.Close()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.RelayURL, nil)
	cancel()
	if err != nil {
		logger.Error("failed to dial relay", "url", cfg.RelayURL, "err", err)
		os.Exit(1)
	}
	logger.Info("connected to relay", "url", cfg.RelayURL)

	client := peer.NewClient(logger, conn, eng)

	eng.OnSignal(func(flat []byte) {
		if err := client.HandleEngineSignal(flat); err != nil {
			logger.Error("failed to forward engine signal", "err", err)
		}
	})
	// The renderer consumes input events out of process; surface them here
	// until that wiring lands.
	eng.OnInput(func(data []byte) {
		logger.Debug("input event", "bytes", len(data))
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx); err != nil {
		logger.Error("signaling bridge exited", "err", err)
		os.Exit(1)
	}
	logger.Info("relay connection closed")
}
