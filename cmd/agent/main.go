// Command agent attaches to a running Chrome and serves the page engine to
// a stepflow server over a websocket, so sessions and runs can target a
// browser on another machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stepflow/internal/agent"
	"stepflow/internal/config"
	"stepflow/internal/transport"
	"stepflow/pkg/browser"
	"stepflow/pkg/logger"
)

func main() {
	server := flag.String("server", "ws://127.0.0.1:8080", "stepflow server base url")
	name := flag.String("name", hostname(), "name this agent registers under")
	token := flag.String("token", os.Getenv("STEPFLOW_TOKEN"), "API token when the server requires one")
	startURL := flag.String("url", "", "page to open on start")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *server, *name, *token, *startURL); err != nil {
		log.Fatal("agent failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, server, name, token, startURL string) error {
	page, err := browser.Open(ctx, cfg.BrowserOptions(), startURL, log.Named("browser"))
	if err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	defer page.Close()

	a := agent.New(page, log.Named("agent"), cfg.AgentOptions())
	if err := a.Attach(ctx); err != nil {
		return fmt.Errorf("attach page engine: %w", err)
	}
	defer a.Close(context.Background())

	// Reconnect with backoff until ctx is done; the tab and its engine
	// survive a dropped connection.
	backoff := time.Second
	for {
		err := serve(ctx, log, a, server, name, token)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("connection to server lost", zap.Error(err), zap.Duration("retry", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func serve(ctx context.Context, log *zap.Logger, a *agent.Agent, server, name, token string) error {
	u, err := url.Parse(server)
	if err != nil {
		return err
	}
	u.Path = "/api/v1/ws/agent"
	q := url.Values{"name": {name}}
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	peer := transport.NewPeer(ws, a, log.Named("peer"))
	a.Bind(peer)
	log.Info("🔌 connected to server", zap.String("server", server), zap.String("name", name))
	return peer.Run(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "agent"
	}
	return h
}
