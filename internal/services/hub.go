package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stepflow/internal/agent"
	"stepflow/internal/models"
	"stepflow/internal/recorder"
	"stepflow/internal/transport"
	"stepflow/pkg/browser"
)

var ErrAgentNotFound = errors.New("agent not connected")

// LocalAgent is a page engine running in this process.
type LocalAgent interface {
	transport.Handler
	Bind(conn transport.Conn)
	Close(ctx context.Context) error
}

// Launcher opens a browser tab on startURL with a page engine attached.
type Launcher func(ctx context.Context, startURL string) (LocalAgent, error)

// Endpoint is one page engine as seen from the orchestrator: a client for
// calls into it and a sink for the steps it records.
type Endpoint struct {
	Name   string
	Remote bool

	client *transport.Client
	close  func() error

	mu    sync.Mutex
	sink  func(models.Step)
	inUse bool
}

func (e *Endpoint) Client() *transport.Client { return e.client }

// Handle serves what the engine sends to the orchestrator.
func (e *Endpoint) Handle(_ context.Context, method transport.Method, params json.RawMessage) (any, error) {
	if method != transport.MethodRecordStep {
		return nil, fmt.Errorf("unexpected method %q from page engine", method)
	}
	var p transport.RecordStepParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decode recorded step: %w", err)
	}
	e.mu.Lock()
	sink := e.sink
	e.mu.Unlock()
	if sink != nil {
		sink(p.Step)
	}
	return transport.Ack{OK: true}, nil
}

func (e *Endpoint) acquire(sink func(models.Step)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inUse {
		return recorder.ErrBusy
	}
	e.inUse = true
	e.sink = sink
	return nil
}

func (e *Endpoint) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inUse = false
	e.sink = nil
}

// Hub hands out page engines: a fresh local tab per use, or a connected
// remote agent by name.
type Hub struct {
	logger *zap.Logger
	launch Launcher

	mu     sync.Mutex
	agents map[string]*Endpoint
}

func NewHub(launch Launcher, logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		launch: launch,
		agents: make(map[string]*Endpoint),
	}
}

// BrowserLauncher launches local tabs with the given browser and engine
// options.
func BrowserLauncher(opts browser.Options, agentOpts agent.Options, logger *zap.Logger) Launcher {
	return func(ctx context.Context, startURL string) (LocalAgent, error) {
		page, err := browser.Open(ctx, opts, startURL, logger)
		if err != nil {
			return nil, err
		}
		a := agent.New(page, logger.Named("agent"), agentOpts)
		if err := a.Attach(ctx); err != nil {
			page.Close()
			return nil, err
		}
		return &pageAgent{Agent: a, page: page}, nil
	}
}

type pageAgent struct {
	*agent.Agent
	page browser.Page
}

func (p *pageAgent) Close(ctx context.Context) error {
	err := p.Agent.Close(ctx)
	if cerr := p.page.Close(); err == nil {
		err = cerr
	}
	return err
}

// Agents lists the connected remote agents.
func (h *Hub) Agents() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.agents))
	for name := range h.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Serve registers a remote agent connected over ws and blocks until it
// disconnects.
func (h *Hub) Serve(ctx context.Context, name string, ws *websocket.Conn) error {
	ep := &Endpoint{Name: name, Remote: true}
	peer := transport.NewPeer(ws, ep, h.logger.Named("peer").With(zap.String("agent", name)))
	ep.client = transport.NewClient(peer)
	ep.close = func() error { return nil }

	h.mu.Lock()
	if _, exists := h.agents[name]; exists {
		h.mu.Unlock()
		peer.Close()
		return fmt.Errorf("agent %q is already connected", name)
	}
	h.agents[name] = ep
	h.mu.Unlock()

	h.logger.Info("🔌 agent connected", zap.String("agent", name))
	defer func() {
		h.mu.Lock()
		delete(h.agents, name)
		h.mu.Unlock()
		h.logger.Info("agent disconnected", zap.String("agent", name))
	}()

	return peer.Run(ctx)
}

// Acquire reserves a page engine. An empty agent name launches a local tab
// on startURL; otherwise the named remote agent is navigated to startURL
// when one is given. sink receives recorded steps.
func (h *Hub) Acquire(ctx context.Context, agentName, startURL string, sink func(models.Step)) (*Endpoint, error) {
	if agentName != "" {
		h.mu.Lock()
		ep, ok := h.agents[agentName]
		h.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
		}
		if err := ep.acquire(sink); err != nil {
			return nil, err
		}
		if startURL != "" {
			if err := ep.client.Navigate(ctx, startURL); err != nil {
				ep.release()
				return nil, fmt.Errorf("navigate agent %s: %w", agentName, err)
			}
		}
		return ep, nil
	}

	if h.launch == nil {
		return nil, errors.New("no local browser launcher configured")
	}
	local, err := h.launch(ctx, startURL)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	ep := &Endpoint{Name: "local"}
	orchestrator, engine := transport.Pipe(ep, local)
	local.Bind(engine)
	ep.client = transport.NewClient(orchestrator)
	ep.close = func() error {
		err := local.Close(context.Background())
		orchestrator.Close()
		return err
	}
	ep.acquire(sink)
	return ep, nil
}

// Release returns an endpoint. Local tabs are closed.
func (h *Hub) Release(ep *Endpoint) {
	ep.release()
	if ep.Remote {
		return
	}
	if err := ep.close(); err != nil {
		h.logger.Warn("close local browser", zap.Error(err))
	}
}
