package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Peer is an RPC endpoint over a websocket. Both sides of a link use the same
// type; either may call and notify the other.
type Peer struct {
	ws      *websocket.Conn
	handler Handler
	logger  *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPeer wraps an established websocket. Run must be called to start
// reading.
func NewPeer(ws *websocket.Conn, handler Handler, logger *zap.Logger) *Peer {
	return &Peer{
		ws:      ws,
		handler: handler,
		logger:  logger,
		pending: make(map[string]chan Envelope),
		closed:  make(chan struct{}),
	}
}

// Run reads frames until the connection fails or ctx is done. Requests are
// served concurrently; notifications are handled in arrival order.
func (p *Peer) Run(ctx context.Context) error {
	defer p.Close()

	p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go p.keepalive(ctx)

	for {
		var env Envelope
		if err := p.ws.ReadJSON(&env); err != nil {
			select {
			case <-p.closed:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		switch {
		case env.Method != "" && env.ID != "":
			go p.serve(ctx, env)
		case env.Method != "":
			if _, err := p.dispatch(ctx, env); err != nil {
				p.logger.Warn("notification failed", zap.String("method", string(env.Method)), zap.Error(err))
			}
		case env.ID != "":
			p.deliver(env)
		default:
			p.logger.Debug("ignoring empty frame")
		}
	}
}

func (p *Peer) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Close()
			return
		case <-p.closed:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			p.writeMu.Unlock()
			if err != nil {
				p.logger.Debug("ping failed", zap.Error(err))
				p.Close()
				return
			}
		}
	}
}

func (p *Peer) dispatch(ctx context.Context, env Envelope) (any, error) {
	if p.handler == nil {
		return nil, ErrReceiverMissing
	}
	return p.handler.Handle(ctx, env.Method, env.Params)
}

func (p *Peer) serve(ctx context.Context, env Envelope) {
	reply := Envelope{ID: env.ID}
	res, err := p.dispatch(ctx, env)
	if err != nil {
		reply.Error = ToWire(err)
	} else if reply.Result, err = encode(res); err != nil {
		reply.Error = ToWire(err)
	}
	if err := p.write(reply); err != nil {
		p.logger.Debug("reply failed", zap.String("method", string(env.Method)), zap.Error(err))
	}
}

func (p *Peer) deliver(env Envelope) {
	p.mu.Lock()
	ch, ok := p.pending[env.ID]
	delete(p.pending, env.ID)
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("response for unknown request", zap.String("id", env.ID))
		return
	}
	ch <- env
}

func (p *Peer) write(env Envelope) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteJSON(env)
}

func (p *Peer) Call(ctx context.Context, method Method, params, result any) error {
	raw, err := encode(params)
	if err != nil {
		return err
	}

	id := uuid.New().String()
	ch := make(chan Envelope, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.write(Envelope{ID: id, Method: method, Params: raw}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closed:
		return ErrClosed
	case env := <-ch:
		if env.Error != nil {
			return env.Error.Err()
		}
		return decode(env.Result, result)
	}
}

func (p *Peer) Notify(_ context.Context, method Method, params any) error {
	raw, err := encode(params)
	if err != nil {
		return err
	}
	return p.write(Envelope{Method: method, Params: raw})
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		p.writeMu.Lock()
		p.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		p.writeMu.Unlock()
		err = p.ws.Close()
	})
	return err
}

func (p *Peer) Done() <-chan struct{} { return p.closed }
