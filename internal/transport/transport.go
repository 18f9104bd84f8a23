package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned for calls on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Handler serves the requests and notifications arriving on a connection.
// The result of a notification is discarded.
type Handler interface {
	Handle(ctx context.Context, method Method, params json.RawMessage) (any, error)
}

type HandlerFunc func(ctx context.Context, method Method, params json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, method Method, params json.RawMessage) (any, error) {
	return f(ctx, method, params)
}

// Conn is one end of an RPC link.
type Conn interface {
	Call(ctx context.Context, method Method, params, result any) error
	Notify(ctx context.Context, method Method, params any) error
	Close() error
	// Done is closed when the link goes away.
	Done() <-chan struct{}
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

func decode(raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// local is an in-process endpoint. Values still travel as JSON so both
// transports behave the same.
type local struct {
	peer    *local
	handler Handler

	once   *sync.Once
	closed chan struct{}
}

// Pipe connects two in-process endpoints: calls made on a are served by hb
// and calls made on b by ha.
func Pipe(ha, hb Handler) (a, b Conn) {
	once := &sync.Once{}
	closed := make(chan struct{})
	la := &local{handler: ha, once: once, closed: closed}
	lb := &local{handler: hb, once: once, closed: closed}
	la.peer, lb.peer = lb, la
	return la, lb
}

func (l *local) Call(ctx context.Context, method Method, params, result any) error {
	select {
	case <-l.closed:
		return ErrClosed
	default:
	}
	if l.peer.handler == nil {
		return ErrReceiverMissing
	}
	raw, err := encode(params)
	if err != nil {
		return err
	}
	res, err := l.peer.handler.Handle(ctx, method, raw)
	if err != nil {
		return ToWire(err).Err()
	}
	out, err := encode(res)
	if err != nil {
		return err
	}
	return decode(out, result)
}

func (l *local) Notify(ctx context.Context, method Method, params any) error {
	return l.Call(ctx, method, params, nil)
}

func (l *local) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *local) Done() <-chan struct{} { return l.closed }
