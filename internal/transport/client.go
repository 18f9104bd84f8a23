package transport

import (
	"context"

	"stepflow/internal/models"
	"stepflow/pkg/browser"
)

// Client is the orchestrator's typed view of a page engine.
type Client struct {
	conn Conn
}

func NewClient(conn Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Conn() Conn { return c.conn }

func (c *Client) Ping(ctx context.Context) error {
	var pong Pong
	return c.conn.Call(ctx, MethodPing, nil, &pong)
}

func (c *Client) Install(ctx context.Context) error {
	var ack Ack
	return c.conn.Call(ctx, MethodInstall, nil, &ack)
}

func (c *Client) RecordingStarted(ctx context.Context) error {
	var ack Ack
	return c.conn.Call(ctx, MethodRecordingStarted, nil, &ack)
}

func (c *Client) RecordingStopped(ctx context.Context) error {
	var ack Ack
	return c.conn.Call(ctx, MethodRecordingStopped, nil, &ack)
}

func (c *Client) ExecuteStep(ctx context.Context, step models.Step) error {
	var ack Ack
	return c.conn.Call(ctx, MethodExecuteStep, ExecuteStepParams{Step: step}, &ack)
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	var ack Ack
	return c.conn.Call(ctx, MethodNavigate, NavigateParams{URL: url}, &ack)
}

func (c *Client) GetPageInfo(ctx context.Context) (browser.PageInfo, error) {
	var info browser.PageInfo
	err := c.conn.Call(ctx, MethodGetPageInfo, nil, &info)
	return info, err
}

func (c *Client) Close() error { return c.conn.Close() }
