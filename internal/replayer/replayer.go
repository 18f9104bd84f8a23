// Package replayer executes click and input steps against the live page.
package replayer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stepflow/internal/locator"
	"stepflow/internal/models"
	"stepflow/internal/pagescript"
)

type Options struct {
	// Timeout bounds how long a locator is polled for a visible match.
	Timeout      time.Duration
	PollInterval time.Duration
	// Settle is the pause after scrolling an element into view.
	Settle    time.Duration
	Highlight time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:      10 * time.Second,
		PollInterval: 100 * time.Millisecond,
		Settle:       200 * time.Millisecond,
		Highlight:    500 * time.Millisecond,
	}
}

type Engine struct {
	page   pagescript.Page
	logger *zap.Logger
	opts   Options
}

func New(page pagescript.Page, logger *zap.Logger, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Settle < 0 {
		opts.Settle = 0
	}
	if opts.Highlight <= 0 {
		opts.Highlight = def.Highlight
	}
	return &Engine{page: page, logger: logger, opts: opts}
}

// Resolved describes the element a locator resolved to. The element itself
// stays in the page, held by the engine until the next resolution.
type Resolved struct {
	Found bool   `json:"found"`
	Index int    `json:"index"`
	Tag   string `json:"tagName"`
}

type actionResult struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason"`
	Fallback bool   `json:"fallback"`
	Kind     string `json:"kind"`
}

// ExecuteStep performs one click or input step. Navigation and waits are
// sequenced by the caller and rejected here like any other unknown type.
func (e *Engine) ExecuteStep(ctx context.Context, step models.Step) error {
	switch step.Type {
	case models.StepClick:
		return e.click(ctx, step.Selector)
	case models.StepInput:
		return e.input(ctx, step.Selector, step.Value)
	default:
		return &UnknownStepTypeError{Type: step.Type}
	}
}

// ResolveElement polls every alternative of loc until one matches a visible
// element or timeout elapses.
func (e *Engine) ResolveElement(ctx context.Context, loc string, timeout time.Duration) (Resolved, error) {
	alts := locator.Parse(loc)
	if len(alts) == 0 {
		return Resolved{}, &ElementNotFoundError{Locator: loc}
	}
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	deadline := time.Now().Add(timeout)
	expr := pagescript.Call("resolve", alts)
	for attempt := 1; ; attempt++ {
		var res Resolved
		err := e.page.Evaluate(ctx, expr, &res)
		switch {
		case err == nil && res.Found:
			alt := loc
			if res.Index >= 0 && res.Index < len(alts) {
				alt = alts[res.Index].Raw
			}
			e.logger.Debug("element resolved",
				zap.String("locator", loc),
				zap.String("alternative", alt),
				zap.Int("attempts", attempt),
			)
			return res, nil
		case err != nil:
			// A navigation can replace the document between polls.
			e.logger.Debug("resolve failed, reinstalling engine", zap.Error(err))
			if ierr := pagescript.Install(ctx, e.page); ierr != nil {
				e.logger.Debug("reinstall failed", zap.Error(ierr))
			}
		}

		if !time.Now().Before(deadline) {
			return Resolved{}, &ElementNotFoundError{Locator: loc}
		}
		if err := sleep(ctx, e.opts.PollInterval); err != nil {
			return Resolved{}, err
		}
	}
}

func (e *Engine) click(ctx context.Context, loc string) error {
	if err := e.prepare(ctx, loc); err != nil {
		return err
	}
	var res actionResult
	if err := e.page.Evaluate(ctx, pagescript.Call("click"), &res); err != nil {
		return fmt.Errorf("click %s: %w", loc, err)
	}
	if !res.OK {
		return &ElementNotFoundError{Locator: loc}
	}
	if res.Fallback {
		e.logger.Debug("native click failed, dispatched synthetic click", zap.String("locator", loc))
	}
	return nil
}

func (e *Engine) input(ctx context.Context, loc, value string) error {
	if err := e.prepare(ctx, loc); err != nil {
		return err
	}
	var res actionResult
	if err := e.page.Evaluate(ctx, pagescript.Call("input", value), &res); err != nil {
		return fmt.Errorf("input into %s: %w", loc, err)
	}
	if !res.OK {
		return &ElementNotFoundError{Locator: loc}
	}
	e.logger.Debug("value set", zap.String("locator", loc), zap.String("kind", res.Kind))
	return nil
}

// prepare resolves the element, scrolls it into view, lets layout settle
// and highlights it for the configured duration.
func (e *Engine) prepare(ctx context.Context, loc string) error {
	if _, err := e.ResolveElement(ctx, loc, e.opts.Timeout); err != nil {
		return err
	}

	var res actionResult
	if err := e.page.Evaluate(ctx, pagescript.Call("scroll"), &res); err != nil {
		e.logger.Debug("scroll into view failed", zap.Error(err))
	}
	if err := sleep(ctx, e.opts.Settle); err != nil {
		return err
	}
	if err := e.page.Evaluate(ctx, pagescript.Call("highlight", e.opts.Highlight.Milliseconds()), &res); err != nil {
		e.logger.Debug("highlight failed", zap.Error(err))
		return nil
	}
	// The action fires once the highlight has been on screen for its full
	// duration.
	return sleep(ctx, e.opts.Highlight)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
