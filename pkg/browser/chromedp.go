package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpPage is a Page backed by a chromedp tab context.
type ChromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func openChromedp(ctx context.Context, opts Options, logger *zap.Logger) (*ChromedpPage, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		flags := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(opts.ExecPath),
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-gpu", opts.Headless),
			chromedp.Flag("disable-extensions", true),
			chromedp.Flag("disable-background-timer-throttling", true),
			chromedp.Flag("disable-backgrounding-occluded-windows", true),
			chromedp.Flag("disable-renderer-backgrounding", true),
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.Flag("no-first-run", true),
			chromedp.Flag("disable-sync", true),
			chromedp.Flag("no-pings", true),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), flags...)
	}

	sugar := logger.Sugar()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)
	p := &ChromedpPage{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	dev, err := opts.emulation()
	if err != nil {
		p.cancel()
		return nil, err
	}
	// The first Run starts the browser.
	if err := p.run(ctx, emulate(dev)); err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	logger.Info("✅ browser tab ready",
		zap.Bool("remote", opts.RemoteURL != ""),
		zap.Bool("headless", opts.Headless),
		zap.String("device", dev.Name),
	)
	return p, nil
}

// emulate applies the device metrics, touch support and user agent of dev.
// A zero viewport keeps the window's own size.
func emulate(dev Device) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if dev.Width > 0 && dev.Height > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(dev.Width), int64(dev.Height), dev.DevicePixelRatio, dev.Mobile).
				WithScreenWidth(int64(dev.Width)).
				WithScreenHeight(int64(dev.Height)).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("device metrics: %w", err)
			}
		}
		if dev.Touch {
			if err := emulation.SetTouchEmulationEnabled(true).WithMaxTouchPoints(5).Do(ctx); err != nil {
				return fmt.Errorf("touch emulation: %w", err)
			}
		}
		if dev.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(dev.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("user agent: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the tab while honouring cancellation of the
// caller's context, without tying the tab's lifetime to it.
func (p *ChromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *ChromedpPage) Evaluate(ctx context.Context, expression string, out any) error {
	return p.run(ctx, chromedp.Evaluate(expression, out, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
}

func (p *ChromedpPage) AddInitScript(ctx context.Context, source string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

func (p *ChromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (p *ChromedpPage) Info(ctx context.Context) (PageInfo, error) {
	var info PageInfo
	err := p.run(ctx,
		chromedp.Location(&info.URL),
		chromedp.Title(&info.Title),
	)
	return info, err
}

func (p *ChromedpPage) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}
