package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// RodPage is a Page backed by go-rod.
type RodPage struct {
	browser *rod.Browser
	page    *rod.Page
	owned   bool
	logger  *zap.Logger
}

func openRod(ctx context.Context, opts Options, logger *zap.Logger) (*RodPage, error) {
	var controlURL string
	owned := opts.RemoteURL == ""
	if owned {
		l := launcher.New().
			Bin(opts.ExecPath).
			Leakless(true).
			Headless(opts.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		controlURL = u
	} else {
		u, err := launcher.ResolveURL(opts.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", opts.RemoteURL, err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	var (
		page *rod.Page
		err  error
	)
	if opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		if owned {
			b.Close()
		}
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	dev, err := opts.emulation()
	if err != nil {
		if owned {
			b.Close()
		}
		return nil, err
	}
	if dev.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: dev.UserAgent}); err != nil {
			logger.Warn("user agent override failed", zap.Error(err))
		}
	}
	if dev.Width > 0 && dev.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             dev.Width,
			Height:            dev.Height,
			DeviceScaleFactor: dev.DevicePixelRatio,
			Mobile:            dev.Mobile,
		}); err != nil {
			logger.Warn("viewport override failed", zap.Error(err))
		}
	}
	if dev.Touch {
		maxPoints := 5
		if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: true, MaxTouchPoints: &maxPoints}).Call(page); err != nil {
			logger.Warn("touch emulation failed", zap.Error(err))
		}
	}

	logger.Info("✅ browser tab ready", zap.Bool("remote", !owned), zap.Bool("stealth", opts.Stealth), zap.String("device", dev.Name))
	return &RodPage{browser: b, page: page, owned: owned, logger: logger}, nil
}

func (p *RodPage) Evaluate(ctx context.Context, expression string, out any) error {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval("() => (" + expression + ")").ByPromise())
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return res.Value.Unmarshal(out)
}

func (p *RodPage) AddInitScript(ctx context.Context, source string) error {
	_, err := p.page.Context(ctx).EvalOnNewDocument(source)
	return err
}

func (p *RodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return err
	}
	return pg.WaitLoad()
}

func (p *RodPage) Info(ctx context.Context) (PageInfo, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return PageInfo{}, err
	}
	return PageInfo{URL: info.URL, Title: info.Title}, nil
}

func (p *RodPage) Close() error {
	if p.owned {
		return p.browser.Close()
	}
	return p.page.Close()
}
