// Package browser drives a single Chromium tab over the DevTools protocol,
// through either chromedp or go-rod.
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Page is one browser tab the page engine is attached to.
type Page interface {
	// Evaluate runs a JavaScript expression in the page, awaiting a returned
	// promise, and decodes the JSON value of the result into out (which may
	// be nil).
	Evaluate(ctx context.Context, expression string, out any) error
	// AddInitScript registers a script that runs in every new document
	// before page scripts.
	AddInitScript(ctx context.Context, source string) error
	Navigate(ctx context.Context, url string) error
	Info(ctx context.Context) (PageInfo, error)
	Close() error
}

// PageInfo is the diagnostic identity of the current document.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Options configures how a tab is obtained.
type Options struct {
	Driver    string
	ExecPath  string
	Headless  bool
	RemoteURL string // attach to an already running Chrome instead of launching
	Stealth   bool
	UserAgent string
	Width     int
	Height    int
	// Device names a preset from Devices; it wins over Width and Height.
	Device string
}

// Open launches (or attaches to) a browser and returns a tab on startURL.
// An empty startURL leaves the tab on about:blank.
func Open(ctx context.Context, opts Options, startURL string, logger *zap.Logger) (Page, error) {
	if opts.RemoteURL == "" && opts.ExecPath == "" {
		opts.ExecPath = GetChromePath()
		if opts.ExecPath == "" {
			return nil, fmt.Errorf("Chrome browser not found. Please install Google Chrome or Chromium")
		}
	}

	if _, err := opts.emulation(); err != nil {
		return nil, err
	}

	var (
		page Page
		err  error
	)
	switch opts.Driver {
	case "", DriverChromedp:
		page, err = openChromedp(ctx, opts, logger.Named("chromedp"))
	case DriverRod:
		page, err = openRod(ctx, opts, logger.Named("rod"))
	default:
		return nil, fmt.Errorf("unknown browser driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if startURL != "" {
		if err := page.Navigate(ctx, startURL); err != nil {
			page.Close()
			return nil, fmt.Errorf("navigate to %s: %w", startURL, err)
		}
	}
	return page, nil
}
