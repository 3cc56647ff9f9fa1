package vantage

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.opentelemetry.io/otel/codes"
)

// RendererOptions configures the headless browser fallback. Some
// portal deployments fill the account overview in client side, so the
// plain http snapshot comes back without the markers the selectors
// need. The renderer loads the same page in Chrome and hands back the
// settled DOM.
type RendererOptions struct {
	// Bin points at a Chrome binary. Empty lets the launcher find one.
	Bin string
	// ControlUrl attaches to an already running browser instead of
	// launching one.
	ControlUrl string
	Headless   bool
	// NavTimeout bounds a single page load, 30s when zero.
	NavTimeout time.Duration
}

// Renderer owns one browser process shared by every render call. The
// browser starts lazily on first use.
type Renderer struct {
	opts RendererOptions

	mu      sync.Mutex
	browser *rod.Browser
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	return &Renderer{opts: opts}
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		if _, err := r.browser.Version(); err == nil {
			return r.browser, nil
		}
		_ = r.browser.Close()
		r.browser = nil
	}

	controlUrl := r.opts.ControlUrl
	if controlUrl == "" {
		launch := launcher.New().Headless(r.opts.Headless)
		if r.opts.Bin != "" {
			launch = launch.Bin(r.opts.Bin)
		}
		u, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlUrl = u
	}

	browser := rod.New().ControlURL(controlUrl)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	r.browser = browser
	return browser, nil
}

func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

// RenderAccountPage loads the account status page in a fresh incognito
// context carrying the client's portal session cookies, waits for the
// overview to appear and returns the rendered DOM as a snapshot.
func (r *Renderer) RenderAccountPage(ctx context.Context, client *Client, identifier string) (*Snapshot, error) {
	ctx, span := tracer.Start(ctx, "renderer:RenderAccountPage")
	defer span.End()

	pageUrl := client.AccountPageUrl(identifier)
	snap, err := r.renderPage(ctx, client.cookies(), pageUrl, "#account-overview, .no-results")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render account page")
		return nil, Transient("render account page", err)
	}
	if isLoginPage(snap) {
		return nil, ErrSessionInvalidated
	}
	return snap, nil
}

func (r *Renderer) renderPage(ctx context.Context, cookies []*http.Cookie, pageUrl, readySelector string) (*Snapshot, error) {
	browser, err := r.connect()
	if err != nil {
		return nil, err
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer page.Close()

	if len(cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &proto.NetworkCookieParam{
				Name:   c.Name,
				Value:  c.Value,
				URL:    pageUrl,
				Path:   "/",
				Secure: c.Secure,
			})
		}
		if err := page.SetCookies(params); err != nil {
			return nil, fmt.Errorf("replay session cookies: %w", err)
		}
	}

	page = page.Context(ctx).Timeout(r.opts.NavTimeout)
	if err := page.Navigate(pageUrl); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageUrl, err)
	}
	// Element blocks until the page settles enough to show either the
	// overview or the empty search marker.
	if _, err := page.Element(readySelector); err != nil {
		return nil, fmt.Errorf("wait for %q on %s: %w", readySelector, pageUrl, err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read rendered dom: %w", err)
	}
	return NewSnapshot(pageUrl, 200, []byte(html))
}
