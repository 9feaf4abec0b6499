// Package browser launches headless Chrome sessions for scrape jobs. Every
// job gets a fresh browser process so a crashed or poisoned renderer never
// leaks state into the next attempt.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Page is a single browser tab.
type Page interface {
	// Navigate loads the URL and waits for the document to settle.
	Navigate(ctx context.Context, url string) error
	// Content returns the rendered DOM as HTML.
	Content(ctx context.Context) (string, error)
	Close() error
}

// Session is a running browser process.
type Session interface {
	NewPage() (Page, error)
	Close() error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Config controls how sessions are launched.
type Config struct {
	NavigationTimeout time.Duration
	// Settle is how long to wait after the document is ready, giving
	// late-loading ad markup a chance to attach.
	Settle time.Duration
	Proxies *ProxyPool
}

// Service implements Launcher with chromedp and headless Chrome.
type Service struct {
	cfg    Config
	logger *zap.Logger
}

// NewService creates a chromedp-backed launcher.
func NewService(cfg Config, logger *zap.Logger) *Service {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	return &Service{cfg: cfg, logger: logger}
}

// Launch starts a fresh Chrome process. A proxy is picked at random from the
// pool when one is available, and every session gets a random user agent.
func (s *Service) Launch(ctx context.Context) (Session, error) {
	ua := RandomUserAgent()
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(ua),
	)
	if proxy := s.cfg.Proxies.Random(); proxy != "" {
		s.logger.Debug("launching browser through proxy", zap.String("proxy", proxy))
		opts = append(opts, chromedp.ProxyServer(proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &session{
		svc:           s,
		userAgent:     ua,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type session struct {
	svc           *Service
	userAgent     string
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

func (s *session) NewPage() (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	return &page{svc: s.svc, userAgent: s.userAgent, tabCtx: tabCtx, tabCancel: tabCancel}, nil
}

func (s *session) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

type page struct {
	svc       *Service
	userAgent string
	tabCtx    context.Context
	tabCancel context.CancelFunc
}

func (p *page) Navigate(ctx context.Context, url string) error {
	taskCtx, cancel := context.WithTimeout(p.tabCtx, p.svc.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(p.userAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(p.svc.cfg.Settle),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (p *page) Content(ctx context.Context) (string, error) {
	taskCtx, cancel := context.WithTimeout(p.tabCtx, p.svc.cfg.NavigationTimeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

func (p *page) Close() error {
	p.tabCancel()
	return nil
}

// forwardCancel propagates cancellation of the caller's context into a
// chromedp task context, which is derived from the browser rather than the
// caller.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
