// Package headless contains the fetcher that renders pages in a headless browser.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/product"
)

// DefaultUserAgent is a desktop Chrome user agent. A fixed value keeps targets
// from serving bot-specific markup.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const (
	defaultLaunchTimeout     = 30 * time.Second
	defaultNavigationTimeout = 45 * time.Second
	defaultSelectorTimeout   = 20 * time.Second
	defaultContentTimeout    = 10 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel          int
	UserAgent            string
	ExecPath             string
	LaunchTimeout        time.Duration
	NavigationTimeout    time.Duration
	SelectorTimeout      time.Duration
	BlockedResourceTypes []string
}

// Session is one isolated browser instance. Close must be safe to call in any
// state, including before or after a failed Launch.
type Session interface {
	Launch(ctx context.Context) error
	Navigate(ctx context.Context, rawURL string, wait product.WaitCondition) error
	WaitVisible(ctx context.Context, selector string) error
	Content(ctx context.Context, bodyOnly bool) (string, error)
	Close() error
}

// SessionConfig is handed to the session factory for every fetch.
type SessionConfig struct {
	UserAgent    string
	ExecPath     string
	BlockedTypes []string
	Logger       *zap.Logger
}

// SessionFactory creates an idle session that holds no browser resources yet.
type SessionFactory func(cfg SessionConfig) Session

// Fetcher implements product.Fetcher with one fresh browser per call.
type Fetcher struct {
	cfg        Config
	limiter    chan struct{}
	newSession SessionFactory
	logger     *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if _, err := resourceTypes(cfg.BlockedResourceTypes); err != nil {
		return nil, err
	}
	return New(cfg, newChromeSession, logger)
}

// New creates a fetcher around an arbitrary session factory.
func New(cfg Config, factory SessionFactory, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Fetcher{
		cfg:        cfg,
		limiter:    limiter,
		newSession: factory,
		logger:     logger,
	}, nil
}

// Fetch launches a browser, navigates to the URL, applies the wait policy and
// returns the serialized document. The browser is torn down exactly once on
// every path out of this method.
func (f *Fetcher) Fetch(ctx context.Context, request product.FetchRequest) (string, error) {
	// No session exists yet, so there is nothing to tear down on this path.
	if err := f.acquire(ctx); err != nil {
		return "", product.NewError(product.KindLaunchFailure, "no browser slot available", err)
	}
	defer f.release()

	opts := request.Options
	logger := f.logger.With(zap.String("url", request.URL), zap.String("site", request.Site))

	session := f.newSession(f.sessionConfig(opts, logger))
	defer f.teardown(session, logger)

	start := time.Now()
	if err := f.launch(ctx, session); err != nil {
		logger.Error("browser launch failed", zap.Error(err))
		return "", err
	}

	if err := f.navigate(ctx, session, request); err != nil {
		return "", err
	}
	if opts.WaitSelector != "" {
		if err := f.waitSelector(ctx, session, opts); err != nil {
			return "", err
		}
	}

	contentCtx, cancel := context.WithTimeout(ctx, defaultContentTimeout)
	defer cancel()
	html, err := session.Content(contentCtx, opts.BodyOnly)
	if err != nil {
		return "", product.NewError(product.KindEmptyContent, "read document", err)
	}
	if len(strings.TrimSpace(html)) < opts.MinLength() {
		logger.Warn("document below minimum length", zap.Int("length", len(html)))
		return "", product.NewError(
			product.KindEmptyContent,
			fmt.Sprintf("document has %d characters, need %d", len(html), opts.MinLength()),
			nil,
		)
	}

	logger.Info("page rendered",
		zap.Int("bytes", len(html)),
		zap.Duration("duration", time.Since(start)),
	)
	return html, nil
}

func (f *Fetcher) launch(ctx context.Context, session Session) error {
	timeout := f.launchTimeout()
	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := session.Launch(launchCtx)
	if err == nil {
		return nil
	}
	if deadlineHit(launchCtx, err) {
		return product.NewError(product.KindLaunchFailure, fmt.Sprintf("no browser after %s", timeout), err)
	}
	return product.NewError(product.KindLaunchFailure, "", err)
}

func (f *Fetcher) navigate(ctx context.Context, session Session, request product.FetchRequest) error {
	timeout := f.navTimeout(request.Options)
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := request.Options.WaitUntil
	if wait == "" {
		wait = product.WaitNetworkIdle
	}
	err := session.Navigate(navCtx, request.URL, wait)
	if err == nil {
		return nil
	}
	if deadlineHit(navCtx, err) {
		return product.NewError(product.KindNavigationTimeout, fmt.Sprintf("after %s", timeout), err)
	}
	return product.NewError(product.KindNavigationFailed, "", err)
}

func (f *Fetcher) waitSelector(ctx context.Context, session Session, opts product.FetchOptions) error {
	waitCtx, cancel := context.WithTimeout(ctx, f.selectorTimeout(opts))
	defer cancel()

	if err := session.WaitVisible(waitCtx, opts.WaitSelector); err != nil {
		return product.NewError(product.KindSelectorNotFound, opts.WaitSelector, err)
	}
	return nil
}

func (f *Fetcher) teardown(session Session, logger *zap.Logger) {
	if err := session.Close(); err != nil {
		logger.Warn("browser teardown failed", zap.Error(err))
		return
	}
	logger.Debug("browser closed")
}

func (f *Fetcher) sessionConfig(opts product.FetchOptions, logger *zap.Logger) SessionConfig {
	cfg := SessionConfig{
		UserAgent: f.cfg.UserAgent,
		ExecPath:  f.cfg.ExecPath,
		Logger:    logger,
	}
	if opts.BlockResources {
		cfg.BlockedTypes = f.cfg.BlockedResourceTypes
		if len(cfg.BlockedTypes) == 0 {
			cfg.BlockedTypes = DefaultBlockedResourceTypes
		}
	}
	return cfg
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) launchTimeout() time.Duration {
	if f.cfg.LaunchTimeout > 0 {
		return f.cfg.LaunchTimeout
	}
	return defaultLaunchTimeout
}

func (f *Fetcher) navTimeout(opts product.FetchOptions) time.Duration {
	switch {
	case opts.NavigationTimeout > 0:
		return opts.NavigationTimeout
	case f.cfg.NavigationTimeout > 0:
		return f.cfg.NavigationTimeout
	default:
		return defaultNavigationTimeout
	}
}

func (f *Fetcher) selectorTimeout(opts product.FetchOptions) time.Duration {
	switch {
	case opts.SelectorTimeout > 0:
		return opts.SelectorTimeout
	case f.cfg.SelectorTimeout > 0:
		return f.cfg.SelectorTimeout
	default:
		return defaultSelectorTimeout
	}
}

func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
