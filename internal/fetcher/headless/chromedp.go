package headless

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/product"
)

// DefaultBlockedResourceTypes are aborted when a site enables resource blocking.
var DefaultBlockedResourceTypes = []string{"image", "stylesheet", "font", "media"}

var configToResourceType = map[string]network.ResourceType{
	"image":      network.ResourceTypeImage,
	"stylesheet": network.ResourceTypeStylesheet,
	"font":       network.ResourceTypeFont,
	"media":      network.ResourceTypeMedia,
	"script":     network.ResourceTypeScript,
	"xhr":        network.ResourceTypeXHR,
	"fetch":      network.ResourceTypeFetch,
	"websocket":  network.ResourceTypeWebSocket,
	"manifest":   network.ResourceTypeManifest,
	"other":      network.ResourceTypeOther,
}

const pausedRequestTimeout = 2 * time.Second

// chromeSession owns one exec allocator and one tab. Nothing in it is shared
// with other fetches.
type chromeSession struct {
	cfg       SessionConfig
	logger    *zap.Logger
	blocked   map[network.ResourceType]struct{}
	lifecycle *lifecycleWaiter

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

func newChromeSession(cfg SessionConfig) Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	// Names were validated by NewChromedp.
	blocked, _ := resourceTypes(cfg.BlockedTypes)
	return &chromeSession{
		cfg:       cfg,
		logger:    logger,
		blocked:   blocked,
		lifecycle: newLifecycleWaiter(),
	}
}

// Launch starts Chrome and prepares the tab. Cancelling ctx while launching
// tears the browser down; later operations carry their own contexts.
func (s *chromeSession) Launch(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s.allocCancel = allocCancel
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel
	stop := forwardCancel(ctx, tabCancel)
	defer stop()

	chromedp.ListenTarget(tabCtx, s.handleEvent)

	// The first Run allocates the browser and must use the tab context itself.
	if err := chromedp.Run(tabCtx, s.setupActions()...); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	return nil
}

func (s *chromeSession) setupActions() []chromedp.Action {
	actions := []chromedp.Action{
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
		emulation.SetUserAgentOverride(s.cfg.UserAgent),
	}
	if len(s.blocked) > 0 {
		actions = append(actions, fetch.Enable())
	}
	return actions
}

// Navigate loads rawURL and blocks until the lifecycle event for wait fires.
func (s *chromeSession) Navigate(ctx context.Context, rawURL string, wait product.WaitCondition) error {
	runCtx, cancel := s.scoped(ctx)
	defer cancel()

	event := lifecycleEventName(wait)
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, loaderID, errorText, _, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if errorText != "" {
			return fmt.Errorf("navigate: %s", errorText)
		}
		return s.lifecycle.wait(ctx, string(loaderID), event)
	}))
	if err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// WaitVisible blocks until selector matches a visible element.
func (s *chromeSession) WaitVisible(ctx context.Context, selector string) error {
	runCtx, cancel := s.scoped(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

// Content serializes the whole document, or only the body subtree.
func (s *chromeSession) Content(ctx context.Context, bodyOnly bool) (string, error) {
	runCtx, cancel := s.scoped(ctx)
	defer cancel()

	root := "html"
	if bodyOnly {
		root = "body"
	}
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML(root, &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Close shuts the browser down. It is idempotent and a no-op before Launch.
func (s *chromeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.tabCtx == nil {
			return
		}
		if cerr := chromedp.Cancel(s.tabCtx); cerr != nil {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.tabCancel()
		s.allocCancel()
	})
	return err
}

// scoped derives a context from the tab that honors ctx's deadline and cancellation.
func (s *chromeSession) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.tabCtx == nil {
		return ctx, func() {}
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.tabCtx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.tabCtx)
	}
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) handleEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventLifecycleEvent:
		s.lifecycle.record(string(e.LoaderID), e.Name)
	case *fetch.EventRequestPaused:
		go s.resolvePaused(e)
	}
}

// resolvePaused aborts blocked sub-resources and lets everything else through.
// The document itself is never blocked.
func (s *chromeSession) resolvePaused(ev *fetch.EventRequestPaused) {
	ctx, cancel := context.WithTimeout(s.tabCtx, pausedRequestTimeout)
	defer cancel()

	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, c.Target)

	if s.shouldBlock(ev.ResourceType) {
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
			s.logger.Debug("failed to block request", zap.String("request", ev.Request.URL), zap.Error(err))
		}
		return
	}
	if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
		s.logger.Debug("failed to continue request", zap.String("request", ev.Request.URL), zap.Error(err))
	}
}

func (s *chromeSession) shouldBlock(rt network.ResourceType) bool {
	if rt == network.ResourceTypeDocument {
		return false
	}
	_, ok := s.blocked[rt]
	return ok
}

func resourceTypes(names []string) (map[network.ResourceType]struct{}, error) {
	out := make(map[network.ResourceType]struct{}, len(names))
	for _, name := range names {
		rt, ok := configToResourceType[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown resource type %q", name)
		}
		out[rt] = struct{}{}
	}
	return out, nil
}

func lifecycleEventName(wait product.WaitCondition) string {
	if wait == product.WaitDOMContentLoaded {
		return "DOMContentLoaded"
	}
	return "networkIdle"
}

// forwardCancel calls cancel when parent finishes. The returned func stops forwarding.
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
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
