package headless

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/product"
)

type fakeSession struct {
	mu          sync.Mutex
	launchErr   error
	blockLaunch bool
	navigateErr error
	blockNav    bool
	waitErr     error
	blockWait   bool
	html        string
	contentErr  error
	cfg         SessionConfig
	closes      int
	navigated   string
	waitedFor   product.WaitCondition
	selectorSet string
}

func (s *fakeSession) Launch(ctx context.Context) error {
	if s.blockLaunch {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.launchErr
}

func (s *fakeSession) Navigate(ctx context.Context, rawURL string, wait product.WaitCondition) error {
	s.mu.Lock()
	s.navigated = rawURL
	s.waitedFor = wait
	s.mu.Unlock()
	if s.blockNav {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.navigateErr
}

func (s *fakeSession) WaitVisible(ctx context.Context, selector string) error {
	s.mu.Lock()
	s.selectorSet = selector
	s.mu.Unlock()
	if s.blockWait {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.waitErr
}

func (s *fakeSession) Content(context.Context, bool) (string, error) {
	return s.html, s.contentErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func newFakeFetcher(t *testing.T, session *fakeSession, cfg Config) *Fetcher {
	t.Helper()
	f, err := New(cfg, func(sc SessionConfig) Session {
		session.cfg = sc
		return session
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func validHTML() string {
	return "<html><body>" + strings.Repeat("<p>product</p>", 60) + "</body></html>"
}

func TestFetchTeardownOncePerOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		session  *fakeSession
		cfg      Config
		opts     product.FetchOptions
		wantKind product.Kind
	}{
		{
			name:     "launch failure",
			session:  &fakeSession{launchErr: errors.New("exec: chrome not found")},
			wantKind: product.KindLaunchFailure,
		},
		{
			name:     "launch hangs",
			session:  &fakeSession{blockLaunch: true},
			cfg:      Config{LaunchTimeout: 20 * time.Millisecond},
			opts:     product.FetchOptions{NavigationTimeout: 50 * time.Millisecond, SelectorTimeout: 50 * time.Millisecond},
			wantKind: product.KindLaunchFailure,
		},
		{
			name:     "navigation timeout",
			session:  &fakeSession{blockNav: true},
			opts:     product.FetchOptions{NavigationTimeout: 20 * time.Millisecond},
			wantKind: product.KindNavigationTimeout,
		},
		{
			name:     "navigation failed",
			session:  &fakeSession{navigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")},
			wantKind: product.KindNavigationFailed,
		},
		{
			name:    "selector timeout",
			session: &fakeSession{blockWait: true, html: validHTML()},
			opts: product.FetchOptions{
				WaitSelector:    "#product",
				SelectorTimeout: 20 * time.Millisecond,
			},
			wantKind: product.KindSelectorNotFound,
		},
		{
			name:     "empty content",
			session:  &fakeSession{html: "<html></html>"},
			wantKind: product.KindEmptyContent,
		},
		{
			name:     "content read failure",
			session:  &fakeSession{contentErr: errors.New("target closed")},
			wantKind: product.KindEmptyContent,
		},
		{
			name:    "success",
			session: &fakeSession{html: validHTML()},
			opts:    product.FetchOptions{WaitSelector: "#product"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeFetcher(t, tt.session, tt.cfg)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			html, err := f.Fetch(ctx, product.FetchRequest{
				URL:     "https://shop.test/item/42",
				Options: tt.opts,
			})
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if html != validHTML() {
					t.Fatalf("unexpected html %q", html)
				}
			} else if got := product.KindOf(err); got != tt.wantKind {
				t.Fatalf("expected kind %q, got %q (%v)", tt.wantKind, got, err)
			}
			if tt.session.closes != 1 {
				t.Fatalf("expected exactly one teardown, got %d", tt.session.closes)
			}
		})
	}
}

func TestFetchSelectorNotFoundCarriesSelector(t *testing.T) {
	t.Parallel()

	session := &fakeSession{waitErr: errors.New("not visible")}
	f := newFakeFetcher(t, session, Config{})
	_, err := f.Fetch(context.Background(), product.FetchRequest{
		URL:     "https://shop.test/item/1",
		Options: product.FetchOptions{WaitSelector: ".price"},
	})
	if product.DetailOf(err) != ".price" {
		t.Fatalf("expected selector detail, got %v", err)
	}
}

func TestFetchDefaultsWaitConditionToNetworkIdle(t *testing.T) {
	t.Parallel()

	session := &fakeSession{html: validHTML()}
	f := newFakeFetcher(t, session, Config{})
	if _, err := f.Fetch(context.Background(), product.FetchRequest{URL: "https://shop.test/a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.waitedFor != product.WaitNetworkIdle {
		t.Fatalf("expected network-idle default, got %q", session.waitedFor)
	}
	if session.navigated != "https://shop.test/a" {
		t.Fatalf("expected navigation to request URL, got %q", session.navigated)
	}
}

func TestFetchSessionConfig(t *testing.T) {
	t.Parallel()

	session := &fakeSession{html: validHTML()}
	f := newFakeFetcher(t, session, Config{UserAgent: "ua-test"})
	_, err := f.Fetch(context.Background(), product.FetchRequest{
		URL:     "https://shop.test/a",
		Options: product.FetchOptions{BlockResources: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.cfg.UserAgent != "ua-test" {
		t.Fatalf("expected user agent propagated, got %q", session.cfg.UserAgent)
	}
	if len(session.cfg.BlockedTypes) != len(DefaultBlockedResourceTypes) {
		t.Fatalf("expected default blocked types, got %v", session.cfg.BlockedTypes)
	}

	session = &fakeSession{html: validHTML()}
	f = newFakeFetcher(t, session, Config{})
	if _, err := f.Fetch(context.Background(), product.FetchRequest{URL: "https://shop.test/a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(session.cfg.BlockedTypes) != 0 {
		t.Fatalf("expected no blocking when disabled, got %v", session.cfg.BlockedTypes)
	}
	if session.cfg.UserAgent != DefaultUserAgent {
		t.Fatalf("expected default user agent, got %q", session.cfg.UserAgent)
	}
}

func TestFetchSlotWaitCanceled(t *testing.T) {
	t.Parallel()

	session := &fakeSession{html: validHTML()}
	f := newFakeFetcher(t, session, Config{MaxParallel: 1})
	f.limiter <- struct{}{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, product.FetchRequest{URL: "https://shop.test/a"})
	if product.KindOf(err) != product.KindLaunchFailure {
		t.Fatalf("expected launch failure, got %v", err)
	}
	if session.closes != 0 {
		t.Fatalf("no session should be created without a slot, got %d closes", session.closes)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxParallel: -1}, newChromeSession, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatal("expected error for missing factory")
	}
	if _, err := NewChromedp(Config{BlockedResourceTypes: []string{"pictures"}}, nil); err == nil {
		t.Fatal("expected error for unknown resource type")
	}
	f, err := NewChromedp(Config{MaxParallel: 2, BlockedResourceTypes: []string{"Image", "font"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cap(f.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(f.limiter))
	}
}

func TestTimeoutDefaults(t *testing.T) {
	t.Parallel()

	f := &Fetcher{}
	if got := f.launchTimeout(); got != defaultLaunchTimeout {
		t.Fatalf("expected default launch timeout, got %v", got)
	}
	if got := f.navTimeout(product.FetchOptions{}); got != defaultNavigationTimeout {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	f.cfg.LaunchTimeout = 10 * time.Second
	if got := f.launchTimeout(); got != 10*time.Second {
		t.Fatalf("expected config launch timeout, got %v", got)
	}
	f.cfg.NavigationTimeout = 90 * time.Second
	if got := f.navTimeout(product.FetchOptions{}); got != 90*time.Second {
		t.Fatalf("expected config nav timeout, got %v", got)
	}
	if got := f.navTimeout(product.FetchOptions{NavigationTimeout: 120 * time.Second}); got != 120*time.Second {
		t.Fatalf("expected per-site nav timeout, got %v", got)
	}
	if got := f.selectorTimeout(product.FetchOptions{}); got != defaultSelectorTimeout {
		t.Fatalf("expected default selector timeout, got %v", got)
	}
}

func TestResourceTypesAndBlocking(t *testing.T) {
	t.Parallel()

	s, ok := newChromeSession(SessionConfig{BlockedTypes: DefaultBlockedResourceTypes}).(*chromeSession)
	if !ok {
		t.Fatal("expected *chromeSession")
	}
	for _, rt := range []network.ResourceType{
		network.ResourceTypeImage,
		network.ResourceTypeStylesheet,
		network.ResourceTypeFont,
		network.ResourceTypeMedia,
	} {
		if !s.shouldBlock(rt) {
			t.Fatalf("expected %s to be blocked", rt)
		}
	}
	if s.shouldBlock(network.ResourceTypeDocument) || s.shouldBlock(network.ResourceTypeScript) {
		t.Fatal("document and script must pass through")
	}
}

func TestChromeSessionCloseBeforeLaunch(t *testing.T) {
	t.Parallel()

	s := newChromeSession(SessionConfig{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close before Launch error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close error = %v", err)
	}
}

func TestLifecycleEventName(t *testing.T) {
	t.Parallel()

	if got := lifecycleEventName(product.WaitDOMContentLoaded); got != "DOMContentLoaded" {
		t.Fatalf("unexpected event %q", got)
	}
	if got := lifecycleEventName(product.WaitNetworkIdle); got != "networkIdle" {
		t.Fatalf("unexpected event %q", got)
	}
}

func TestLifecycleWaiter(t *testing.T) {
	t.Parallel()

	w := newLifecycleWaiter()
	w.record("loader-1", "DOMContentLoaded")
	if err := w.wait(context.Background(), "loader-1", "DOMContentLoaded"); err != nil {
		t.Fatalf("expected already-seen event to satisfy wait: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.wait(context.Background(), "loader-1", "networkIdle")
	}()
	w.record("loader-2", "networkIdle")
	w.record("loader-1", "networkIdle")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.wait(ctx, "loader-9", "load"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("expected parent cancellation to propagate")
	}
	stop()
}
