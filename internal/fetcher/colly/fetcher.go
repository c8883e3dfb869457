// Package collyfetcher implements a plain HTTP fetcher using gocolly, for sites
// that render their product markup on the server.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/product"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements product.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type response struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Clones share the visited store; every request is a fresh attempt.
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	// Clones share the HTTP backend, so the client timeout is set once here.
	c.SetRequestTimeout(timeoutOrDefault(cfg.Timeout))

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET and returns the raw document.
func (f *Fetcher) Fetch(ctx context.Context, request product.FetchRequest) (string, error) {
	start := time.Now()
	var resp response
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &resp)

	if err := f.runCollector(ctx, collector, request.URL, &resp); err != nil {
		if isTimeout(ctx, err) {
			return "", product.NewError(product.KindNavigationTimeout, fmt.Sprintf("after %s", f.timeout()), err)
		}
		// The visit goroutine may still own resp after cancellation.
		detail := ""
		if ctx.Err() == nil {
			detail = statusDetail(resp.status)
		}
		return "", product.NewError(product.KindNavigationFailed, detail, err)
	}

	html := string(resp.body)
	if len(strings.TrimSpace(html)) < request.Options.MinLength() {
		return "", product.NewError(
			product.KindEmptyContent,
			fmt.Sprintf("document has %d characters, need %d", len(html), request.Options.MinLength()),
			nil,
		)
	}
	f.logger.Info("page fetched",
		zap.String("url", request.URL),
		zap.Int("status", resp.status),
		zap.Int("bytes", len(html)),
		zap.Duration("duration", time.Since(start)),
	)
	return html, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, resp *response) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp.status = r.StatusCode
		resp.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.status = r.StatusCode
		}
		resp.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, resp *response) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if resp.err != nil {
			return fmt.Errorf("colly response failed: %w", resp.err)
		}
		return nil
	}
}

func (f *Fetcher) timeout() time.Duration {
	return timeoutOrDefault(f.cfg.Timeout)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return defaultTimeout
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusDetail(status int) string {
	if status == 0 {
		return ""
	}
	return fmt.Sprintf("status %d", status)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
