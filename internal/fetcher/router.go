// Package fetcher routes a fetch request to the acquisition mode its site uses.
package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/metrics"
	"github.com/JakeFAU/productscraper/internal/product"
)

// Detector decides whether a static document must be re-rendered headlessly.
type Detector interface {
	ShouldPromote(html string, mustMatch []string) bool
}

// Router implements product.Fetcher by dispatching on FetchOptions.Mode.
type Router struct {
	headless product.Fetcher
	static   product.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewRouter wires the mode-specific fetchers. headless may be nil only when no
// site uses headless or auto mode; that is checked at configuration time.
func NewRouter(headless, static product.Fetcher, detector Detector, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		headless: headless,
		static:   static,
		detector: detector,
		logger:   logger,
	}
}

// Fetch acquires the page using the request's mode. Headless is the default.
func (r *Router) Fetch(ctx context.Context, request product.FetchRequest) (string, error) {
	switch request.Options.Mode {
	case product.FetchModeStatic:
		return r.use(r.static, product.FetchModeStatic).Fetch(ctx, request)
	case product.FetchModeAuto:
		return r.auto(ctx, request)
	case product.FetchModeHeadless, "":
		return r.use(r.headless, product.FetchModeHeadless).Fetch(ctx, request)
	default:
		return "", product.NewError(product.KindConfigurationFault, fmt.Sprintf("unknown fetch mode %q", request.Options.Mode), nil)
	}
}

// auto probes with a plain GET and promotes to the browser when the probe
// fails or the detector finds client-side rendering.
func (r *Router) auto(ctx context.Context, request product.FetchRequest) (string, error) {
	logger := r.logger.With(zap.String("url", request.URL), zap.String("site", request.Site))
	html, err := r.use(r.static, product.FetchModeStatic).Fetch(ctx, request)
	switch {
	case err != nil:
		logger.Info("static probe failed, promoting to headless", zap.Error(err))
	case r.detector != nil && r.detector.ShouldPromote(html, probeSelectors(request.Options)):
		logger.Info("static document needs rendering, promoting to headless")
	default:
		return html, nil
	}
	if ctx.Err() != nil {
		return "", product.NewError(product.KindNavigationTimeout, "request deadline spent on static probe", ctx.Err())
	}
	metrics.ObserveHeadlessPromotion()
	return r.use(r.headless, product.FetchModeHeadless).Fetch(ctx, request)
}

func (r *Router) use(f product.Fetcher, mode product.FetchMode) product.Fetcher {
	if f == nil {
		return unavailable(mode)
	}
	return f
}

func probeSelectors(opts product.FetchOptions) []string {
	selectors := append([]string(nil), opts.ProbeSelectors...)
	if opts.WaitSelector != "" {
		selectors = append(selectors, opts.WaitSelector)
	}
	return selectors
}

// unavailable reports a fetch mode that was not wired at startup.
type unavailable product.FetchMode

func (u unavailable) Fetch(context.Context, product.FetchRequest) (string, error) {
	return "", product.NewError(product.KindConfigurationFault, fmt.Sprintf("%s fetcher not configured", string(u)), nil)
}
