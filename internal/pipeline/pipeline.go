// Package pipeline composes a fetcher and an extraction strategy into a single
// scrape operation.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/metrics"
	"github.com/JakeFAU/productscraper/internal/product"
)

const outcomeSuccess = "success"

// Pipeline runs fetch then extract. It adds no retries and never rewrites the
// failures its stages return.
type Pipeline struct {
	fetcher product.Fetcher
	logger  *zap.Logger
}

// New builds a pipeline around fetcher.
func New(fetcher product.Fetcher, logger *zap.Logger) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{fetcher: fetcher, logger: logger}, nil
}

// Run fetches request.URL and hands the document to strategy. A fetch failure
// is returned as-is and the strategy is never called.
func (p *Pipeline) Run(ctx context.Context, request product.FetchRequest, strategy product.Extractor) (product.Record, error) {
	html, err := p.Fetch(ctx, request)
	if err != nil {
		return product.Record{}, err
	}

	logger := p.logger.With(
		zap.String("url", request.URL),
		zap.String("site", request.Site),
		zap.String("strategy", strategy.Name()),
	)
	start := time.Now()
	record, err := strategy.Extract(ctx, html, request.URL)
	metrics.ObserveExtraction(strategy.Name(), outcome(err), time.Since(start))
	if err != nil {
		logger.Warn("extraction failed", zap.String("kind", string(product.KindOf(err))), zap.Error(err))
		return product.Record{}, err
	}
	logger.Info("product extracted", zap.String("product", record.ProductName), zap.Duration("duration", time.Since(start)))
	return record, nil
}

// Fetch acquires the document only.
func (p *Pipeline) Fetch(ctx context.Context, request product.FetchRequest) (string, error) {
	mode := request.Options.Mode
	if mode == "" {
		mode = product.FetchModeHeadless
	}
	start := time.Now()
	html, err := p.fetcher.Fetch(ctx, request)
	metrics.ObserveFetch(metrics.SanitizeSite(request.URL), string(mode), outcome(err), len(html), time.Since(start))
	if err != nil {
		p.logger.Warn("fetch failed",
			zap.String("url", request.URL),
			zap.String("site", request.Site),
			zap.String("mode", string(mode)),
			zap.String("kind", string(product.KindOf(err))),
			zap.Error(err),
		)
		return "", err
	}
	return html, nil
}

func outcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	return string(product.KindOf(err))
}
