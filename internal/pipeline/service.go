package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/extract/selector"
	"github.com/JakeFAU/productscraper/internal/metrics"
	"github.com/JakeFAU/productscraper/internal/product"
	"github.com/JakeFAU/productscraper/internal/sites"
)

// StrategyBuilder creates the extractor a site profile asks for.
type StrategyBuilder func(profile sites.Profile) (product.Extractor, error)

// Strategies builds extractors from shared dependencies. AI may be nil when no
// profile uses the ai strategy.
type Strategies struct {
	DefaultCurrency string
	AI              product.Extractor
}

// Build implements StrategyBuilder.
func (s Strategies) Build(profile sites.Profile) (product.Extractor, error) {
	switch profile.Strategy {
	case sites.StrategySelector:
		return selector.New(profile.Selectors, s.DefaultCurrency)
	case sites.StrategyAI:
		if s.AI == nil {
			return nil, product.NewError(product.KindConfigurationFault,
				fmt.Sprintf("site %q uses the ai strategy but no generator is configured", profile.Name), nil)
		}
		return s.AI, nil
	default:
		return nil, product.NewError(product.KindConfigurationFault,
			fmt.Sprintf("site %q: unknown strategy %q", profile.Name, profile.Strategy), nil)
	}
}

// Service resolves the site profile for a URL and runs the pipeline with that
// profile's fetch policy and extraction strategy.
type Service struct {
	pipeline   *Pipeline
	registry   *sites.Registry
	extractors map[string]product.Extractor
	logger     *zap.Logger
}

// NewService builds one extractor per profile up front so configuration faults
// surface at startup.
func NewService(p *Pipeline, registry *sites.Registry, build StrategyBuilder, logger *zap.Logger) (*Service, error) {
	if p == nil || registry == nil || build == nil {
		return nil, fmt.Errorf("pipeline, registry and strategy builder are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	extractors := make(map[string]product.Extractor)
	for _, profile := range registry.Profiles() {
		ex, err := build(profile)
		if err != nil {
			return nil, err
		}
		extractors[profile.Name] = ex
		logger.Debug("site strategy ready",
			zap.String("site", profile.Name),
			zap.String("strategy", ex.Name()),
			zap.Strings("hosts", profile.Hosts),
		)
	}
	return &Service{pipeline: p, registry: registry, extractors: extractors, logger: logger}, nil
}

// Scrape fetches rawURL and extracts a product record.
func (s *Service) Scrape(ctx context.Context, rawURL string) (product.Record, error) {
	metrics.IncInflight()
	defer metrics.DecInflight()

	profile, request := s.request(rawURL)
	ex, ok := s.extractors[profile.Name]
	if !ok {
		return product.Record{}, product.NewError(product.KindConfigurationFault,
			fmt.Sprintf("no strategy for site %q", profile.Name), nil)
	}
	return s.pipeline.Run(ctx, request, ex)
}

// FetchHTML fetches rawURL with its site's fetch policy and returns the document.
func (s *Service) FetchHTML(ctx context.Context, rawURL string) (string, error) {
	metrics.IncInflight()
	defer metrics.DecInflight()

	_, request := s.request(rawURL)
	return s.pipeline.Fetch(ctx, request)
}

func (s *Service) request(rawURL string) (sites.Profile, product.FetchRequest) {
	profile := s.registry.Resolve(rawURL)
	opts := profile.Fetch
	if len(opts.ProbeSelectors) == 0 && profile.Strategy == sites.StrategySelector {
		opts.ProbeSelectors = []string{profile.Selectors.Title, profile.Selectors.Price}
	}
	return profile, product.FetchRequest{URL: rawURL, Site: profile.Name, Options: opts}
}
