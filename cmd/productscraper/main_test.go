package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/config"
	"github.com/JakeFAU/productscraper/internal/product"
	"github.com/JakeFAU/productscraper/internal/sites"
)

func baseConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 30},
		Browser:  config.BrowserConfig{LaunchTimeoutSeconds: 30, NavTimeoutSeconds: 45, SelectorTimeoutSeconds: 20},
		Static:   config.StaticConfig{TimeoutSeconds: 10},
		Detector: config.DetectorConfig{PromotionThreshold: 2048},
		LLM:      config.LLMConfig{MaxHTMLChars: 1000},
		Defaults: config.DefaultsConfig{
			Currency:  "XOF",
			Strategy:  string(sites.StrategySelector),
			Selectors: sites.SelectorSet{Title: "h1", Price: ".price"},
			Fetch:     config.FetchConfig{Mode: string(product.FetchModeStatic)},
		},
	}
}

func TestBuildServerWiresRoutes(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Sites = map[string]config.SiteConfig{
		"gadgets": {
			Hosts:    []string{"gadgets.test"},
			Strategy: string(sites.StrategyAI),
			Fetch:    config.FetchConfig{Mode: string(product.FetchModeAuto)},
		},
	}
	cfg.LLM.APIKey = "test-key"
	require.NoError(t, cfg.Validate())

	srv, err := buildServer(cfg, zap.NewNop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildServerRejectsAIWithoutKey(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Defaults.Strategy = string(sites.StrategyAI)

	_, err := buildServer(cfg, zap.NewNop())
	require.Equal(t, product.KindConfigurationFault, product.KindOf(err))
}

func TestBuildServerRejectsUnknownResourceType(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Defaults.Fetch.Mode = string(product.FetchModeHeadless)
	cfg.Browser.BlockedResourceTypes = []string{"pictures"}

	_, err := buildServer(cfg, zap.NewNop())
	require.Equal(t, product.KindConfigurationFault, product.KindOf(err))
}
