// Package main wires together the product scraper service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/api"
	"github.com/JakeFAU/productscraper/internal/config"
	"github.com/JakeFAU/productscraper/internal/extract/ai"
	"github.com/JakeFAU/productscraper/internal/fetcher"
	collyfetcher "github.com/JakeFAU/productscraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/productscraper/internal/fetcher/headless"
	"github.com/JakeFAU/productscraper/internal/headless/detector"
	"github.com/JakeFAU/productscraper/internal/llm"
	"github.com/JakeFAU/productscraper/internal/logging"
	"github.com/JakeFAU/productscraper/internal/metrics"
	"github.com/JakeFAU/productscraper/internal/pipeline"
	"github.com/JakeFAU/productscraper/internal/product"
	"github.com/JakeFAU/productscraper/internal/sites"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer, err := buildServer(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.String("kind", string(product.KindOf(err))), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")
	apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout()+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildServer assembles fetchers, strategies and the HTTP layer from cfg. Any
// configuration fault is returned here so the process never starts half-wired.
func buildServer(cfg config.Config, logger *zap.Logger) (*api.Server, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, product.NewError(product.KindConfigurationFault, "site registry", err)
	}

	userAgent := cfg.Browser.UserAgent
	if userAgent == "" {
		userAgent = headlessfetcher.DefaultUserAgent
	}
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     userAgent,
		RespectRobots: cfg.Static.RespectRobots,
		Timeout:       time.Duration(cfg.Static.TimeoutSeconds) * time.Second,
	}, logger.Named("static"))

	var headless product.Fetcher
	if cfg.UsesMode(product.FetchModeHeadless) || cfg.UsesMode(product.FetchModeAuto) {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:          cfg.Browser.MaxParallel,
			UserAgent:            userAgent,
			ExecPath:             cfg.Browser.ExecPath,
			LaunchTimeout:        time.Duration(cfg.Browser.LaunchTimeoutSeconds) * time.Second,
			NavigationTimeout:    time.Duration(cfg.Browser.NavTimeoutSeconds) * time.Second,
			SelectorTimeout:      time.Duration(cfg.Browser.SelectorTimeoutSeconds) * time.Second,
			BlockedResourceTypes: cfg.Browser.BlockedResourceTypes,
		}, logger.Named("headless"))
		if err != nil {
			return nil, product.NewError(product.KindConfigurationFault, "headless fetcher", err)
		}
		headless = browser
	}

	router := fetcher.NewRouter(headless, static, detector.NewHeuristic(cfg.Detector.PromotionThreshold), logger.Named("fetch"))
	p, err := pipeline.New(router, logger.Named("pipeline"))
	if err != nil {
		return nil, err
	}

	strategies := pipeline.Strategies{DefaultCurrency: cfg.Defaults.Currency}
	if usesStrategy(registry, sites.StrategyAI) {
		client, err := llm.NewOpenAI(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		extractor, err := ai.New(client, ai.Config{
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxHTMLChars:    cfg.LLM.MaxHTMLChars,
			DefaultCurrency: cfg.Defaults.Currency,
		}, logger.Named("ai"))
		if err != nil {
			return nil, err
		}
		strategies.AI = extractor
	}

	svc, err := pipeline.NewService(p, registry, strategies.Build, logger.Named("service"))
	if err != nil {
		return nil, err
	}
	return api.NewServer(svc, api.Options{
		RequestTimeout:     cfg.RequestTimeout(),
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, logger), nil
}

func usesStrategy(registry *sites.Registry, strategy sites.Strategy) bool {
	for _, p := range registry.Profiles() {
		if p.Strategy == strategy {
			return true
		}
	}
	return false
}
