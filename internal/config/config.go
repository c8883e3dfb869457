// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/productscraper/internal/product"
	"github.com/JakeFAU/productscraper/internal/sites"
)

// DefaultSiteName names the profile that serves hosts no site claims.
const DefaultSiteName = "default"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Browser  BrowserConfig         `mapstructure:"browser"`
	Static   StaticConfig          `mapstructure:"static"`
	Detector DetectorConfig        `mapstructure:"detector"`
	LLM      LLMConfig             `mapstructure:"llm"`
	Defaults DefaultsConfig        `mapstructure:"defaults"`
	Sites    map[string]SiteConfig `mapstructure:"sites"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	CORSAllowedOrigins    []string `mapstructure:"cors_allowed_origins"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	UserAgent              string   `mapstructure:"user_agent"`
	ExecPath               string   `mapstructure:"exec_path"`
	MaxParallel            int      `mapstructure:"max_parallel"`
	LaunchTimeoutSeconds   int      `mapstructure:"launch_timeout_seconds"`
	NavTimeoutSeconds      int      `mapstructure:"nav_timeout_seconds"`
	SelectorTimeoutSeconds int      `mapstructure:"selector_timeout_seconds"`
	BlockedResourceTypes   []string `mapstructure:"blocked_resource_types"`
}

// StaticConfig configures the plain HTTP fetcher.
type StaticConfig struct {
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
	RespectRobots  bool `mapstructure:"respect_robots"`
}

// DetectorConfig tunes auto-mode promotion.
type DetectorConfig struct {
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// LLMConfig configures the generation backend for the ai strategy.
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	Temperature    float32 `mapstructure:"temperature"`
	MaxHTMLChars   int     `mapstructure:"max_html_chars"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// DefaultsConfig applies to every site unless the site overrides it, and fully
// describes the fallback profile.
type DefaultsConfig struct {
	Currency  string            `mapstructure:"currency"`
	Strategy  string            `mapstructure:"strategy"`
	Selectors sites.SelectorSet `mapstructure:"selectors"`
	Fetch     FetchConfig       `mapstructure:"fetch"`
}

// FetchConfig is the per-site fetch policy. Zero values inherit the default.
type FetchConfig struct {
	Mode                   string   `mapstructure:"mode"`
	WaitUntil              string   `mapstructure:"wait_until"`
	NavTimeoutSeconds      int      `mapstructure:"nav_timeout_seconds"`
	WaitSelector           string   `mapstructure:"wait_selector"`
	SelectorTimeoutSeconds int      `mapstructure:"selector_timeout_seconds"`
	BlockResources         *bool    `mapstructure:"block_resources"`
	BodyOnly               *bool    `mapstructure:"body_only"`
	MinContentLength       int      `mapstructure:"min_content_length"`
	ProbeSelectors         []string `mapstructure:"probe_selectors"`
}

// SiteConfig onboards one target site.
type SiteConfig struct {
	Hosts     []string          `mapstructure:"hosts"`
	Strategy  string            `mapstructure:"strategy"`
	Selectors sites.SelectorSet `mapstructure:"selectors"`
	Fetch     FetchConfig       `mapstructure:"fetch"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// PORT follows the Cloud Run convention and wins over the prefixed name.
	if err := v.BindEnv("server.port", "PORT", "SCRAPER_SERVER_PORT"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("llm.api_key", "SCRAPER_LLM_API_KEY", "OPENAI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 180)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.max_parallel", 0)
	v.SetDefault("browser.launch_timeout_seconds", 30)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.selector_timeout_seconds", 20)
	v.SetDefault("browser.blocked_resource_types", []string{"image", "stylesheet", "font", "media"})
	v.SetDefault("static.timeout_seconds", 15)
	v.SetDefault("static.respect_robots", false)
	v.SetDefault("detector.promotion_threshold", 2048)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_html_chars", 120000)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("defaults.currency", "XOF")
	v.SetDefault("defaults.strategy", string(sites.StrategySelector))
	v.SetDefault("defaults.selectors.title", `h1, [itemprop="name"]`)
	v.SetDefault("defaults.selectors.price", `[itemprop="price"], .price, .product-price`)
	v.SetDefault("defaults.selectors.image", `[itemprop="image"], .product-image img`)
	v.SetDefault("defaults.selectors.description", `[itemprop="description"], .product-description`)
	v.SetDefault("defaults.fetch.mode", string(product.FetchModeHeadless))
	v.SetDefault("defaults.fetch.wait_until", string(product.WaitNetworkIdle))
	v.SetDefault("defaults.fetch.block_resources", true)
	v.SetDefault("defaults.fetch.body_only", false)
	v.SetDefault("defaults.fetch.min_content_length", product.DefaultMinContentLength)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Browser.MaxParallel < 0 {
		return fmt.Errorf("browser.max_parallel must be >= 0")
	}
	if c.Browser.LaunchTimeoutSeconds <= 0 || c.Browser.NavTimeoutSeconds <= 0 || c.Browser.SelectorTimeoutSeconds <= 0 {
		return fmt.Errorf("browser timeouts must be > 0")
	}
	if c.Static.TimeoutSeconds <= 0 {
		return fmt.Errorf("static.timeout_seconds must be > 0")
	}
	if c.LLM.MaxHTMLChars <= 0 {
		return fmt.Errorf("llm.max_html_chars must be > 0")
	}
	if err := validateFetch("defaults.fetch", c.Defaults.Fetch); err != nil {
		return err
	}
	if _, err := c.Profiles(); err != nil {
		return err
	}
	if c.usesAI() && strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key (or OPENAI_API_KEY) must be set when any site uses the ai strategy")
	}
	return nil
}

// Profiles converts the site table into validated profiles. The first element
// is the fallback profile built from defaults.
func (c Config) Profiles() ([]sites.Profile, error) {
	fallback := sites.Profile{
		Name:      DefaultSiteName,
		Strategy:  sites.Strategy(c.Defaults.Strategy),
		Selectors: c.Defaults.Selectors,
		Fetch:     c.fetchOptions(FetchConfig{}),
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}

	names := make([]string, 0, len(c.Sites))
	for name := range c.Sites {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := []sites.Profile{fallback}
	for _, name := range names {
		if name == DefaultSiteName {
			return nil, fmt.Errorf("sites.%s: name is reserved", name)
		}
		site := c.Sites[name]
		if err := validateFetch("sites."+name+".fetch", site.Fetch); err != nil {
			return nil, err
		}
		strategy := site.Strategy
		if strategy == "" {
			strategy = c.Defaults.Strategy
		}
		p := sites.Profile{
			Name:      name,
			Hosts:     site.Hosts,
			Strategy:  sites.Strategy(strategy),
			Selectors: site.Selectors,
			Fetch:     c.fetchOptions(site.Fetch),
		}
		if p.Selectors.Currency == "" {
			p.Selectors.Currency = c.Defaults.Selectors.Currency
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if len(p.Hosts) == 0 {
			return nil, fmt.Errorf("sites.%s.hosts must not be empty", name)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Registry builds the site registry from Profiles.
func (c Config) Registry() (*sites.Registry, error) {
	profiles, err := c.Profiles()
	if err != nil {
		return nil, err
	}
	return sites.NewRegistry(profiles[1:], profiles[0])
}

// UsesMode reports whether any profile fetches with mode.
func (c Config) UsesMode(mode product.FetchMode) bool {
	profiles, err := c.Profiles()
	if err != nil {
		return true
	}
	for _, p := range profiles {
		if p.Fetch.Mode == mode {
			return true
		}
	}
	return false
}

// RequestTimeout is the whole-request budget for the HTTP layer.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c Config) usesAI() bool {
	if sites.Strategy(c.Defaults.Strategy) == sites.StrategyAI {
		return true
	}
	for _, s := range c.Sites {
		if sites.Strategy(s.Strategy) == sites.StrategyAI {
			return true
		}
	}
	return false
}

// fetchOptions merges a site's overrides onto the defaults.
func (c Config) fetchOptions(site FetchConfig) product.FetchOptions {
	d := c.Defaults.Fetch
	opts := product.FetchOptions{
		Mode:              product.FetchMode(firstNonEmpty(site.Mode, d.Mode)),
		WaitUntil:         product.WaitCondition(firstNonEmpty(site.WaitUntil, d.WaitUntil)),
		NavigationTimeout: seconds(firstPositive(site.NavTimeoutSeconds, d.NavTimeoutSeconds, c.Browser.NavTimeoutSeconds)),
		WaitSelector:      firstNonEmpty(site.WaitSelector, d.WaitSelector),
		SelectorTimeout: seconds(firstPositive(
			site.SelectorTimeoutSeconds, d.SelectorTimeoutSeconds, c.Browser.SelectorTimeoutSeconds,
		)),
		BlockResources:   firstBool(site.BlockResources, d.BlockResources),
		BodyOnly:         firstBool(site.BodyOnly, d.BodyOnly),
		MinContentLength: firstPositive(site.MinContentLength, d.MinContentLength),
		ProbeSelectors:   site.ProbeSelectors,
	}
	if len(opts.ProbeSelectors) == 0 {
		opts.ProbeSelectors = d.ProbeSelectors
	}
	return opts
}

func validateFetch(prefix string, f FetchConfig) error {
	switch product.FetchMode(f.Mode) {
	case "", product.FetchModeHeadless, product.FetchModeStatic, product.FetchModeAuto:
	default:
		return fmt.Errorf("%s.mode %q must be one of headless, static, auto", prefix, f.Mode)
	}
	switch product.WaitCondition(f.WaitUntil) {
	case "", product.WaitNetworkIdle, product.WaitDOMContentLoaded:
	default:
		return fmt.Errorf("%s.wait_until %q must be network-idle or dom-content-loaded", prefix, f.WaitUntil)
	}
	if f.NavTimeoutSeconds < 0 || f.SelectorTimeoutSeconds < 0 || f.MinContentLength < 0 {
		return fmt.Errorf("%s: timeouts and lengths must be >= 0", prefix)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstBool(values ...*bool) bool {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return false
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
