// Package sites maps target hosts to their extraction strategy, selector table
// and fetch policy. New sites are onboarded through configuration only.
package sites

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/productscraper/internal/product"
)

// Strategy names an extraction variant.
type Strategy string

// Extraction strategies.
const (
	StrategySelector Strategy = "selector"
	StrategyAI       Strategy = "ai"
)

// SelectorSet is a per-site table of CSS selectors.
type SelectorSet struct {
	Title       string `mapstructure:"title"`
	Price       string `mapstructure:"price"`
	Image       string `mapstructure:"image"`
	ImageAttr   string `mapstructure:"image_attr"`
	Description string `mapstructure:"description"`
	Currency    string `mapstructure:"currency"`
}

// Validate checks that the load-bearing selectors are present and that every
// selector compiles. goquery silently matches nothing on a bad selector.
func (s SelectorSet) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title selector is required")
	}
	if strings.TrimSpace(s.Price) == "" {
		return errors.New("price selector is required")
	}
	for field, sel := range map[string]string{
		"title":       s.Title,
		"price":       s.Price,
		"image":       s.Image,
		"description": s.Description,
	} {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		if _, err := cascadia.Compile(sel); err != nil {
			return fmt.Errorf("%s selector %q: %w", field, sel, err)
		}
	}
	return nil
}

// Profile is everything needed to scrape one site.
type Profile struct {
	Name      string
	Hosts     []string
	Strategy  Strategy
	Selectors SelectorSet
	Fetch     product.FetchOptions
}

// Validate checks the profile for startup-time configuration faults.
func (p Profile) Validate() error {
	switch p.Strategy {
	case StrategySelector:
		if err := p.Selectors.Validate(); err != nil {
			return fmt.Errorf("site %q: %w", p.Name, err)
		}
	case StrategyAI:
	default:
		return fmt.Errorf("site %q: unknown strategy %q", p.Name, p.Strategy)
	}
	return nil
}

// Registry resolves URLs to profiles.
type Registry struct {
	byHost   map[string]Profile
	fallback Profile
}

// NewRegistry indexes profiles by host. fallback serves hosts no profile claims.
func NewRegistry(profiles []Profile, fallback Profile) (*Registry, error) {
	if err := fallback.Validate(); err != nil {
		return nil, err
	}
	byHost := make(map[string]Profile)
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if len(p.Hosts) == 0 {
			return nil, fmt.Errorf("site %q: at least one host is required", p.Name)
		}
		for _, h := range p.Hosts {
			host := normalizeHost(h)
			if host == "" {
				return nil, fmt.Errorf("site %q: empty host", p.Name)
			}
			if prev, ok := byHost[host]; ok {
				return nil, fmt.Errorf("host %q claimed by both %q and %q", host, prev.Name, p.Name)
			}
			byHost[host] = p
		}
	}
	return &Registry{byHost: byHost, fallback: fallback}, nil
}

// Resolve returns the profile for rawURL's host, walking up parent domains
// before falling back to the default profile.
func (r *Registry) Resolve(rawURL string) Profile {
	u, err := url.Parse(rawURL)
	if err != nil {
		return r.fallback
	}
	host := normalizeHost(u.Hostname())
	for host != "" {
		if p, ok := r.byHost[host]; ok {
			return p
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return r.fallback
}

// Profiles lists every distinct configured profile plus the fallback.
func (r *Registry) Profiles() []Profile {
	seen := map[string]struct{}{}
	out := []Profile{r.fallback}
	for _, p := range r.byHost {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}
