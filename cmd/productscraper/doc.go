// Package main hosts the product scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server accepts {"url": "..."} on /scrape and /scrape/html, validates it, and hands it to
//     the pipeline service. Failures are reported as {"success": false, "message", "kind"}.
//   - Site profiles: internal/sites resolves the request host to a profile carrying the extraction strategy, the CSS
//     selector table and the fetch policy. New sites are onboarded through the sites section of the config file.
//   - Fetch: internal/fetcher.Router dispatches on the profile's mode. Headless launches an isolated Chrome per request
//     via chromedp and always tears it down; static performs one colly GET; auto probes statically and promotes to
//     headless when the heuristic detector finds client-side rendering.
//   - Extraction: the selector strategy reads the document with goquery and Open Graph tags; the ai strategy sends a
//     trimmed document to an OpenAI-compatible model and normalizes its JSON answer.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: one goroutine per HTTP request; each headless fetch owns its browser. browser.max_parallel
//     bounds concurrent browsers (0 means unbounded).
//   - No retries happen inside the service; callers decide whether to try again.
//   - Cloud Run: the HTTP server listens on the configured port (overridable via PORT) and drains on SIGTERM.
//
// Quick checklist:
//   - Configure env vars: PORT or SCRAPER_SERVER_PORT, SCRAPER_LLM_API_KEY or OPENAI_API_KEY when any site uses the ai
//     strategy, SCRAPER_BROWSER_EXEC_PATH when Chrome is not on PATH.
//   - Run locally: go run ./cmd/productscraper -config config.yaml (or rely solely on env overrides).
package main
