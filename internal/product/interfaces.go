package product

import "context"

// Fetcher acquires the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (string, error)
}

// Extractor turns HTML into a Record.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, html, sourceURL string) (Record, error)
}
