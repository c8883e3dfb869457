// Package selector implements deterministic extraction driven by a per-site
// CSS selector table.
package selector

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"

	"github.com/JakeFAU/productscraper/internal/normalize"
	"github.com/JakeFAU/productscraper/internal/product"
	"github.com/JakeFAU/productscraper/internal/sites"
)

// Name is the strategy name reported in logs and metrics.
const Name = "selector"

var lazyImageAttrs = []string{"data-src", "data-lazy-src", "data-original", "src"}

// Extractor implements product.Extractor for one selector table.
type Extractor struct {
	set             sites.SelectorSet
	defaultCurrency string
}

// New validates the selector table and builds an extractor for it.
func New(set sites.SelectorSet, defaultCurrency string) (*Extractor, error) {
	if err := set.Validate(); err != nil {
		return nil, product.NewError(product.KindConfigurationFault, "selector table", err)
	}
	return &Extractor{set: set, defaultCurrency: defaultCurrency}, nil
}

// Name implements product.Extractor.
func (e *Extractor) Name() string {
	return Name
}

// Extract parses html and reads each field through the selector table. Name and
// price are required; every other field degrades to nil or a placeholder.
func (e *Extractor) Extract(_ context.Context, html, sourceURL string) (product.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return product.Record{}, product.NewError(product.KindEmptyContent, "unparseable document", err)
	}
	og := opengraph.NewOpenGraph()
	// Open Graph data is best-effort; a tokenizer error leaves it empty.
	_ = og.ProcessHTML(strings.NewReader(html))

	name := normalize.CleanText(firstText(doc, e.set.Title))
	if name == "" {
		return product.Record{}, product.NewError(product.KindMissingRequiredField, "productName", nil)
	}
	priceText := normalize.CleanText(firstText(doc, e.set.Price))
	price := normalize.CleanPrice(priceText)
	if price == nil {
		return product.Record{}, product.NewError(product.KindMissingRequiredField, "price", nil)
	}

	fallbackCurrency := e.set.Currency
	if fallbackCurrency == "" {
		fallbackCurrency = e.defaultCurrency
	}

	return product.Record{
		ProductName:         name,
		Price:               price,
		Currency:            normalize.DetectCurrency(priceText, fallbackCurrency),
		DescriptionComplete: e.description(doc, og),
		ImageURL:            e.image(doc, og, sourceURL),
		ProductURL:          sourceURL,
	}, nil
}

func (e *Extractor) description(doc *goquery.Document, og *opengraph.OpenGraph) string {
	candidates := []string{
		firstText(doc, e.set.Description),
		metaContent(doc, `meta[name="description"]`),
		og.Description,
	}
	for _, c := range candidates {
		if text := normalize.CleanText(c); text != "" {
			return text
		}
	}
	return product.DescriptionPlaceholder
}

func (e *Extractor) image(doc *goquery.Document, og *opengraph.OpenGraph, sourceURL string) *string {
	var candidates []string
	for _, img := range og.Images {
		if img != nil {
			candidates = append(candidates, img.URL, img.SecureURL)
		}
	}
	candidates = append(candidates, metaContent(doc, `meta[property="og:image"]`))
	if e.set.Image != "" {
		sel := doc.Find(e.set.Image).First()
		attrs := lazyImageAttrs
		if e.set.ImageAttr != "" {
			attrs = append([]string{e.set.ImageAttr}, lazyImageAttrs...)
		}
		for _, attr := range attrs {
			if v, ok := sel.Attr(attr); ok {
				candidates = append(candidates, v)
			}
		}
	}
	for _, c := range candidates {
		if abs, ok := normalize.AbsoluteURL(c, sourceURL); ok {
			return &abs
		}
	}
	return nil
}

// firstText returns the text of the first match, or its content attribute for
// elements such as <meta itemprop="price" content="...">.
func firstText(doc *goquery.Document, selector string) string {
	if strings.TrimSpace(selector) == "" {
		return ""
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	if text := strings.TrimSpace(sel.Text()); text != "" {
		return text
	}
	content, _ := sel.Attr("content")
	return content
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}
