// Package ai implements extraction by asking a language model to read the page.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/JakeFAU/productscraper/internal/llm"
	"github.com/JakeFAU/productscraper/internal/normalize"
	"github.com/JakeFAU/productscraper/internal/product"
)

// Name is the strategy name reported in logs and metrics.
const Name = "ai"

const (
	defaultModel        = "gpt-4o-mini"
	defaultMaxHTMLChars = 120000
)

const systemMessage = "You extract product data from e-commerce HTML. Respond with one strict JSON object only, no narration. " +
	"Fields: productName (string), price (digits only, as a string, no separators or currency), " +
	"currency (ISO 4217 code, XOF when the page shows FCFA or CFA or no currency), " +
	"descriptionComplete (full product description as plain text), " +
	"imageUrl (absolute URL of the main product image, omit when unknown), productUrl (the page URL). " +
	"If the page is not a single product page, respond with {\"error\": \"<short reason>\"} instead."

var (
	fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	isoCode      = regexp.MustCompile(`^[A-Za-z]{3}$`)
	noiseTags    = "script:not([type='application/ld+json']), style, noscript, svg, iframe, link, template"
)

// Config tunes the generation request.
type Config struct {
	Model           string
	Temperature     float32
	MaxHTMLChars    int
	DefaultCurrency string
}

// Extractor implements product.Extractor on top of an llm.Client.
type Extractor struct {
	client llm.Client
	cfg    Config
	logger *zap.Logger
}

// New builds the extractor. A nil client means the generator was never
// configured, which is reported as a configuration fault.
func New(client llm.Client, cfg Config, logger *zap.Logger) (*Extractor, error) {
	if client == nil {
		return nil, product.NewError(product.KindConfigurationFault, "generation client is not configured", nil)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxHTMLChars <= 0 {
		cfg.MaxHTMLChars = defaultMaxHTMLChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, cfg: cfg, logger: logger}, nil
}

// Name implements product.Extractor.
func (e *Extractor) Name() string {
	return Name
}

// generated is the JSON object the model is asked to produce. Price arrives as
// a string or a number depending on the model.
type generated struct {
	ProductName         string          `json:"productName"`
	Price               json.RawMessage `json:"price"`
	Currency            string          `json:"currency"`
	DescriptionComplete string          `json:"descriptionComplete"`
	ImageURL            string          `json:"imageUrl"`
	Error               string          `json:"error"`
}

// Extract sends the trimmed document to the model and normalizes its answer.
func (e *Extractor) Extract(ctx context.Context, html, sourceURL string) (product.Record, error) {
	user := buildUserPrompt(trimHTML(html, e.cfg.MaxHTMLChars), sourceURL)
	e.logger.Debug("generation prompt",
		zap.String("model", e.cfg.Model),
		zap.Int("system_len", len(systemMessage)),
		zap.Int("user_len", len(user)),
	)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: e.cfg.Temperature,
		N:           1,
	})
	if err != nil {
		return product.Record{}, product.NewError(product.KindGeneratorUnavailable, "", err)
	}
	if len(resp.Choices) == 0 {
		return product.Record{}, product.NewError(product.KindMalformedResponse, "no choices", nil)
	}

	var out generated
	raw := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return product.Record{}, product.NewError(product.KindMalformedResponse, "parse generated json", err)
	}
	return e.toRecord(out, sourceURL)
}

func (e *Extractor) toRecord(out generated, sourceURL string) (product.Record, error) {
	if reason := strings.TrimSpace(out.Error); reason != "" {
		return product.Record{}, product.NewError(product.KindNotAProductPage, reason, nil)
	}
	name := normalize.CleanText(out.ProductName)
	if name == "" {
		return product.Record{}, product.NewError(product.KindMissingRequiredField, "productName", nil)
	}
	price, err := parsePrice(out.Price)
	if err != nil {
		return product.Record{}, product.NewError(product.KindMalformedResponse, "price", err)
	}
	if price == nil {
		return product.Record{}, product.NewError(product.KindMissingRequiredField, "price", nil)
	}

	rec := product.Record{
		ProductName:         name,
		Price:               price,
		Currency:            e.currency(out.Currency),
		DescriptionComplete: normalize.CleanText(out.DescriptionComplete),
		ProductURL:          sourceURL,
	}
	if rec.DescriptionComplete == "" {
		rec.DescriptionComplete = product.DescriptionPlaceholder
	}
	if img, ok := normalize.AbsoluteURL(out.ImageURL, sourceURL); ok {
		rec.ImageURL = &img
	}
	return rec, nil
}

// currency keeps any ISO 4217 code the model returns and only maps symbols or
// local names such as FCFA.
func (e *Extractor) currency(raw string) string {
	raw = strings.TrimSpace(raw)
	if isoCode.MatchString(raw) && !strings.EqualFold(raw, "CFA") {
		return strings.ToUpper(raw)
	}
	return normalize.DetectCurrency(raw, e.cfg.DefaultCurrency)
}

func parsePrice(raw json.RawMessage) (*int64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return normalize.CleanPrice(s), nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return nil, fmt.Errorf("price is neither string nor number: %w", err)
	}
	if f < 0 {
		return nil, errors.New("negative price")
	}
	if f >= math.MaxInt64 {
		return nil, fmt.Errorf("price %s overflows int64", trimmed)
	}
	v := int64(f)
	return &v, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if m := fencePattern.FindStringSubmatch(content); m != nil {
		content = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(content, "{") {
		start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
		if start >= 0 && end > start {
			content = content[start : end+1]
		}
	}
	return content
}

// trimHTML drops markup the model never needs and caps the payload. JSON-LD
// scripts survive because they often carry the cleanest product data.
func trimHTML(html string, maxChars int) string {
	out := html
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find(noiseTags).Remove()
		if rendered, err := doc.Html(); err == nil {
			out = rendered
		}
	}
	if len(out) <= maxChars {
		return out
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(out[cut]) {
		cut--
	}
	return out[:cut]
}

func buildUserPrompt(html, sourceURL string) string {
	var sb strings.Builder
	sb.WriteString("Page URL: ")
	sb.WriteString(sourceURL)
	sb.WriteString("\n\nHTML:\n")
	sb.WriteString(html)
	return sb.String()
}
