// Package normalize turns raw page text into clean typed values. Every function
// is total: no input makes it panic.
package normalize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCurrency is reported when a price carries no recognizable currency.
const DefaultCurrency = "XOF"

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	currencyTokens = regexp.MustCompile(`(?i)f\s?cfa|cfa|xof|xaf|eur|usd|gbp|€|\$|£`)
	nonDigits      = regexp.MustCompile(`[^0-9]+`)
)

// currencyCodes maps lowercase tokens to ISO codes, most specific first.
var currencyCodes = []struct {
	token string
	code  string
}{
	{"fcfa", "XOF"},
	{"f cfa", "XOF"},
	{"xaf", "XAF"},
	{"xof", "XOF"},
	{"cfa", "XOF"},
	{"eur", "EUR"},
	{"€", "EUR"},
	{"gbp", "GBP"},
	{"£", "GBP"},
	{"usd", "USD"},
	{"$", "USD"},
}

// CleanText collapses line breaks, tabs and whitespace runs into single spaces
// and trims the result.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
}

// CleanPrice strips currency tokens and every non-digit character, then parses
// what is left as a base-10 integer. Separators are dropped, so "150.000 FCFA"
// becomes 150000; fractional parts are not supported. It returns nil when no
// digits remain or the value does not fit in an int64.
func CleanPrice(raw string) *int64 {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	digits := nonDigits.ReplaceAllString(currencyTokens.ReplaceAllString(raw, ""), "")
	if digits == "" {
		return nil
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	return &value
}

// DetectCurrency returns the ISO code of the first currency token found in raw,
// or fallback (DefaultCurrency when fallback is empty).
func DetectCurrency(raw, fallback string) string {
	lower := strings.ToLower(raw)
	for _, c := range currencyCodes {
		if strings.Contains(lower, c.token) {
			return c.code
		}
	}
	if fallback = strings.ToUpper(strings.TrimSpace(fallback)); fallback != "" {
		return fallback
	}
	return DefaultCurrency
}

// AbsoluteURL resolves raw against base and reports whether the result is a
// usable absolute http(s) URL.
func AbsoluteURL(raw, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || !baseURL.IsAbs() {
			return "", false
		}
		ref = baseURL.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return "", false
	}
	return ref.String(), true
}
