// Package product defines the types shared by the fetch and extraction stages.
package product

import "time"

// FetchMode selects how a page is acquired.
type FetchMode string

// Supported fetch modes.
const (
	FetchModeHeadless FetchMode = "headless"
	FetchModeStatic   FetchMode = "static"
	FetchModeAuto     FetchMode = "auto"
)

// WaitCondition decides when a navigated page is loaded enough to read.
type WaitCondition string

// Supported wait conditions.
const (
	WaitNetworkIdle      WaitCondition = "network-idle"
	WaitDOMContentLoaded WaitCondition = "dom-content-loaded"
)

// DefaultMinContentLength is the shortest payload accepted as a real document.
const DefaultMinContentLength = 500

// DescriptionPlaceholder is used when a page exposes no description.
const DescriptionPlaceholder = "No description available."

// FetchOptions carries the per-site acquisition policy.
type FetchOptions struct {
	Mode              FetchMode
	WaitUntil         WaitCondition
	NavigationTimeout time.Duration
	WaitSelector      string
	SelectorTimeout   time.Duration
	BlockResources    bool
	BodyOnly          bool
	MinContentLength  int
	// ProbeSelectors must all match a static document for auto mode to keep it.
	ProbeSelectors []string
}

// FetchRequest is the input of a fetch. URL is validated by the caller.
type FetchRequest struct {
	URL     string
	Site    string
	Options FetchOptions
}

// Record is the normalized product extracted from a page.
type Record struct {
	ProductName         string  `json:"productName"`
	Price               *int64  `json:"price"`
	Currency            string  `json:"currency"`
	DescriptionComplete string  `json:"descriptionComplete"`
	ImageURL            *string `json:"imageUrl"`
	ProductURL          string  `json:"productUrl"`
}

// MinLength returns the effective minimum content length.
func (o FetchOptions) MinLength() int {
	if o.MinContentLength > 0 {
		return o.MinContentLength
	}
	return DefaultMinContentLength
}
