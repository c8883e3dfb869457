package product

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch or extraction failure.
type Kind string

// Failure kinds surfaced by the fetch and extraction stages.
const (
	KindLaunchFailure        Kind = "launch_failure"
	KindNavigationTimeout    Kind = "navigation_timeout"
	KindNavigationFailed     Kind = "navigation_failed"
	KindSelectorNotFound     Kind = "selector_not_found"
	KindEmptyContent         Kind = "empty_content"
	KindMissingRequiredField Kind = "missing_required_field"
	KindMalformedResponse    Kind = "malformed_response"
	KindNotAProductPage      Kind = "not_a_product_page"
	KindGeneratorUnavailable Kind = "generator_unavailable"
	KindConfigurationFault   Kind = "configuration_fault"
	KindInternal             Kind = "internal"
)

// Error is the typed failure value returned across the core boundary.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the failure kind, reporting KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// DetailOf returns the detail attached to a typed failure.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

var kindMessages = map[Kind]string{
	KindLaunchFailure:        "Unable to start the browser for scraping.",
	KindNavigationTimeout:    "The page did not finish loading in time.",
	KindNavigationFailed:     "The page could not be loaded.",
	KindSelectorNotFound:     "The expected page content never appeared.",
	KindEmptyContent:         "The fetched page content is empty.",
	KindMissingRequiredField: "The product name or price could not be found on the page.",
	KindMalformedResponse:    "The extraction service returned an unusable response.",
	KindNotAProductPage:      "The page does not look like a product page.",
	KindGeneratorUnavailable: "The extraction service is unavailable.",
	KindConfigurationFault:   "The scraper is not configured for this request.",
	KindInternal:             "An unexpected server error occurred.",
}

// Message maps a failure to the human-readable text returned to API callers.
func Message(err error) string {
	kind := KindOf(err)
	msg, ok := kindMessages[kind]
	if !ok {
		msg = kindMessages[KindInternal]
	}
	if detail := DetailOf(err); detail != "" {
		switch kind {
		case KindSelectorNotFound, KindMissingRequiredField, KindNotAProductPage:
			return fmt.Sprintf("%s (%s)", msg, detail)
		}
	}
	return msg
}
