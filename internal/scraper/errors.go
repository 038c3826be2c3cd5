package scraper

import (
	"errors"
	"fmt"
)

// ConfigError marks a provider or task as permanently unusable for the
// run: missing credentials, zero retry budget across the board, and the
// like. Never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// TransportError is a failed fetch at the network level: timeout,
// connection failure, or a non-success upstream status. Retried within
// the provider's budget.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ContentTooSmallError signals a payload under the minimum content
// threshold, a proxy signal for a bot block or challenge page. Treated
// like a transport failure for retry accounting.
type ContentTooSmallError struct {
	Provider string
	Size     int
	Min      int
}

func (e *ContentTooSmallError) Error() string {
	return fmt.Sprintf("%s: HTML too small (%d bytes, min %d)", e.Provider, e.Size, e.Min)
}

// ExtractionError means the fetched markup yielded no usable price.
// The current provider is abandoned immediately; the fetch is not
// repeated.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed: %s", e.Reason)
}

// IsRetryableFetch reports whether a fetch error should consume a retry
// unit rather than abandon the provider outright.
func IsRetryableFetch(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigError
	return !errors.As(err, &cfgErr)
}
