// Package resilience provides the retry and circuit breaker machinery that
// guards every external stats source call.
package resilience

import (
	"errors"
	"strings"
)

// ErrorCategory is a failure category with its own retry policy.
type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "network"
	CategoryRateLimit  ErrorCategory = "rate_limit"
	CategoryAuth       ErrorCategory = "auth"
	CategoryValidation ErrorCategory = "validation"
	CategoryTimeout    ErrorCategory = "timeout"
)

// CategorizedError wraps an error with an explicit failure category,
// letting callers (e.g. the HTTP fetcher) bypass message sniffing.
type CategorizedError struct {
	Category ErrorCategory
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorizedError wraps err with a fixed category.
func NewCategorizedError(category ErrorCategory, err error) *CategorizedError {
	return &CategorizedError{Category: category, Err: err}
}

// classifyRules is the ordered keyword table for message-based
// classification. First match wins; keywords are matched case-insensitively
// as substrings.
var classifyRules = []struct {
	category ErrorCategory
	keywords []string
}{
	{CategoryNetwork, []string{"network", "fetch failed", "econnrefused", "enotfound"}},
	{CategoryRateLimit, []string{"rate limit", "429", "too many requests"}},
	{CategoryAuth, []string{"auth", "401", "403", "unauthorized"}},
	{CategoryTimeout, []string{"timeout", "timed out"}},
	{CategoryValidation, []string{"validation", "invalid"}},
}

// Classify maps an arbitrary error to a failure category. An explicit
// CategorizedError anywhere in the chain takes precedence; otherwise the
// message is scanned against the keyword table, defaulting to network (the
// most forgiving retry policy) when nothing matches.
func Classify(err error) ErrorCategory {
	if err == nil {
		return CategoryNetwork
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.category
			}
		}
	}
	return CategoryNetwork
}
