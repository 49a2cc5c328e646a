// Package failover classifies provider errors and builds cross-provider
// handoffs for the categories that warrant one.
package failover

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/mirrorlake/steward/pkg/provider"
)

// Category is the error taxonomy used across the failure path.
type Category string

const (
	CategoryRateLimit Category = "rate_limit"
	CategoryQuota     Category = "quota"
	CategoryAuth      Category = "auth"
	CategoryTimeout   Category = "timeout"
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryUnknown   Category = "unknown"
)

// Confidence grades how sure the classifier is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ClassifiedError is the derived view of a raised error. It is never
// persisted.
type ClassifiedError struct {
	Category        Category
	Retryable       bool
	HTTPStatus      int
	ErrorCode       string
	OriginalMessage string
	Confidence      Confidence
}

// errorCodeTable maps structured provider error codes onto categories.
var errorCodeTable = map[string]Category{
	"resource_exhausted":   CategoryRateLimit,
	"rate_limit_error":     CategoryRateLimit,
	"rate_limit_exceeded":  CategoryRateLimit,
	"quota_exceeded":       CategoryQuota,
	"insufficient_quota":   CategoryQuota,
	"unauthenticated":      CategoryAuth,
	"permission_denied":    CategoryAuth,
	"authentication_error": CategoryAuth,
	"invalid_api_key":      CategoryAuth,
	"deadline_exceeded":    CategoryTimeout,
	"unavailable":          CategoryTransient,
	"overloaded_error":     CategoryTransient,
}

var (
	statusPattern    = regexp.MustCompile(`\b([45]\d{2})\b`)
	quotaPattern     = regexp.MustCompile(`(?i)quota\s+exceeded|out\s+of\s+quota|insufficient\s+quota`)
	rateLimitPattern = regexp.MustCompile(`(?i)rate.?limit|resource.?exhausted|too\s+many\s+requests`)
	authPattern      = regexp.MustCompile(`(?i)unauthoriz|unauthenticated|token\s+expired|invalid\s+api.?key|authentication\s+fail|session\s+expired|permission\s+denied|forbidden|credential`)
	timeoutPattern   = regexp.MustCompile(`(?i)deadline\s+exceeded|timed\s+out|time\s+out|timeout`)
)

var transientSubstrings = []string{
	"overloaded",
	"temporarily unavailable",
	"service unavailable",
}

// retryable reports whether a category is safe to re-attempt later on the
// same provider. Auth failures are not; a different provider is the only way
// forward for those.
func retryable(category Category) bool {
	switch category {
	case CategoryRateLimit, CategoryQuota, CategoryTimeout, CategoryTransient:
		return true
	default:
		return false
	}
}

// ClassifyError derives a category, retryability, and confidence for a raised
// error. Precedence: HTTP status, then structured error code, then message
// patterns, then broad substrings, then unknown.
func ClassifyError(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Category: CategoryUnknown, Confidence: ConfidenceLow}
	}

	message := err.Error()
	out := ClassifiedError{
		Category:        CategoryUnknown,
		OriginalMessage: message,
		Confidence:      ConfidenceLow,
	}

	status, code := extractMetadata(err, message)
	out.HTTPStatus = status
	out.ErrorCode = code

	if category, ok := categoryForStatus(status); ok {
		out.Category = category
		out.Confidence = ConfidenceHigh
		out.Retryable = retryable(category)
		return out
	}

	if category, ok := errorCodeTable[code]; ok {
		out.Category = category
		out.Confidence = ConfidenceHigh
		out.Retryable = retryable(category)
		return out
	}

	for _, match := range []struct {
		pattern  *regexp.Regexp
		category Category
	}{
		{quotaPattern, CategoryQuota},
		{rateLimitPattern, CategoryRateLimit},
		{authPattern, CategoryAuth},
		{timeoutPattern, CategoryTimeout},
	} {
		if match.pattern.MatchString(message) {
			out.Category = match.category
			out.Confidence = ConfidenceMedium
			out.Retryable = retryable(match.category)
			return out
		}
	}

	lower := strings.ToLower(message)
	for _, needle := range transientSubstrings {
		if strings.Contains(lower, needle) {
			out.Category = CategoryTransient
			out.Confidence = ConfidenceLow
			out.Retryable = true
			return out
		}
	}

	return out
}

// extractMetadata pulls an HTTP status and error code from a ProviderError
// anywhere in the chain, falling back to a 4xx/5xx pattern in the message.
func extractMetadata(err error, message string) (int, string) {
	var provErr *provider.ProviderError
	if errors.As(err, &provErr) {
		status := provErr.Status
		if status == 0 {
			status = statusFromMessage(message)
		}
		return status, provErr.Code
	}
	return statusFromMessage(message), codeFromMessage(message)
}

func statusFromMessage(message string) int {
	m := statusPattern.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	status, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return status
}

// codeFromMessage spots structured code tokens that SDKs embed in message
// bodies.
func codeFromMessage(message string) string {
	lower := strings.ToLower(message)
	for code := range errorCodeTable {
		if strings.Contains(lower, code) {
			return code
		}
	}
	return ""
}

func categoryForStatus(status int) (Category, bool) {
	switch {
	case status == 429:
		return CategoryRateLimit, true
	case status == 401 || status == 403:
		return CategoryAuth, true
	case status == 408 || status == 504:
		return CategoryTimeout, true
	case status >= 500 && status <= 599:
		return CategoryTransient, true
	default:
		return "", false
	}
}
