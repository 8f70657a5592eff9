package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed.
// FailoverContextOverflow is split out from the ordinary permanent class
// because a context-length-exceeded error forces compaction before
// retrying instead of ending the run.
type FailoverReason string

const (
	FailoverBilling          FailoverReason = "billing"
	FailoverRateLimit        FailoverReason = "rate_limit"
	FailoverAuth             FailoverReason = "auth"
	FailoverTimeout          FailoverReason = "timeout"
	FailoverServerError      FailoverReason = "server_error"
	FailoverInvalidRequest   FailoverReason = "invalid_request"
	FailoverModelUnavailable FailoverReason = "model_unavailable"
	FailoverContentFilter    FailoverReason = "content_filter"
	FailoverContextOverflow  FailoverReason = "context_overflow"
	FailoverConnection       FailoverReason = "connection"
	FailoverUnknown          FailoverReason = "unknown"
)

// Classification is the three-way split the agent loop's retry policy acts
// on: Transient errors are retried with backoff, Permanent errors end
// the turn immediately, and Overflow forces compaction before the next
// retry regardless of the token-ratio threshold.
type Classification string

const (
	Transient Classification = "transient"
	Permanent Classification = "permanent"
	Overflow  Classification = "overflow"
)

// Classify maps a FailoverReason to the agent loop's retry classification.
// Permanent takes precedence whenever both a transient and a permanent
// substring could plausibly match the same error text:
// auth/billing/invalid-request always wins over a coincidental
// "timeout"/"5xx" substring.
func (r FailoverReason) Classify() Classification {
	switch r {
	case FailoverContextOverflow:
		return Overflow
	case FailoverRateLimit, FailoverTimeout, FailoverServerError, FailoverConnection:
		return Transient
	default:
		return Permanent
	}
}

// IsRetryable returns true if the failover reason suggests retrying may succeed.
func (r FailoverReason) IsRetryable() bool {
	return r.Classify() == Transient
}

// ShouldFailover returns true if the error warrants trying a different provider/model.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider, carrying enough
// context for retry, failover, and compaction-forcing decisions.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError builds a ProviderError, classifying cause's text.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailoverUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus sets the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if r := classifyStatusCode(status); r != FailoverUnknown {
		e.Reason = r
	}
	return e
}

// WithCode sets a provider error code and reclassifies from known codes.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if r := classifyErrorCode(code); r != FailoverUnknown {
		e.Reason = r
	}
	return e
}

// ClassifyError inspects err's text for well-known substrings and returns
// the matching FailoverReason. Permanent-leaning reasons (auth, billing,
// invalid request, context overflow) are checked before transient-leaning
// ones (timeout, rate limit, server error) so that an ambiguous message
// mentioning both resolves to the permanent reading. A pure function:
// no I/O, fully table-driven, exhaustively testable.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case containsAny(errStr, "context_length_exceeded", "context length exceeded",
		"maximum context length", "prompt is too long", "too many tokens", "context_overflow"):
		return FailoverContextOverflow
	case containsAny(errStr, "unauthorized", "invalid api key", "invalid_api_key",
		"authentication", "401", "403"):
		return FailoverAuth
	case containsAny(errStr, "billing", "payment", "quota", "insufficient", "402"):
		return FailoverBilling
	case containsAny(errStr, "invalid_request", "invalid request", "bad request", "malformed", "400"):
		return FailoverInvalidRequest
	case containsAny(errStr, "content_filter", "content policy", "safety", "blocked"):
		return FailoverContentFilter
	case containsAny(errStr, "model not found", "model_not_found", "does not exist", "model unavailable"):
		return FailoverModelUnavailable
	case containsAny(errStr, "timeout", "deadline exceeded", "context deadline", "etimedout", "idle stream"):
		return FailoverTimeout
	case containsAny(errStr, "rate limit", "rate_limit", "too many requests", "429", "overloaded"):
		return FailoverRateLimit
	case containsAny(errStr, "connection reset", "connection refused", "broken pipe", "eof", "no such host"):
		return FailoverConnection
	case containsAny(errStr, "internal server", "server error", "500", "502", "503", "504"):
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusRequestEntityTooLarge:
		return FailoverContextOverflow
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "context_length_exceeded", "string_above_max_length":
		return FailoverContextOverflow
	case "server_error", "internal_error":
		return FailoverServerError
	case "invalid_request_error":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// AsProviderError extracts a *ProviderError from err via errors.As.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
