// Package retry provides generic failure classification and a retry
// policy with exponential backoff for externally-dependent operations.
package retry

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind is the generic failure taxonomy.
type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindConnection         ErrorKind = "connection"
	KindRateLimit          ErrorKind = "rate_limit"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindDeadlock           ErrorKind = "database_deadlock"
	KindTemporary          ErrorKind = "temporary_failure"
	KindAuth               ErrorKind = "auth"
	KindAuthorization      ErrorKind = "authorization"
	KindValidation         ErrorKind = "validation"
	KindNotFound           ErrorKind = "not_found"
	KindBusinessLogic      ErrorKind = "business_logic"
	KindConfiguration      ErrorKind = "configuration"
	KindCancelled          ErrorKind = "cancelled"
	KindUnknown            ErrorKind = "unknown"
)

// Retryable reports whether a failure of this kind is safe to retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindConnection, KindRateLimit, KindServiceUnavailable,
		KindDeadlock, KindTemporary:
		return true
	}
	return false
}

// Severity is a coarse severity level for observability.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severity returns the severity assigned to the kind.
func (k ErrorKind) Severity() Severity {
	switch k {
	case KindTimeout, KindConnection, KindRateLimit, KindServiceUnavailable,
		KindDeadlock, KindTemporary, KindCancelled:
		return SeverityWarning
	case KindConfiguration, KindAuth:
		return SeverityCritical
	}
	return SeverityError
}

// classification heuristics keyed by message substrings, checked in
// order so the more specific kinds win.
var kindPatterns = []struct {
	kind     ErrorKind
	patterns []string
}{
	{KindRateLimit, []string{"rate limit", "too many requests", "429", "quota exceeded", "throttl"}},
	{KindDeadlock, []string{"deadlock", "lock wait timeout"}},
	{KindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{KindConnection, []string{"connection refused", "connection reset", "broken pipe", "no such host", "network is unreachable", "eof"}},
	{KindServiceUnavailable, []string{"service unavailable", "503", "bad gateway", "502", "overloaded"}},
	{KindTemporary, []string{"temporary", "try again", "transient"}},
	{KindAuth, []string{"unauthorized", "401", "invalid api key", "authentication"}},
	{KindAuthorization, []string{"forbidden", "403", "permission denied", "not allowed"}},
	{KindNotFound, []string{"not found", "404", "does not exist", "no such"}},
	{KindValidation, []string{"validation", "invalid argument", "invalid input", "malformed", "bad request", "400"}},
	{KindConfiguration, []string{"configuration", "config error", "misconfigured", "missing required"}},
	{KindBusinessLogic, []string{"business rule", "conflict", "409", "precondition"}},
}

// Classify maps an arbitrary failure into the taxonomy using sentinel
// checks first and message-content heuristics second.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range kindPatterns {
		for _, p := range entry.patterns {
			if strings.Contains(msg, p) {
				return entry.kind
			}
		}
	}
	return KindUnknown
}
