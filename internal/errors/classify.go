package errors

import "strings"

// ============================================================
// Recovery Table
// ============================================================

// RecoveryRule maps one error kind to its retry ceiling and the
// remediation text shown to the user once retries run out.
type RecoveryRule struct {
	Kind Kind

	// Signals are case-sensitive substrings of the raw error text.
	Signals []string

	Retryable  bool
	MaxRetries int

	// Guidance is appended verbatim to the failure turn.
	Guidance string
}

// RecoveryTable is an ordered list of rules; the first match wins.
// Fallback applies when no rule matches.
type RecoveryTable struct {
	Rules    []RecoveryRule
	Fallback RecoveryRule
}

// DefaultRecoveryTable returns the stock recovery policy.
func DefaultRecoveryTable() *RecoveryTable {
	return &RecoveryTable{
		Rules: []RecoveryRule{
			{
				Kind:       KindRateLimited,
				Signals:    []string{"429", "Too Many Requests"},
				Retryable:  true,
				MaxRetries: 3,
				Guidance: "\n\nRate Limit Error - the model host is busy:\n" +
					"1. Wait 15-30 minutes for rate limits to reset\n" +
					"2. Try again from a different network (different IP address)\n" +
					"3. Try off-peak hours\n" +
					"4. Hosts commonly allow ~60 downloads per hour per IP address",
			},
			{
				Kind:       KindCacheCorrupt,
				Signals:    []string{"Cache", "cache"},
				Retryable:  true,
				MaxRetries: 2,
				Guidance: "\n\nCache Error Solutions:\n" +
					"1. Clear the model cache (modeldock clear-cache)\n" +
					"2. Retry the download\n" +
					"3. Check free disk space",
			},
			{
				Kind:       KindNetworkFailure,
				Signals:    []string{"network", "fetch"},
				Retryable:  true,
				MaxRetries: 2,
				Guidance: "\n\nNetwork Error Solutions:\n" +
					"1. Check internet connection\n" +
					"2. Try again in a few minutes\n" +
					"3. Disable VPN/proxy if active",
			},
			{
				Kind:       KindOutOfMemory,
				Signals:    []string{"memory", "Memory"},
				Retryable:  false,
				MaxRetries: 0,
				Guidance: "\n\nMemory Error Solutions:\n" +
					"1. Close other memory-hungry applications\n" +
					"2. Try a smaller model (TinyLlama 1.1B or Llama 3.2 1B)\n" +
					"3. Use a machine with more RAM",
			},
		},
		Fallback: RecoveryRule{
			Kind:       KindUnknown,
			Retryable:  true,
			MaxRetries: 1,
			Guidance: "\n\nGeneral Solutions:\n" +
				"1. Retry the load\n" +
				"2. Try a different model\n" +
				"3. Check the log file for details",
		},
	}
}

// Classify returns the rule governing err. A structured kind carried by
// the error wins; substring matching on the raw text is the fallback.
func (t *RecoveryTable) Classify(err error) RecoveryRule {
	if kind, ok := StructuredKind(err); ok {
		switch kind {
		case KindUnknownModel, KindCanceled:
			return RecoveryRule{Kind: kind}
		}
		if rule, found := t.Rule(kind); found {
			return rule
		}
	}
	return t.ClassifyMessage(RawMessage(err))
}

// ClassifyMessage applies the substring rules to an error text.
func (t *RecoveryTable) ClassifyMessage(msg string) RecoveryRule {
	for _, rule := range t.Rules {
		for _, signal := range rule.Signals {
			if strings.Contains(msg, signal) {
				return rule
			}
		}
	}
	return t.Fallback
}

// Rule looks up the rule for a kind.
func (t *RecoveryTable) Rule(kind Kind) (RecoveryRule, bool) {
	if t.Fallback.Kind == kind {
		return t.Fallback, true
	}
	for _, rule := range t.Rules {
		if rule.Kind == kind {
			return rule, true
		}
	}
	return RecoveryRule{}, false
}

// AllowsRetry reports whether another attempt may follow a failure of
// the given attempt number (0-based).
func (r RecoveryRule) AllowsRetry(attempt int) bool {
	return r.Retryable && attempt < r.MaxRetries
}
