package search

import (
	"context"
	"errors"
	"strings"
)

// Classification describes how the manager should react to an engine failure.
type Classification struct {
	ParserFault     bool // upstream payload-schema fault
	RetrySameEngine bool // transient, worth retrying with backoff
	Cascade         bool // move on to the fallback engines
}

// PatternRule maps error-message substrings to a classification. The upstream
// failure vocabulary changes without notice, so the table is data, not code:
// deployments can swap it without touching the control flow.
type PatternRule struct {
	Substrings []string
	Class      Classification
}

// Classifier buckets engine failures by matching message text. Unknown errors
// default to non-retryable so a misbehaving backend cannot trap us in an
// endless retry loop.
type Classifier struct {
	rules []PatternRule
}

// DefaultRules covers the failure modes observed in production: schema faults
// from the video metadata parser, then the usual network suspects.
func DefaultRules() []PatternRule {
	return []PatternRule{
		{
			Substrings: []string{
				"unable to extract",
				"cannot parse",
				"parse error",
				"unexpected token",
				"invalid character",
				"cannot read properties",
				"missing field",
				"no such format",
				"unmarshal",
			},
			Class: Classification{ParserFault: true, Cascade: true},
		},
		{
			Substrings: []string{
				"timeout",
				"timed out",
				"deadline exceeded",
				"connection reset",
				"connection refused",
				"econnreset",
				"econnrefused",
				"no route to host",
				"temporary failure",
				"tls handshake",
				"unexpected eof",
			},
			Class: Classification{RetrySameEngine: true, Cascade: true},
		},
	}
}

// NewClassifier creates a classifier with the given pattern table.
func NewClassifier(rules []PatternRule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify buckets an error. First matching rule wins.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{RetrySameEngine: true, Cascade: true}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range c.rules {
		for _, sub := range rule.Substrings {
			if strings.Contains(msg, sub) {
				return rule.Class
			}
		}
	}
	return Classification{}
}
