// Package ratelimit implements a sliding-window rate limiter over the shared
// key-value store, so counts survive restarts and are shared across processes.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"cadence/backend/internal/kvstore"
	pkgerrors "cadence/backend/pkg/errors"
)

// Rule names one limited operation. Rules are registered at startup; asking
// for an unregistered rule is a deployment bug, not a runtime condition.
type Rule struct {
	Name        string
	Window      time.Duration
	MaxRequests int
	KeyPrefix   string // storage key namespace, defaults to "ratelimit"
}

// Result reports one limiter decision.
type Result struct {
	Allowed    bool
	Remaining  int           // requests left in the current window
	RetryAfter time.Duration // zero when allowed
}

// Limiter checks and records requests against registered rules. When the
// backing store is unreachable it fails open: a brief burst of extra traffic
// is cheaper than refusing every user during an outage.
type Limiter struct {
	store  kvstore.Store
	logger *zap.Logger
	rules  map[string]Rule
	now    func() time.Time
}

// NewLimiter creates a limiter with the given rules registered.
func NewLimiter(store kvstore.Store, logger *zap.Logger, rules ...Rule) *Limiter {
	byName := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}
	return &Limiter{
		store:  store,
		logger: logger,
		rules:  byName,
		now:    time.Now,
	}
}

// Rules returns the registered rules, for the ops surface.
func (l *Limiter) Rules() []Rule {
	out := make([]Rule, 0, len(l.rules))
	for _, r := range l.rules {
		out = append(out, r)
	}
	return out
}

func (r Rule) key(subject string) string {
	prefix := r.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit"
	}
	return fmt.Sprintf("%s:%s:%s", prefix, r.Name, subject)
}

// CheckAndRecord applies the named rule to subject, recording the request
// when allowed. The error return is non-nil only for unknown rule names;
// store failures are logged and the request is allowed through.
func (l *Limiter) CheckAndRecord(ctx context.Context, ruleName, subject string) (Result, error) {
	rule, ok := l.rules[ruleName]
	if !ok {
		return Result{}, pkgerrors.NewUnknownRateRule(ruleName)
	}

	key := rule.key(subject)
	now := l.now()
	cutoff := now.Add(-rule.Window)

	raw, err := l.store.ListRange(ctx, key, 0, -1)
	if err != nil {
		l.logger.Warn("rate limit check failed open",
			zap.String("rule", rule.Name),
			zap.String("subject", subject),
			zap.Error(err),
		)
		return Result{Allowed: true, Remaining: rule.MaxRequests}, nil
	}

	// Entries are stored newest first. Count the ones still inside the
	// window and remember the oldest of them for the retry hint.
	var inWindow int
	var oldest time.Time
	for _, entry := range raw {
		millis, perr := strconv.ParseInt(entry, 10, 64)
		if perr != nil {
			continue
		}
		at := time.UnixMilli(millis)
		if at.Before(cutoff) {
			break
		}
		inWindow++
		oldest = at
	}

	if inWindow >= rule.MaxRequests {
		retryAfter := oldest.Add(rule.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}

	if err := l.record(ctx, key, rule, now); err != nil {
		l.logger.Warn("rate limit record failed",
			zap.String("rule", rule.Name),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
	return Result{Allowed: true, Remaining: rule.MaxRequests - inWindow - 1}, nil
}

func (l *Limiter) record(ctx context.Context, key string, rule Rule, now time.Time) error {
	if err := l.store.ListPrepend(ctx, key, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		return err
	}
	// Stale entries past MaxRequests can never influence a decision.
	if err := l.store.ListTrim(ctx, key, 0, rule.MaxRequests-1); err != nil {
		return err
	}
	return l.store.Expire(ctx, key, rule.Window)
}
