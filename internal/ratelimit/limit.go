// Package ratelimit implements fixed-window request limits backed by memory
// or Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidLimit is returned when a limit expression cannot be parsed.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Limit allows Count requests per Period.
type Limit struct {
	Count  int
	Period time.Duration
}

var periods = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseLimit parses expressions such as "200/day", "50 per hour" or "3/minute".
func ParseLimit(s string) (Limit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	count, unit, ok := strings.Cut(s, "/")
	if !ok {
		count, unit, ok = strings.Cut(s, " per ")
	}
	if !ok {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}

	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}

	period, ok := periods[strings.TrimSuffix(strings.TrimSpace(unit), "s")]
	if !ok {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, s)
	}
	return Limit{Count: n, Period: period}, nil
}

// MustParse is like ParseLimit but panics on error.
func MustParse(s string) Limit {
	l, err := ParseLimit(s)
	if err != nil {
		panic(err)
	}
	return l
}

// String renders the limit as "<count>/<period>".
func (l Limit) String() string {
	for name, d := range periods {
		if d == l.Period {
			return fmt.Sprintf("%d/%s", l.Count, name)
		}
	}
	return fmt.Sprintf("%d/%s", l.Count, l.Period)
}

// Result is the outcome of one Allow call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Store counts hits per key within fixed windows.
type Store interface {
	Allow(ctx context.Context, key string, limit Limit) (Result, error)
}

// AllowAll checks every limit for key and returns the first rejection, or the
// result with the fewest remaining requests when all pass.
func AllowAll(ctx context.Context, store Store, key string, limits ...Limit) (Result, error) {
	var tightest *Result
	for _, l := range limits {
		res, err := store.Allow(ctx, key, l)
		if err != nil {
			return Result{}, err
		}
		if !res.Allowed {
			return res, nil
		}
		if tightest == nil || res.Remaining < tightest.Remaining {
			r := res
			tightest = &r
		}
	}
	if tightest == nil {
		return Result{Allowed: true}, nil
	}
	return *tightest, nil
}

func windowKey(key string, l Limit) string {
	return l.String() + ":" + key
}
