// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package provider

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/kapicorp/kapitan/core/refs"
)

var logger = loggo.GetLogger("kapitan.refs.provider")

const (
	// PermissionDenied is returned when a backend refuses access.
	PermissionDenied = errors.ConstError("permission denied")

	// ErrPermanent marks backend errors that must not be retried.
	ErrPermanent = errors.ConstError("permanent backend error")
)

const (
	defaultAttempts = 3
	defaultDelay    = time.Second
	defaultMaxDelay = 10 * time.Second
	defaultTimeout  = 30 * time.Second
)

// Permanent marks err so that the caller does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithType(err, ErrPermanent)
}

// CallConfig bounds every call a backend makes to a remote service or
// subprocess.
type CallConfig struct {
	// Attempts is the maximum number of attempts per call.
	Attempts int
	// Delay is the wait before the first retry; it doubles on
	// every further retry up to MaxDelay.
	Delay    time.Duration
	MaxDelay time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Clock   clock.Clock
}

// DefaultCallConfig returns the call bounds used when none are given.
func DefaultCallConfig() CallConfig {
	return CallConfig{
		Attempts: defaultAttempts,
		Delay:    defaultDelay,
		MaxDelay: defaultMaxDelay,
		Timeout:  defaultTimeout,
		Clock:    clock.WallClock,
	}
}

func (c CallConfig) withDefaults() CallConfig {
	d := DefaultCallConfig()
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.Delay <= 0 {
		c.Delay = d.Delay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Clock == nil {
		c.Clock = d.Clock
	}
	return c
}

// Caller runs backend operations with a per-attempt timeout and a
// bounded number of retries, recording the outcome of every call.
type Caller struct {
	config  CallConfig
	metrics *Metrics
}

// NewCaller returns a Caller. A nil metrics collector is allowed.
func NewCaller(config CallConfig, metrics *Metrics) *Caller {
	return &Caller{
		config:  config.withDefaults(),
		metrics: metrics,
	}
}

// Call runs fn, retrying transient failures. The error of the last
// attempt is returned unmodified.
func (c *Caller) Call(ctx context.Context, backend, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
			lastErr = fn(callCtx)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return isFatal(ctx, err)
		},
		NotifyFunc: func(err error, attempt int) {
			if attempt < c.config.Attempts {
				logger.Warningf("%s %s failed (attempt %d/%d): %v", backend, op, attempt, c.config.Attempts, err)
			}
		},
		Attempts:    c.config.Attempts,
		Delay:       c.config.Delay,
		MaxDelay:    c.config.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.config.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil && lastErr != nil {
		// Surface the backend's own error, not the retry wrapper.
		err = lastErr
	}
	c.metrics.observeCall(backend, op, err)
	return err
}

func isFatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	for _, target := range []error{
		ErrPermanent,
		PermissionDenied,
		refs.ErrHashMismatch,
		refs.ErrRef,
		errors.NotFound,
		errors.NotValid,
		errors.NotSupported,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
