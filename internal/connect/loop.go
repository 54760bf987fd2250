// Package connect holds the connection race and the reconnect loop shared by
// every casting device.
package connect

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Outcome tells how a Loop ended.
type Outcome int

const (
	// Finished means work returned nil, usually after a quit request.
	Finished Outcome = iota
	// DidNotConnect means the last attempt never reached the receiver.
	DidNotConnect
	// Failed means the last attempt broke after connecting.
	Failed
	// Cancelled means ctx ended while waiting to reconnect.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Finished:
		return "Finished"
	case DidNotConnect:
		return "DidNotConnect"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	}
	return "Unknown"
}

// Result is returned by Loop. Err is the last work error, if any.
type Result struct {
	Outcome Outcome
	Err     error
}

// Policy controls reconnection.
type Policy struct {
	// Interval is the wait between attempts. Zero disables reconnecting.
	Interval time.Duration
	// MaxRetries bounds consecutive failed attempts. Negative is unbounded.
	MaxRetries int
	// Limiter optionally paces attempts on top of Interval.
	Limiter *rate.Limiter
	Logger  *zerolog.Logger
}

// Established is called by work once a session is live.
type Established func()

// WorkFunc runs one connection attempt and its session.
type WorkFunc func(ctx context.Context, established Established) error

// Loop runs work until it returns nil, ctx ends or the policy gives up.
// onReconnectStarted runs before every retry that follows a session error.
func Loop(ctx context.Context, p Policy, work WorkFunc, onReconnectStarted func()) Result {
	log := p.Logger
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}

	retries := 0
	for {
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return Result{Outcome: Cancelled}
			}
		}

		err := work(ctx, func() { retries = 0 })
		if err == nil {
			return Result{Outcome: Finished}
		}

		log.Error().Str("Method", "Loop").Err(err).Msg("work error")

		outcome := Failed
		if errors.Is(err, ErrDidNotConnect) {
			outcome = DidNotConnect
		}
		if p.Interval <= 0 || (p.MaxRetries >= 0 && retries >= p.MaxRetries) {
			return Result{Outcome: outcome, Err: err}
		}
		retries++

		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Outcome: Cancelled, Err: err}
		case <-timer.C:
		}

		if outcome != DidNotConnect && onReconnectStarted != nil {
			onReconnectStarted()
		}
	}
}
