// Package gate blocks startup until the node's external dependencies
// (persistent store, chain JSON-RPC endpoint) are reachable.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/rpcclient"
)

// ErrChainUnavailable is returned when the chain endpoint was not reached
// within the retry policy.
var ErrChainUnavailable = errors.New("chain endpoint unavailable")

// probeTimeout bounds a single chain probe.
const probeTimeout = 10 * time.Second

// Pinger reports whether a store is reachable.
type Pinger interface {
	Ping() error
}

// ChainProber queries the chain endpoint for its tip.
type ChainProber interface {
	ChainInfo(ctx context.Context) (*rpcclient.ChainInfo, error)
}

// RetryPolicy bounds WaitForChain.
type RetryPolicy struct {
	MaxAttempts int           // 0 = unbounded
	Interval    time.Duration // delay between attempts
	Timeout     time.Duration // overall deadline, 0 = none
}

// WaitForStore pings p until it answers, at most maxAttempts times with
// interval between attempts. It returns false when every attempt failed
// or ctx was cancelled.
func WaitForStore(ctx context.Context, p Pinger, maxAttempts int, interval time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := p.Ping()
		if err == nil {
			log.Gate.Info().Int("attempt", attempt).Msg("Store reachable")
			return true
		}
		log.Gate.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Store not reachable")
		if attempt == maxAttempts {
			break
		}
		if !sleep(ctx, interval) {
			return false
		}
	}
	return false
}

// WaitForChain probes c until it reports chain info. It fails with
// ErrChainUnavailable once policy.MaxAttempts is exhausted, and with the
// context error when ctx is cancelled or policy.Timeout expires.
func WaitForChain(ctx context.Context, c ChainProber, policy RetryPolicy) (*rpcclient.ChainInfo, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	for attempt := 1; policy.MaxAttempts == 0 || attempt <= policy.MaxAttempts; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		info, err := c.ChainInfo(probeCtx)
		cancel()
		if err == nil {
			log.Gate.Info().
				Int("attempt", attempt).
				Str("chain_id", info.ChainID).
				Uint64("height", info.Height).
				Msg("Chain endpoint reachable")
			return info, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for chain: %w", ctx.Err())
		}
		log.Gate.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Msg("Chain endpoint not reachable")
		if policy.MaxAttempts != 0 && attempt == policy.MaxAttempts {
			break
		}
		if !sleep(ctx, policy.Interval) {
			return nil, fmt.Errorf("waiting for chain: %w", ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrChainUnavailable, policy.MaxAttempts)
}

// sleep waits for d or ctx. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
