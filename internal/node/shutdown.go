package node

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/Klingon-tech/klingnet-staker/internal/heartbeat"
)

// Shutdown stops the node and releases everything Start built.
//
// It is safe to call after a failed Start and more than once: later calls
// wait for the first to finish and return its result. Every release step
// runs even when an earlier one fails or panics; the failures are
// combined into the returned error.
func (n *Node) Shutdown(ctx context.Context) error {
	n.shutdownOnce.Do(func() {
		n.shutdownErr = n.shutdown(ctx)
	})
	return n.shutdownErr
}

func (n *Node) shutdown(ctx context.Context) error {
	// Abort a Start still in progress and wait for it to return.
	n.abort()
	n.startMu.Lock()
	defer n.startMu.Unlock()

	n.setPhase(PhaseStopping)
	n.logger.Info().Msg("Shutting down")

	// Refuse new store work before anything else stops.
	if n.store != nil {
		n.store.Disable()
	}

	n.cancel()
	var errs error
	done := make(chan error, 1)
	go func() { done <- n.group.Wait() }()
	select {
	case err := <-done:
		errs = multierr.Append(errs, err)
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("waiting for background tasks: %w", ctx.Err()))
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"api listener", func() error {
			if n.api == nil {
				return nil
			}
			return n.api.Stop()
		}},
		{"status listener", func() error {
			if n.status == nil {
				return nil
			}
			return n.status.Stop()
		}},
		{"store", func() error {
			if n.store == nil {
				return nil
			}
			return n.store.Close()
		}},
		{"worker", func() error {
			n.workerMu.RLock()
			w := n.worker
			n.workerMu.RUnlock()
			if w == nil {
				return nil
			}
			return w.Close()
		}},
		{"status file", func() error {
			// A tick outliving the grace period must not rewrite the file.
			if n.hb != nil {
				return n.hb.Stop()
			}
			return heartbeat.RemoveStatusFile(n.cfg.HeartbeatFile())
		}},
		{"hot key", func() error {
			n.identity.Zero()
			return nil
		}},
	}
	for _, step := range steps {
		if err := release(step.name, step.fn); err != nil {
			n.logger.Error().Err(err).Str("step", step.name).Msg("Release failed")
			errs = multierr.Append(errs, err)
		}
	}

	n.setPhase(PhaseStopped)
	if errs != nil {
		n.logger.Warn().Int("failures", len(multierr.Errors(errs))).Msg("Shutdown finished with errors")
	} else {
		n.logger.Info().Msg("Goodbye!")
	}
	return errs
}

// release runs fn, converting a panic into an error.
func release(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
