// Klingnet staking node daemon.
//
// Usage:
//
//	klingstaked [--network=testnet --staking-host=...] Run node
//	klingstaked --help                                Show help
//
// The daemon only exits after a signal or a fatal startup failure, and
// always with status 1 so a supervisor restarts it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-staker/config"
	klog "github.com/Klingon-tech/klingnet-staker/internal/log"
	"github.com/Klingon-tech/klingnet-staker/internal/node"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	if err := n.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	} else {
		<-ctx.Done()
		klog.Node.Info().Msg("Signal received")
	}
	sigCh := takeOverSignals(stop)
	go func() {
		for sig := range sigCh {
			klog.Node.Warn().Str("signal", sig.String()).Msg("Shutdown already in progress")
		}
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
	if err := n.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown: %v\n", err)
	}
	cancel()
	os.Exit(1)
}

var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// takeOverSignals moves SIGINT and SIGTERM from the context registered by
// stop to the returned channel. The new registration is made before stop
// runs so no signal falls back to the default handler in between.
func takeOverSignals(stop context.CancelFunc) <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)
	stop()
	return sigCh
}
