package cliapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

// Lifecycle represents a long-running service that can be started and stopped.
type Lifecycle interface {
	// Start starts a service. A service only fully starts once. Subsequent starts may return an error.
	// A context is provided to end the service during setup.
	// The caller should call Stop to clean up after failing to start.
	Start(ctx context.Context) error
	// Stop stops a service gracefully.
	// The provided ctx can force an accelerated shutdown,
	// but the node still has to completely stop.
	Stop(ctx context.Context) error
	// Stopped determines if the service was already fully stopped.
	// This may be used to determine if the service has been shut down by itself.
	Stopped() bool
}

// LifecycleAction instantiates a Lifecycle based on a CLI context.
type LifecycleAction func(ctx *cli.Context) (Lifecycle, error)

var interruptSignals = []os.Signal{
	os.Interrupt,
	os.Kill,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// LifecycleCmd turns a LifecycleAction into a CLI action which runs the service
// until an interrupt is received or the parent context is cancelled.
func LifecycleCmd(fn LifecycleAction) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		hostCtx := ctx.Context
		appCtx, appCancel := context.WithCancelCause(hostCtx)
		ctx.Context = appCtx

		go func() {
			sigCtx, stop := signal.NotifyContext(hostCtx, interruptSignals...)
			defer stop()
			<-sigCtx.Done()
			appCancel(errors.New("interrupt signal"))
		}()

		appLifecycle, err := fn(ctx)
		if err != nil {
			return errors.Join(
				fmt.Errorf("failed to setup: %w", err),
				context.Cause(appCtx),
			)
		}

		if err := appLifecycle.Start(appCtx); err != nil {
			return errors.Join(
				fmt.Errorf("failed to start: %w", err),
				context.Cause(appCtx),
			)
		}

		// wait for app to be closed (through interrupt or parent cancellation)
		<-appCtx.Done()
		log.Info("Received shutdown signal", "cause", context.Cause(appCtx))

		// use a fresh context for stopping (not the cancelled app context)
		stopCtx, stopCancel := context.WithCancelCause(hostCtx)
		go func() {
			sigCtx, stop := signal.NotifyContext(hostCtx, interruptSignals...)
			defer stop()
			<-sigCtx.Done()
			stopCancel(errors.New("second interrupt signal"))
		}()

		stopErr := appLifecycle.Stop(stopCtx)
		stopCancel(nil)
		if stopErr != nil {
			return errors.Join(
				fmt.Errorf("failed to stop: %w", stopErr),
				context.Cause(stopCtx),
			)
		}
		return nil
	}
}
