package cliapp

import (
	"context"
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type fakeLifecycle struct {
	startErr error
	started  chan struct{}
	stopped  bool
}

func (f *fakeLifecycle) Start(ctx context.Context) error {
	close(f.started)
	return f.startErr
}

func (f *fakeLifecycle) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeLifecycle) Stopped() bool {
	return f.stopped
}

func newCliContext(ctx context.Context) *cli.Context {
	c := cli.NewContext(cli.NewApp(), flag.NewFlagSet("test", flag.ContinueOnError), nil)
	c.Context = ctx
	return c
}

func TestLifecycleCmdStopsOnCancel(t *testing.T) {
	app := &fakeLifecycle{started: make(chan struct{})}
	action := LifecycleCmd(func(ctx *cli.Context) (Lifecycle, error) {
		return app, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- action(newCliContext(ctx)) }()

	<-app.started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not stop")
	}
	assert.True(t, app.Stopped())
}

func TestLifecycleCmdSetupError(t *testing.T) {
	boom := errors.New("no rpc")
	action := LifecycleCmd(func(ctx *cli.Context) (Lifecycle, error) {
		return nil, boom
	})

	err := action(newCliContext(context.Background()))
	assert.ErrorIs(t, err, boom)
}

func TestLifecycleCmdStartError(t *testing.T) {
	boom := errors.New("db down")
	app := &fakeLifecycle{started: make(chan struct{}), startErr: boom}
	action := LifecycleCmd(func(ctx *cli.Context) (Lifecycle, error) {
		return app, nil
	})

	err := action(newCliContext(context.Background()))
	assert.ErrorIs(t, err, boom)
}
