package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRelayOutlivesCallService(t *testing.T) {
	relayCtxs := make(chan context.Context, 1)
	relay := runnerFunc(func(ctx context.Context) error {
		relayCtxs <- ctx
		<-ctx.Done()
		return nil
	})

	var relayUpAtHangUp atomic.Bool
	calls := runnerFunc(func(ctx context.Context) error {
		relayCtx := <-relayCtxs
		<-ctx.Done()
		// Stands in for the last hang up sent while shutting down.
		time.Sleep(20 * time.Millisecond)
		relayUpAtHangUp.Store(relayCtx.Err() == nil)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wait := startServices(ctx, relay, calls)
	cancel()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("services did not stop")
	}
	if !relayUpAtHangUp.Load() {
		t.Fatal("relay was cancelled before the call service finished")
	}
}
