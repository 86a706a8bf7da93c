package main

import (
	"context"

	"github.com/rs/zerolog/log"
)

type runner interface {
	Run(ctx context.Context) error
}

// startServices runs the relay client and the call service. The call service
// stops with ctx; the relay outlives it so the hang up it sends on the way out
// still reaches the remote side. The returned wait blocks until both are done
// and must be called after ctx is cancelled.
func startServices(ctx context.Context, relay, calls runner) (wait func()) {
	relayCtx, cancelRelay := context.WithCancel(context.WithoutCancel(ctx))
	relayDone := make(chan struct{})
	callsDone := make(chan struct{})

	go func() {
		defer close(relayDone)
		if err := relay.Run(relayCtx); err != nil {
			log.Error().Err(err).Msg("Relay client stopped")
		}
	}()
	go func() {
		defer close(callsDone)
		if err := calls.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Call service stopped")
		}
	}()

	return func() {
		<-callsDone
		cancelRelay()
		<-relayDone
	}
}
