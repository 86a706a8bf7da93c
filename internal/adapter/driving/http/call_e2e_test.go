package http

import (
	"context"
	"testing"
	"time"

	relayws "github.com/Wyydra/yacall/internal/adapter/driven/relay/ws"
	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
)

// echoPeers emits a canned description: an offer for initiators, an answer
// once a responder is signalled.
type echoPeers struct{}

type echoPeer struct{ opts port.PeerOptions }

func (echoPeers) NewPeer(opts port.PeerOptions) (port.Peer, error) {
	if opts.Initiator {
		go opts.OnSignal(domain.NegotiationPayload(`{"type":"offer","sdp":"o"}`))
	}
	return &echoPeer{opts: opts}, nil
}

func (p *echoPeer) Signal(payload domain.NegotiationPayload) error {
	if !p.opts.Initiator {
		go p.opts.OnSignal(domain.NegotiationPayload(`{"type":"answer","sdp":"a"}`))
	}
	return nil
}

func (p *echoPeer) Destroy() error { return nil }

func startCaller(t *testing.T, url string, codec wire.Codec, name string) *service.CallService {
	t.Helper()
	relay, err := relayws.NewClient(relayws.Options{URL: url, Codec: codec, MinBackoff: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	svc := service.NewCallService(service.CallConfig{
		Relay:       relay,
		Peers:       echoPeers{},
		Presence:    service.NewPresenceRegistry(relay),
		RingTimeout: -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	svcDone := make(chan struct{})
	go func() { relay.Run(ctx); close(relayDone) }()
	go func() { svc.Run(ctx); close(svcDone) }()
	t.Cleanup(func() {
		cancel()
		<-svcDone
		<-relayDone
	})

	if err := svc.SetName(ctx, name); err != nil {
		t.Fatal(err)
	}
	return svc
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCallOverWebsocketRelay(t *testing.T) {
	for _, codec := range []wire.Codec{wire.JSON, wire.Msgpack} {
		t.Run(codec.Name(), func(t *testing.T) {
			ts := newTestServer(t)
			url := wsURL(ts, "")
			alice := startCaller(t, url, codec, "alice")
			bob := startCaller(t, url, codec, "bob")

			var bobID domain.ParticipantID
			eventually(t, "alice sees bob by name", func() bool {
				for _, p := range alice.View().Others {
					if p.Name == "bob" {
						bobID = p.ID
						return true
					}
				}
				return false
			})

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			if err := alice.Call(ctx, bobID); err != nil {
				t.Fatalf("Call: %v", err)
			}
			eventually(t, "bob ringing", func() bool {
				v := bob.View()
				return v.Phase == domain.PhaseRingingIncoming && v.Remote != nil && v.Remote.Name == "alice"
			})
			if err := bob.Accept(ctx); err != nil {
				t.Fatalf("Accept: %v", err)
			}
			eventually(t, "alice connected", func() bool { return alice.View().Phase == domain.PhaseConnected })

			if err := bob.HangUp(ctx); err != nil {
				t.Fatalf("HangUp: %v", err)
			}
			eventually(t, "alice idle", func() bool {
				v := alice.View()
				return v.Phase == domain.PhaseIdle && v.Reason == domain.ReasonHangUp
			})
		})
	}
}
