package pion

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultGatherTimeout = 3 * time.Second
	pliInterval          = 3 * time.Second
)

var ErrUnexpectedOffer = errors.New("initiator received an offer")

type Config struct {
	// ICEServers are STUN/TURN urls, e.g. "stun:stun.l.google.com:19302".
	ICEServers []string

	// GatherTimeout caps the wait for ICE gathering before the description
	// is sent with whatever candidates were found.
	GatherTimeout time.Duration
}

// Factory implements port.PeerFactory on pion/webrtc.
type Factory struct {
	api           *webrtc.API
	config        webrtc.Configuration
	gatherTimeout time.Duration
}

func NewFactory(cfg Config) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	// NACK, RTCP reports and TWCC.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory()}

	var config webrtc.Configuration
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = DefaultGatherTimeout
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{
		api:           api,
		config:        config,
		gatherTimeout: timeout,
	}, nil
}

// Peer wraps one PeerConnection. Descriptions are exchanged whole: the local
// one is emitted through OnSignal once gathering completes.
type Peer struct {
	pc            *webrtc.PeerConnection
	opts          port.PeerOptions
	gatherTimeout time.Duration
	log           zerolog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

func (f *Factory) NewPeer(opts port.PeerOptions) (port.Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}

	p := &Peer{
		pc:            pc,
		opts:          opts,
		gatherTimeout: f.gatherTimeout,
		log:           log.With().Str("component", "peer").Bool("initiator", opts.Initiator).Logger(),
		closed:        make(chan struct{}),
	}

	if err := p.addMedia(); err != nil {
		pc.Close()
		return nil, err
	}

	pc.OnTrack(p.onTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug().Str("state", state.String()).Msg("Connection state changed")
		if state == webrtc.PeerConnectionStateFailed && !p.isClosed() && p.opts.OnFailure != nil {
			p.opts.OnFailure(fmt.Errorf("peer connection %s", state))
		}
	})

	if opts.Initiator {
		go p.offer()
	}
	return p, nil
}

// addMedia sends the local tracks, or asks to receive audio and video when
// there is nothing to send.
func (p *Peer) addMedia() error {
	if stream, ok := p.opts.Stream.(*LocalStream); ok && stream != nil {
		for _, track := range stream.Tracks() {
			sender, err := p.pc.AddTrack(track)
			if err != nil {
				return fmt.Errorf("add %s track: %w", track.Kind(), err)
			}
			go drainRTCP(sender)
		}
		return nil
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Interceptors only run while someone reads incoming RTCP.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) offer() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	p.emitLocal(offer)
}

func (p *Peer) emitLocal(desc webrtc.SessionDescription) {
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(desc); err != nil {
		p.fail(fmt.Errorf("set local %s: %w", desc.Type, err))
		return
	}

	timer := time.NewTimer(p.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		p.log.Debug().Dur("after", p.gatherTimeout).Msg("ICE gathering incomplete, sending partial candidates")
	case <-p.closed:
		return
	}

	local := p.pc.LocalDescription()
	if local == nil {
		p.fail(errors.New("no local description"))
		return
	}
	payload, err := json.Marshal(local)
	if err != nil {
		p.fail(err)
		return
	}
	if !p.isClosed() && p.opts.OnSignal != nil {
		p.opts.OnSignal(domain.NegotiationPayload(payload))
	}
}

// Signal applies a remote description. An offer is answered asynchronously
// through OnSignal.
func (p *Peer) Signal(payload domain.NegotiationPayload) error {
	if p.isClosed() {
		return webrtc.ErrConnectionClosed
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}

	switch desc.Type {
	case webrtc.SDPTypeOffer:
		if p.opts.Initiator {
			return ErrUnexpectedOffer
		}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		go p.emitLocal(answer)
		return nil

	case webrtc.SDPTypeAnswer:
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported description type %q", desc.Type)
	}
}

func (p *Peer) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	p.log.Debug().Str("kind", track.Kind().String()).Str("stream_id", track.StreamID()).Msg("Received remote track")

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go p.requestKeyframes(track)
	}
	if p.opts.OnStream != nil && !p.isClosed() {
		p.opts.OnStream(&RemoteStream{track: track, receiver: receiver})
	}
}

// requestKeyframes sends a PLI right away and then periodically, so a
// decoder joining late still gets a keyframe.
func (p *Peer) requestKeyframes(track *webrtc.TrackRemote) {
	sendPLI := func() error {
		return p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		})
	}
	if err := sendPLI(); err != nil {
		return
	}

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closed:
			return
		case <-ticker.C:
			if err := sendPLI(); err != nil {
				return
			}
		}
	}
}

func (p *Peer) fail(err error) {
	if p.isClosed() {
		return
	}
	p.log.Error().Err(err).Msg("Negotiation failed")
	if p.opts.OnFailure != nil {
		p.opts.OnFailure(err)
	}
}

func (p *Peer) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *Peer) Destroy() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.pc.Close()
	})
	return err
}
