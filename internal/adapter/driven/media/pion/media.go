package pion

import (
	"context"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// LocalStream is a set of local tracks shared by every call.
type LocalStream struct {
	id     string
	tracks []*webrtc.TrackLocalStaticSample
}

func (s *LocalStream) ID() string {
	return s.id
}

func (s *LocalStream) Tracks() []*webrtc.TrackLocalStaticSample {
	return s.tracks
}

// SyntheticSource produces an opus + VP8 stream with no capture device
// behind it. Samples written to its tracks are sent to the remote side.
type SyntheticSource struct {
	Audio bool
	Video bool
}

func (s SyntheticSource) Acquire(ctx context.Context) (port.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := s.NewStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s SyntheticSource) NewStream() (*LocalStream, error) {
	if !s.Audio && !s.Video {
		return nil, fmt.Errorf("no audio or video requested")
	}

	id := "yacall-" + uuid.NewString()
	stream := &LocalStream{id: id}
	if s.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", id,
		)
		if err != nil {
			return nil, fmt.Errorf("create audio track: %w", err)
		}
		stream.tracks = append(stream.tracks, track)
	}
	if s.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", id,
		)
		if err != nil {
			return nil, fmt.Errorf("create video track: %w", err)
		}
		stream.tracks = append(stream.tracks, track)
	}
	return stream, nil
}

// RemoteStream is one incoming track.
type RemoteStream struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (r *RemoteStream) ID() string {
	return r.track.StreamID()
}

func (r *RemoteStream) Kind() string {
	return r.track.Kind().String()
}

func (r *RemoteStream) Track() *webrtc.TrackRemote {
	return r.track
}
