package peertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Duet/internal/core"
)

type Track struct {
	id   string
	kind core.TrackKind
}

func NewTrack(id string, kind core.TrackKind) *Track { return &Track{id: id, kind: kind} }

func (t *Track) ID() string           { return t.id }
func (t *Track) Kind() core.TrackKind { return t.kind }

type Stream struct {
	id      string
	tracks  []core.LocalTrack
	stopped atomic.Int32
}

func NewStream(id string) *Stream {
	return &Stream{
		id:     id,
		tracks: []core.LocalTrack{
			NewTrack(id+"-audio", core.TrackAudio),
			NewTrack(id+"-video", core.TrackVideo),
		},
	}
}

func (s *Stream) ID() string                { return s.id }
func (s *Stream) Tracks() []core.LocalTrack { return s.tracks }
func (s *Stream) Stop()                     { s.stopped.Add(1) }
func (s *Stream) Stopped() bool             { return s.stopped.Load() > 0 }

// Media is a scripted MediaSource.
type Media struct {
	// Err fails every acquisition.
	Err error
	// Gate, when set, blocks Acquire until it is closed.
	Gate chan struct{}
	// IgnoreCancel makes a gated Acquire resolve even after ctx is done,
	// like a device prompt the user answers late.
	IgnoreCancel bool

	calls   atomic.Int32
	mu      sync.Mutex
	streams []*Stream
}

func (m *Media) Acquire(ctx context.Context) (core.LocalStream, error) {
	n := m.calls.Add(1)
	if m.Gate != nil {
		if m.IgnoreCancel {
			<-m.Gate
		} else {
			select {
			case <-m.Gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}
	s := NewStream("stream-" + string(rune('0'+n)))
	m.mu.Lock()
	m.streams = append(m.streams, s)
	m.mu.Unlock()
	return s, nil
}

func (m *Media) Calls() int { return int(m.calls.Load()) }

func (m *Media) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Stream(nil), m.streams...)
}
