package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/nullstream/h2engine/pkg/dispatcher"
	"github.com/nullstream/h2engine/pkg/frame"
)

// FrameSource adapts a *frame.Codec's blocking ReadFrame into the
// pull-based dispatcher.Source pkg/dispatcher.Dispatcher.Run drives,
// translating a closed transport into ItemDisconnect and an idle read
// deadline into ItemKeepAliveTimeout (spec.md §6's keep-alive timeout and
// scenario 6's "transport signals KeepAliveTimeout"), generalized from the
// read-loop goroutine in WhileEndless/go-rawhttp's pkg/http2/client.go.
type FrameSource struct {
	codec            *frame.Codec
	keepaliveTimeout time.Duration
	items            chan dispatcher.DispatchItem
}

// NewFrameSource starts the background read pump immediately. A
// keepaliveTimeout of 0 disables ItemKeepAliveTimeout delivery.
func NewFrameSource(codec *frame.Codec, keepaliveTimeout time.Duration) *FrameSource {
	s := &FrameSource{
		codec:            codec,
		keepaliveTimeout: keepaliveTimeout,
		items:            make(chan dispatcher.DispatchItem, 8),
	}
	go s.pump()
	return s
}

func (s *FrameSource) pump() {
	for {
		f, err := s.codec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.items <- dispatcher.DispatchItem{Kind: dispatcher.ItemDisconnect, Err: err}
			} else {
				s.items <- dispatcher.DispatchItem{Kind: dispatcher.ItemDecoderError, Err: err}
			}
			close(s.items)
			return
		}
		s.items <- dispatcher.DispatchItem{Kind: dispatcher.ItemFrame, Frame: f}
	}
}

// Next satisfies dispatcher.Source.
func (s *FrameSource) Next(ctx context.Context) (dispatcher.DispatchItem, error) {
	var timerC <-chan time.Time
	if s.keepaliveTimeout > 0 {
		timer := time.NewTimer(s.keepaliveTimeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case item, ok := <-s.items:
		if !ok {
			return dispatcher.DispatchItem{Kind: dispatcher.ItemDisconnect}, nil
		}
		return item, nil
	case <-ctx.Done():
		return dispatcher.DispatchItem{}, ctx.Err()
	case <-timerC:
		return dispatcher.DispatchItem{Kind: dispatcher.ItemKeepAliveTimeout}, nil
	}
}
