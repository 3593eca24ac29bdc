// Package registry maps stream ids to stream handles and maintains the
// bounded, TTL'd reset-stream cache spec.md §4.4 requires so that frames
// arriving shortly after a stream closes are silently absorbed instead of
// tearing down the whole connection. Generalized from the
// StreamManager.streams map and cleanupClosedStreamsLocked sweep in
// WhileEndless/go-rawhttp's pkg/http2/stream.go.
package registry

import (
	"time"

	"github.com/nullstream/h2engine/pkg/stream"
)

type resetEntry struct {
	id       uint32
	deadline time.Time
}

// Registry owns the connection's stream table and reset-stream cache. It is
// not safe for concurrent use; spec.md §5 confines it to a single
// scheduling domain (the Connection/Dispatcher goroutine).
type Registry struct {
	streams map[uint32]*stream.Stream

	resetCache []resetEntry
	maxReset   int
	resetTTL   time.Duration
}

// New creates a Registry with the given reset-cache bound and TTL
// (spec.md §6 defaults: reset_stream_max=10, reset_stream_duration=10s).
func New(maxReset int, resetTTL time.Duration) *Registry {
	return &Registry{
		streams:  make(map[uint32]*stream.Stream),
		maxReset: maxReset,
		resetTTL: resetTTL,
	}
}

// Get returns the stream with the given id, if tracked.
func (r *Registry) Get(id uint32) (*stream.Stream, bool) {
	s, ok := r.streams[id]
	return s, ok
}

// Insert begins tracking a newly-opened stream.
func (r *Registry) Insert(s *stream.Stream) {
	r.streams[s.ID] = s
}

// Len reports the number of actively-tracked (non-evicted) streams.
func (r *Registry) Len() int {
	return len(r.streams)
}

// Remove stops tracking a stream outright, without caching it for late
// frames. Used when a stream never left Idle (e.g. a locally-allocated id
// whose HEADERS failed to send).
func (r *Registry) Remove(id uint32) {
	delete(r.streams, id)
}

// Retire removes a stream from the live table and records it in the
// reset-stream cache so that late frames from the peer are dropped rather
// than treated as a protocol error, for resetTTL (spec.md §4.4). If the
// cache is at capacity the oldest entry is evicted to make room.
func (r *Registry) Retire(id uint32, now time.Time) {
	delete(r.streams, id)
	if len(r.resetCache) >= r.maxReset && r.maxReset > 0 {
		r.resetCache = r.resetCache[1:]
	}
	if r.maxReset <= 0 {
		return
	}
	r.resetCache = append(r.resetCache, resetEntry{id: id, deadline: now.Add(r.resetTTL)})
}

// InResetCache reports whether id is currently cached as recently-reset, per
// the amortized sweep described in spec.md §4.4: expired entries are swept
// lazily here rather than via a dedicated timer.
func (r *Registry) InResetCache(id uint32, now time.Time) bool {
	r.sweep(now)
	for _, e := range r.resetCache {
		if e.id == id {
			return true
		}
	}
	return false
}

// ResetCacheLen reports the current cache size (spec.md §8 invariant 6:
// bounded at all times by reset_stream_max).
func (r *Registry) ResetCacheLen() int {
	return len(r.resetCache)
}

func (r *Registry) sweep(now time.Time) {
	if len(r.resetCache) == 0 {
		return
	}
	live := r.resetCache[:0]
	for _, e := range r.resetCache {
		if now.Before(e.deadline) {
			live = append(live, e)
		}
	}
	r.resetCache = live
}

// Each iterates over every live (non-cached, non-evicted) stream. fn may
// retire or remove the stream it is given; a stream retired during the
// iteration is not visited afterwards.
func (r *Registry) Each(fn func(*stream.Stream)) {
	for _, s := range r.streams {
		fn(s)
	}
}
