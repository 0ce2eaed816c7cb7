// Package mock provides a test double for the audiosource.Source interface.
//
// Zero values cause methods to return empty results and nil errors; set the
// response and error fields to feed controlled outcomes. Call slices record
// every invocation in order for later inspection.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scrivia/pkg/minutes"
)

// FetchCall records a single invocation of Fetch.
type FetchCall struct {
	Ctx context.Context
	Dir string
}

// Source is a mock implementation of audiosource.Source.
type Source struct {
	mu sync.Mutex

	// Speakers is returned by ListSpeakers.
	Speakers []minutes.SpeakerInfo

	// ListErr, if non-nil, is returned by ListSpeakers.
	ListErr error

	// Tracks is returned by Fetch. FetchFn, when set, takes precedence and
	// can create real files under the destination directory.
	Tracks  []minutes.AudioTrack
	FetchFn func(ctx context.Context, dir string) ([]minutes.AudioTrack, error)

	// FetchErr, if non-nil, is returned by Fetch (unless FetchFn is set).
	FetchErr error

	// ListCalls counts ListSpeakers invocations.
	ListCalls int

	// FetchCalls records every Fetch invocation in order.
	FetchCalls []FetchCall
}

// ListSpeakers implements audiosource.Source.
func (s *Source) ListSpeakers(_ context.Context) ([]minutes.SpeakerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Speakers, nil
}

// Fetch implements audiosource.Source.
func (s *Source) Fetch(ctx context.Context, dir string) ([]minutes.AudioTrack, error) {
	s.mu.Lock()
	s.FetchCalls = append(s.FetchCalls, FetchCall{Ctx: ctx, Dir: dir})
	fn := s.FetchFn
	tracks, err := s.Tracks, s.FetchErr
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, dir)
	}
	if err != nil {
		return nil, err
	}
	return tracks, nil
}
