package recording

import (
	"sync"
	"time"

	"github.com/echoroom/server/internal/domain"
)

// Session is the per-room RecordingSession: it owns the participant
// captures and the at-most-one-merge guard. Once a merge has started it
// operates on a snapshot; the session does not depend on the room still
// existing in the directory.
type Session struct {
	mu sync.Mutex

	roomKey   domain.RoomKey
	roomRef   int64
	startedAt time.Time
	dir       string

	participants map[string]*Capture
	isCombining  bool
}

// setRoomRef records the persistence reference if it is not yet known.
func (s *Session) setRoomRef(ref int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roomRef == 0 && ref != 0 {
		s.roomRef = ref
	}
}

func (s *Session) ref() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomRef
}

// tryBeginCombine flips the combine guard. Only the first caller wins; any
// later trigger while a merge is in flight is a no-op, not queued.
func (s *Session) tryBeginCombine() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isCombining {
		return false
	}
	s.isCombining = true
	return true
}

// allFinished reports whether every capture is Encoded or Failed, and
// whether at least one is Encoded. A session with no captures counts as
// finished with nothing usable.
func (s *Session) allFinished() (done, anyEncoded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	anyEncoded = false
	for _, c := range s.participants {
		switch c.state {
		case StateEncoded:
			anyEncoded = true
		case StateFailed:
		default:
			return false, false
		}
	}
	return true, anyEncoded
}

// snapshot copies the captures under the session lock. Merge processing
// works on the copies, so concurrent state transitions of still-encoding
// captures cannot race with it.
func (s *Session) snapshot() []Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Capture, 0, len(s.participants))
	for _, c := range s.participants {
		out = append(out, *c)
	}
	return out
}
