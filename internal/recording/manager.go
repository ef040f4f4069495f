package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/domain"
	"github.com/echoroom/server/internal/media"
	"github.com/echoroom/server/internal/protocol"
	"github.com/echoroom/server/internal/storage"
)

// Encoder is the slice of the media capability the capture pipeline needs.
type Encoder interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Transcode(ctx context.Context, in, out string, spec media.Spec) error
}

// Combiner merges a snapshot of finished tracks into one artifact and
// returns the total timeline length in seconds.
type Combiner interface {
	Merge(ctx context.Context, tracks []media.Track, outPath string) (float64, error)
}

// Notifier broadcasts an outbound message to every member of a room.
type Notifier interface {
	Broadcast(key domain.RoomKey, v any)
}

// Manager owns every live RecordingSession and drives each one through
// Recording -> AllStopped -> Combining -> Closed.
type Manager struct {
	mu       sync.Mutex
	sessions map[domain.RoomKey]*Session

	rootDir string
	grace   time.Duration
	spec    media.Spec

	enc     Encoder
	comb    Combiner
	store   storage.Persistence
	uploads storage.Uploader
	notify  Notifier
}

func NewManager(rootDir string, grace time.Duration, enc Encoder, comb Combiner, store storage.Persistence, uploads storage.Uploader, notify Notifier) *Manager {
	return &Manager{
		sessions: make(map[domain.RoomKey]*Session),
		rootDir:  rootDir,
		grace:    grace,
		spec:     media.CaptureSpec(),
		enc:      enc,
		comb:     comb,
		store:    store,
		uploads:  uploads,
		notify:   notify,
	}
}

// StartSession creates the room's RecordingSession if absent.
func (m *Manager) StartSession(key domain.RoomKey) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	s := &Session{
		roomKey:      key,
		startedAt:    time.Now(),
		dir:          filepath.Join(m.rootDir, fmt.Sprintf("room_%s_%s", key, uuid.NewString()[:8])),
		participants: make(map[string]*Capture),
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		log.Error().Err(err).Str("module", "recording").Str("room", string(key)).Msg("could not create session dir")
	}
	m.sessions[key] = s
	log.Info().Str("module", "recording").Str("room", string(key)).Str("dir", s.dir).Msg("recording session started")
	return s
}

func (m *Manager) session(key domain.RoomKey) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

func (m *Manager) closeSession(key domain.RoomKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	log.Info().Str("module", "recording").Str("room", string(key)).Msg("recording session closed")
}

// StartCapture opens the participant's capture stream, creating the session
// if needed. Idempotent per participant.
func (m *Manager) StartCapture(key domain.RoomKey, userName string, startedAt time.Time, roomRef int64) error {
	s := m.StartSession(key)
	s.setRoomRef(roomRef)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[userName]; ok {
		return nil
	}

	userDir := filepath.Join(s.dir, userName)
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return fmt.Errorf("create capture dir for %s: %w", userName, err)
	}
	id := uuid.NewString()[:8]
	rawPath := filepath.Join(userDir, fmt.Sprintf("capture_%s.webm", id))
	file, err := os.Create(rawPath)
	if err != nil {
		return fmt.Errorf("open capture stream for %s: %w", userName, err)
	}

	s.participants[userName] = &Capture{
		UserName:    userName,
		Dir:         userDir,
		RawPath:     rawPath,
		EncodedPath: filepath.Join(userDir, fmt.Sprintf("recording_%s.mp3", id)),
		StartedAt:   startedAt,
		state:       StateCapturing,
		file:        file,
	}
	log.Info().Str("module", "recording").Str("room", string(key)).Str("user", userName).Msg("capture started")
	return nil
}

// AppendChunk writes one base64 chunk to the participant's capture stream.
// Chunks for closed streams and malformed chunks are dropped, logged, and
// never fail the capture.
func (m *Manager) AppendChunk(key domain.RoomKey, userName, dataURL string) {
	s, ok := m.session(key)
	if !ok {
		log.Debug().Str("module", "recording").Str("room", string(key)).Msg("chunk for unknown session dropped")
		return
	}

	data, err := decodeChunk(dataURL)
	if err != nil {
		log.Warn().Str("module", "recording").Str("room", string(key)).Str("user", userName).Msg("malformed audio chunk dropped")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.participants[userName]
	if !ok {
		log.Debug().Str("module", "recording").Str("user", userName).Msg("chunk for unknown participant dropped")
		return
	}
	if err := c.write(data); err != nil {
		log.Warn().Err(err).Str("module", "recording").Str("user", userName).Msg("capture write failed, chunk dropped")
	}
}

// StopCapture closes the participant's stream and encodes the raw capture
// asynchronously. When every participant has finished, the merge is
// triggered exactly once.
func (m *Manager) StopCapture(key domain.RoomKey, userName string, roomRef int64) {
	s, ok := m.session(key)
	if !ok {
		log.Info().Str("module", "recording").Str("room", string(key)).Msg("stop for unknown session ignored")
		return
	}
	s.setRoomRef(roomRef)

	s.mu.Lock()
	c, ok := s.participants[userName]
	if !ok || c.state != StateCapturing {
		s.mu.Unlock()
		return
	}
	c.closeStream()
	c.state = StateStopped
	c.StoppedAt = time.Now()
	s.mu.Unlock()

	log.Info().Str("module", "recording").Str("room", string(key)).Str("user", userName).Msg("capture stopped, encoding")
	go m.encode(s, c)
}

// RoomClosed handles teardown while recording: the last member left. Open
// capture streams stay writable through a short grace period so in-flight
// chunk frames can still land, then everything is stopped and encoded; the
// final encode completion triggers the combine.
func (m *Manager) RoomClosed(key domain.RoomKey, roomRef int64) {
	s, ok := m.session(key)
	if !ok {
		return
	}
	s.setRoomRef(roomRef)

	log.Info().Str("module", "recording").Str("room", string(key)).Dur("grace", m.grace).Msg("room closed, teardown scheduled")
	time.AfterFunc(m.grace, func() {
		s.mu.Lock()
		var stopped []*Capture
		for _, c := range s.participants {
			if c.state == StateCapturing {
				c.closeStream()
				c.state = StateStopped
				c.StoppedAt = time.Now()
				stopped = append(stopped, c)
			}
		}
		s.mu.Unlock()

		for _, c := range stopped {
			go m.encode(s, c)
		}
		m.maybeCombine(s)
	})
}

// encode transcodes one stopped capture to the session codec and writes its
// metadata record. Runs off the dispatch path.
func (m *Manager) encode(s *Session, c *Capture) {
	ctx := log.Logger.WithContext(context.Background())
	logger := zerolog.Ctx(ctx).With().Str("module", "recording").Str("room", string(s.roomKey)).Str("user", c.UserName).Logger()

	fail := func(err error) {
		logger.Error().Err(err).Msg("encode failed, capture excluded from merge")
		s.mu.Lock()
		c.state = StateFailed
		s.mu.Unlock()
		m.maybeCombine(s)
	}

	if err := m.enc.Transcode(ctx, c.RawPath, c.EncodedPath, m.spec); err != nil {
		fail(err)
		return
	}
	if err := media.WaitForFile(ctx, c.EncodedPath, 10*time.Second); err != nil {
		fail(err)
		return
	}

	meta := map[string]any{
		"userName":  c.UserName,
		"startTime": c.StartedAt.UnixMilli(),
		"endTime":   c.StoppedAt.UnixMilli(),
		"duration":  c.StoppedAt.Sub(c.StartedAt).Seconds(),
		"filePath":  c.EncodedPath,
	}
	if data, err := json.MarshalIndent(meta, "", "  "); err == nil {
		if err := os.WriteFile(filepath.Join(c.Dir, "metadata.json"), data, 0o644); err != nil {
			logger.Warn().Err(err).Msg("could not write capture metadata")
		}
	}
	if err := os.Remove(c.RawPath); err != nil {
		logger.Warn().Err(err).Msg("could not remove raw capture")
	}

	s.mu.Lock()
	c.state = StateEncoded
	s.mu.Unlock()
	logger.Info().Msg("capture encoded")

	m.maybeCombine(s)
}

// maybeCombine starts the merge once every capture is Encoded or Failed
// with at least one Encoded. Called after each encode completion and after
// the teardown grace period; whichever fires last starts the merge.
func (m *Manager) maybeCombine(s *Session) {
	done, anyEncoded := s.allFinished()
	if !done {
		return
	}
	if !anyEncoded {
		if !s.tryBeginCombine() {
			return
		}
		log.Warn().Str("module", "recording").Str("room", string(s.roomKey)).Msg("no usable captures, discarding session")
		m.notify.Broadcast(s.roomKey, protocol.NewRecordingError(string(s.roomKey), "Error: no usable recordings"))
		m.closeSession(s.roomKey)
		return
	}
	go m.combine(s)
}

// combine runs the merge pipeline for the session. The isCombining guard
// makes a second trigger a no-op while one is in flight.
func (m *Manager) combine(s *Session) {
	if !s.tryBeginCombine() {
		log.Info().Str("module", "recording").Str("room", string(s.roomKey)).Msg("combine already in flight, skipping")
		return
	}
	ctx := log.Logger.WithContext(context.Background())
	logger := zerolog.Ctx(ctx).With().Str("module", "recording").Str("room", string(s.roomKey)).Logger()

	tracks, recordings := m.collectTracks(ctx, s)
	if len(tracks) == 0 {
		logger.Warn().Msg("no valid audio tracks found, nothing to combine")
		m.notify.Broadcast(s.roomKey, protocol.NewRecordingError(string(s.roomKey), "Error: no usable recordings"))
		m.closeSession(s.roomKey)
		return
	}

	m.notify.Broadcast(s.roomKey, protocol.NewRecordingsReady(string(s.roomKey), recordings))

	outPath := filepath.Join(s.dir, fmt.Sprintf("room_%s_combined.mp3", s.roomKey))
	total, err := m.produceCombined(ctx, s, tracks, outPath)
	if err != nil {
		logger.Error().Err(err).Msg("combine failed")
		m.notify.Broadcast(s.roomKey, protocol.NewRecordingError(string(s.roomKey), "Error processing recording: "+err.Error()))
		m.closeSession(s.roomKey)
		return
	}

	if st, err := os.Stat(outPath); err != nil || st.Size() == 0 {
		logger.Error().Msg("combined recording is missing or empty")
		m.notify.Broadcast(s.roomKey, protocol.NewRecordingError(string(s.roomKey), "Error: combined recording is empty"))
		m.closeSession(s.roomKey)
		return
	}

	m.publish(ctx, s, tracks, outPath, total)
	m.closeSession(s.roomKey)
}

// collectTracks snapshots the merge-eligible captures: Encoded with a
// non-empty encoded file, sorted by start time.
func (m *Manager) collectTracks(ctx context.Context, s *Session) ([]media.Track, []protocol.ParticipantRecording) {
	logger := zerolog.Ctx(ctx)

	captures := s.snapshot()
	sort.Slice(captures, func(i, j int) bool { return captures[i].StartedAt.Before(captures[j].StartedAt) })

	var tracks []media.Track
	var recordings []protocol.ParticipantRecording
	for _, c := range captures {
		if c.state != StateEncoded {
			continue
		}
		st, err := os.Stat(c.EncodedPath)
		if err != nil || st.Size() == 0 {
			logger.Warn().Str("module", "recording").Str("user", c.UserName).Msg("encoded file missing or empty, skipping")
			continue
		}
		dur, err := m.enc.ProbeDuration(ctx, c.EncodedPath)
		if err != nil {
			logger.Warn().Err(err).Str("module", "recording").Str("user", c.UserName).Msg("could not probe track, skipping")
			continue
		}
		tracks = append(tracks, media.Track{Path: c.EncodedPath, Start: c.StartedAt, Duration: dur})

		rel, err := filepath.Rel(m.rootDir, c.EncodedPath)
		if err != nil {
			rel = filepath.Base(c.EncodedPath)
		}
		recordings = append(recordings, protocol.ParticipantRecording{
			UserName:    c.UserName,
			DownloadURL: "/download/" + filepath.ToSlash(rel),
			StartTime:   c.StartedAt.UnixMilli(),
			Duration:    dur,
		})
	}
	return tracks, recordings
}

// produceCombined writes the final artifact: a plain copy for a lone track,
// the full merge engine otherwise.
func (m *Manager) produceCombined(ctx context.Context, s *Session, tracks []media.Track, outPath string) (float64, error) {
	if len(tracks) == 1 {
		if err := copyFile(tracks[0].Path, outPath); err != nil {
			return 0, fmt.Errorf("copy single track: %w", err)
		}
		return tracks[0].Duration, nil
	}
	return m.comb.Merge(ctx, tracks, outPath)
}

// publish uploads the artifact, records the outcome durably, and notifies
// the room. Upload failure degrades to a local download URL; persistence
// failure is logged only.
func (m *Manager) publish(ctx context.Context, s *Session, tracks []media.Track, outPath string, total float64) {
	logger := zerolog.Ctx(ctx).With().Str("module", "recording").Str("room", string(s.roomKey)).Logger()

	url, err := m.uploads.Publish(ctx, outPath, string(s.roomKey))
	if err != nil {
		logger.Warn().Err(err).Msg("upload failed, serving local artifact")
		rel, relErr := filepath.Rel(m.rootDir, outPath)
		if relErr != nil {
			rel = filepath.Base(outPath)
		}
		m.notify.Broadcast(s.roomKey, protocol.NewRecordingReady(
			string(s.roomKey),
			"Recording is ready for download (local fallback)",
			"/download/"+filepath.ToSlash(rel),
		))
		return
	}

	ref := s.ref()
	if ref == 0 {
		// The clients never announced the numeric room reference; fall back
		// to the bookkeeping row keyed by the room id.
		if room, err := m.store.LookupRoom(ctx, string(s.roomKey)); err == nil && room != nil {
			ref = room.ID
		}
	}
	if ref != 0 {
		if err := m.store.RecordFinalized(ctx, ref, url, formatDurationText(total)); err != nil {
			logger.Error().Err(err).Msg("could not persist finalized recording")
		}
	}

	// Local artifacts are no longer needed once published.
	if err := os.Remove(outPath); err != nil {
		logger.Warn().Err(err).Msg("could not remove local combined artifact")
	}
	for _, t := range tracks {
		if err := os.Remove(t.Path); err != nil {
			logger.Warn().Err(err).Str("path", t.Path).Msg("could not remove participant artifact")
		}
	}
	pruneEmptyDir(s.dir)

	m.notify.Broadcast(s.roomKey, protocol.NewRecordingReady(string(s.roomKey), "Recording is ready for download", url))
	logger.Info().Str("url", url).Msg("recording published")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func pruneEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil {
		log.Warn().Err(err).Str("module", "recording").Str("dir", dir).Msg("could not prune session dir")
	}
}

func formatDurationText(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d min %d sec", total/60, total%60)
}
