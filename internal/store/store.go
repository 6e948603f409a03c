package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrLogClosed is returned by Append once a session log has been closed.
// Dispatches abandoned at stop time land here and are discarded.
var ErrLogClosed = errors.New("session log closed")

const (
	transcriptsSubdir = "transcripts"
	audioSubdir       = "audio"
	metaFilename      = "session_meta.json"
)

// TranscriptionEvent is one logged utterance. Immutable once appended;
// corrections are never made in place.
type TranscriptionEvent struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	GuildID    string    `json:"guild_id"`
	SpeakerID  string    `json:"speaker_id"`
	Player     string    `json:"player,omitempty"`
	Character  string    `json:"character,omitempty"`
	TSStart    time.Time `json:"ts_start"`
	TSEnd      time.Time `json:"ts_end"`
	Text       string    `json:"text"`
	Noise      bool      `json:"noise"`
	Error      string    `json:"error,omitempty"`
	Source     string    `json:"source"`
	SpeakerSeq uint64    `json:"speaker_seq"`
	LogSeq     int       `json:"log_seq"`
}

// ParticipantMeta summarizes one speaker's part in a finished session.
type ParticipantMeta struct {
	SpeakerID    string    `json:"speaker_id"`
	Player       string    `json:"player,omitempty"`
	Character    string    `json:"character,omitempty"`
	FirstSpokeAt time.Time `json:"first_spoke_at"`
	ArchivePath  string    `json:"archive_path,omitempty"`
	Segments     uint64    `json:"segments"`
}

// SessionMeta is the durable session summary, written once at stop or
// teardown. Incomplete marks sessions whose in-flight work was abandoned
// when the stop drain ran out.
type SessionMeta struct {
	SessionID     string            `json:"session_id"`
	GuildID       string            `json:"guild_id"`
	Label         string            `json:"label,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	Participants  []ParticipantMeta `json:"participants"`
	Incomplete    bool              `json:"incomplete"`
	DroppedFrames uint64            `json:"dropped_frames,omitempty"`
}

// FileStore keeps per-session transcripts, audio archives and meta under one
// base directory:
//
//	<base>/transcripts/<sessionID>.jsonl
//	<base>/audio/<sessionID>/user_<speakerID>.wav
//	<base>/audio/<sessionID>/session_meta.json
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	for _, dir := range []string{
		filepath.Join(baseDir, transcriptsSubdir),
		filepath.Join(baseDir, audioSubdir),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

// SessionDir returns (and creates) the per-session directory holding the
// audio archives and the session meta.
func (s *FileStore) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(s.baseDir, audioSubdir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return dir, nil
}

func (s *FileStore) transcriptPath(sessionID string) string {
	return filepath.Join(s.baseDir, transcriptsSubdir, sessionID+".jsonl")
}

// OpenLog creates the append-only event log for a session.
func (s *FileStore) OpenLog(sessionID string) (*SessionLog, error) {
	path := s.transcriptPath(sessionID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("file", path).
		Msg("Opened session log")

	return &SessionLog{
		sessionID: sessionID,
		path:      path,
		f:         f,
		enc:       json.NewEncoder(f),
	}, nil
}

// ReadEvents returns a session's events in storage order, which is the order
// transcriptions completed in. Chronological order is the reader's job: sort
// on (ts_start, speaker_id, speaker_seq).
func (s *FileStore) ReadEvents(sessionID string) ([]TranscriptionEvent, error) {
	f, err := os.Open(s.transcriptPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer f.Close()

	var events []TranscriptionEvent
	decoder := json.NewDecoder(f)

	for decoder.More() {
		var ev TranscriptionEvent
		if err := decoder.Decode(&ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}

	return events, nil
}

// WriteMeta persists the session summary next to the session's archives.
func (s *FileStore) WriteMeta(meta *SessionMeta) error {
	dir, err := s.SessionDir(meta.SessionID)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, metaFilename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create session meta: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("failed to encode session meta: %w", err)
	}

	log.Info().
		Str("session_id", meta.SessionID).
		Str("file", path).
		Int("participants", len(meta.Participants)).
		Bool("incomplete", meta.Incomplete).
		Msg("Saved session meta")

	return nil
}

func (s *FileStore) ReadMeta(sessionID string) (*SessionMeta, error) {
	path := filepath.Join(s.baseDir, audioSubdir, sessionID, metaFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session meta: %w", err)
	}

	var meta SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode session meta: %w", err)
	}
	return &meta, nil
}

// SessionLog is the append-only, per-session event stream. Records are
// appended in completion order, never rewritten or reordered.
type SessionLog struct {
	sessionID string
	path      string

	mu      sync.Mutex
	f       *os.File
	enc     *json.Encoder
	nextSeq int
	closed  bool
}

// Append assigns the event's log sequence and writes it out.
func (l *SessionLog) Append(ev *TranscriptionEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	ev.LogSeq = l.nextSeq
	if err := l.enc.Encode(ev); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	l.nextSeq++

	return nil
}

// Len returns the number of events appended so far.
func (l *SessionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

func (l *SessionLog) Path() string {
	return l.path
}

func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.f.Close(); err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}

	log.Info().
		Str("session_id", l.sessionID).
		Int("events", l.nextSeq).
		Msg("Closed session log")

	return nil
}

// GenerateSessionID builds the timestamped per-guild session id, e.g.
// "2025-12-09_20-30-45_g123456789".
func GenerateSessionID(guildID string, now time.Time) string {
	return fmt.Sprintf("%s_g%s", now.UTC().Format("2006-01-02_15-04-05"), guildID)
}
