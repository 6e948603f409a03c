package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func testEvent(sessionID, speakerID, text string) *TranscriptionEvent {
	return &TranscriptionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		GuildID:   "guild-1",
		SpeakerID: speakerID,
		TSStart:   time.Now().UTC().Truncate(time.Millisecond),
		TSEnd:     time.Now().UTC().Truncate(time.Millisecond),
		Text:      text,
		Source:    "vosk",
	}
}

func TestGenerateSessionID(t *testing.T) {
	now := time.Date(2025, 12, 9, 20, 30, 45, 0, time.UTC)
	assert.Equal(t, "2025-12-09_20-30-45_g123456789", GenerateSessionID("123456789", now))

	// Different guilds at the same instant get different ids.
	assert.NotEqual(t, GenerateSessionID("111", now), GenerateSessionID("222", now))
}

func TestSessionLogAppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)

	l, err := s.OpenLog("sess-1")
	require.NoError(t, err)

	first := testEvent("sess-1", "alice", "bonjour")
	second := testEvent("sess-1", "bob", "salut")
	require.NoError(t, l.Append(first))
	require.NoError(t, l.Append(second))
	require.NoError(t, l.Close())

	assert.Equal(t, 0, first.LogSeq)
	assert.Equal(t, 1, second.LogSeq)
	assert.Equal(t, 2, l.Len())

	events, err := s.ReadEvents("sess-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "bonjour", events[0].Text)
	assert.Equal(t, "alice", events[0].SpeakerID)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, "salut", events[1].Text)
}

func TestSessionLogRejectsAppendAfterClose(t *testing.T) {
	s := newTestStore(t)

	l, err := s.OpenLog("sess-2")
	require.NoError(t, err)
	require.NoError(t, l.Append(testEvent("sess-2", "alice", "un")))
	require.NoError(t, l.Close())

	err = l.Append(testEvent("sess-2", "alice", "deux"))
	assert.ErrorIs(t, err, ErrLogClosed)

	// Closing twice is a no-op.
	assert.NoError(t, l.Close())

	events, err := s.ReadEvents("sess-2")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestReadEventsIsRestartable(t *testing.T) {
	s := newTestStore(t)

	l, err := s.OpenLog("sess-3")
	require.NoError(t, err)
	require.NoError(t, l.Append(testEvent("sess-3", "alice", "a")))
	require.NoError(t, l.Close())

	first, err := s.ReadEvents("sess-3")
	require.NoError(t, err)
	second, err := s.ReadEvents("sess-3")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWriteAndReadMeta(t *testing.T) {
	s := newTestStore(t)

	meta := &SessionMeta{
		SessionID: "2025-12-09_20-30-45_g42",
		GuildID:   "42",
		Label:     "chapitre 3",
		StartedAt: time.Date(2025, 12, 9, 20, 30, 45, 0, time.UTC),
		EndedAt:   time.Date(2025, 12, 9, 23, 0, 0, 0, time.UTC),
		Participants: []ParticipantMeta{
			{SpeakerID: "alice", Player: "Alice", Character: "Gandalf", Segments: 12},
		},
		Incomplete:    true,
		DroppedFrames: 7,
	}
	require.NoError(t, s.WriteMeta(meta))

	got, err := s.ReadMeta(meta.SessionID)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestSessionDirLayout(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	require.NoError(t, err)

	dir, err := s.SessionDir("sess-9")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "audio", "sess-9"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
