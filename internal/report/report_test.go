package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/discord-scribe/internal/store"
)

var base = time.Date(2026, 1, 10, 20, 30, 0, 0, time.UTC)

func event(speakerID string, seq uint64, offset time.Duration, text string) store.TranscriptionEvent {
	return store.TranscriptionEvent{
		SpeakerID:  speakerID,
		Player:     speakerID,
		TSStart:    base.Add(offset),
		TSEnd:      base.Add(offset + time.Second),
		Text:       text,
		SpeakerSeq: seq,
	}
}

func TestAssembleRecoversChronologyFromCompletionOrder(t *testing.T) {
	// Completion order: the fast engine call for s2 landed first even
	// though s1 spoke earlier.
	events := []store.TranscriptionEvent{
		event("s2", 1, 5*time.Second, "deuxième"),
		event("s1", 2, 8*time.Second, "troisième"),
		event("s1", 1, 0, "première"),
	}

	lines := Assemble(events)
	require.Len(t, lines, 3)
	assert.Equal(t, "première", lines[0].Text)
	assert.Equal(t, "deuxième", lines[1].Text)
	assert.Equal(t, "troisième", lines[2].Text)
}

func TestAssembleDropsNoiseDegradedAndEmpty(t *testing.T) {
	noise := event("s1", 1, 0, "sous-titrage st' 501")
	noise.Noise = true

	degraded := event("s1", 2, time.Second, "")
	degraded.Error = "engine down"

	empty := event("s1", 3, 2*time.Second, "")

	kept := event("s1", 4, 3*time.Second, "vraie réplique")

	lines := Assemble([]store.TranscriptionEvent{noise, degraded, empty, kept})
	require.Len(t, lines, 1)
	assert.Equal(t, "vraie réplique", lines[0].Text)
}

func TestAssembleBreaksTiesBySpeakerThenSeq(t *testing.T) {
	events := []store.TranscriptionEvent{
		event("s2", 1, 0, "b"),
		event("s1", 2, 0, "a2"),
		event("s1", 1, 0, "a1"),
	}

	lines := Assemble(events)
	require.Len(t, lines, 3)
	assert.Equal(t, "a1", lines[0].Text)
	assert.Equal(t, "a2", lines[1].Text)
	assert.Equal(t, "b", lines[2].Text)
}

func TestRenderFormatsLines(t *testing.T) {
	lines := []Line{
		{When: base, Player: "Alice", Character: "Seshat", Text: "j'ouvre la porte"},
		{When: base.Add(4 * time.Second), Player: "Bob", Text: "je la referme"},
	}

	got := Render(lines)
	want := "[20:30:00] Alice (Seshat): j'ouvre la porte\n" +
		"[20:30:04] Bob: je la referme\n"
	assert.Equal(t, want, got)
}

func TestRenderEmptyTranscript(t *testing.T) {
	assert.Empty(t, Render(nil))
}
