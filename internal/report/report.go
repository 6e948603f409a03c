package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/user/discord-scribe/internal/store"
)

// Line is one utterance of the assembled transcript.
type Line struct {
	When      time.Time
	SpeakerID string
	Player    string
	Character string
	Text      string
}

// Assemble orders a session's raw events into the chronological
// transcript. The log on disk is completion-ordered; chronology is
// recovered by sorting on (start time, speaker, per-speaker sequence).
// Noise-tagged, degraded and empty events are dropped from the rendered
// output but stay untouched in the log.
func Assemble(events []store.TranscriptionEvent) []Line {
	kept := make([]store.TranscriptionEvent, 0, len(events))
	for _, ev := range events {
		if ev.Noise || ev.Error != "" || ev.Text == "" {
			continue
		}
		kept = append(kept, ev)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if !a.TSStart.Equal(b.TSStart) {
			return a.TSStart.Before(b.TSStart)
		}
		if a.SpeakerID != b.SpeakerID {
			return a.SpeakerID < b.SpeakerID
		}
		return a.SpeakerSeq < b.SpeakerSeq
	})

	lines := make([]Line, 0, len(kept))
	for _, ev := range kept {
		lines = append(lines, Line{
			When:      ev.TSStart,
			SpeakerID: ev.SpeakerID,
			Player:    ev.Player,
			Character: ev.Character,
			Text:      ev.Text,
		})
	}
	return lines
}

// Render formats the transcript one utterance per line:
//
//	[20:30:45] Alice (Seshat): j'ouvre la porte
func Render(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("[%s] %s", l.When.Format("15:04:05"), l.Player))
		if l.Character != "" {
			b.WriteString(fmt.Sprintf(" (%s)", l.Character))
		}
		b.WriteString(": ")
		b.WriteString(l.Text)
		b.WriteString("\n")
	}
	return b.String()
}
