package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/metrics"
	"github.com/user/discord-scribe/internal/playermap"
	"github.com/user/discord-scribe/internal/store"
	"github.com/user/discord-scribe/internal/stt"
)

// Dispatcher turns finished segments into transcription events. Each
// speaker's worker calls it sequentially, so per-speaker order is
// preserved while different speakers transcribe concurrently.
type Dispatcher struct {
	sessionID   string
	guildID     string
	transcriber stt.Transcriber
	filter      *stt.NoiseFilter
	players     *playermap.Store
	language    string
	timeout     time.Duration
	minVoiced   time.Duration
}

// Dispatch runs one segment through the engine and builds its event.
// Engine failures degrade the event instead of surfacing: the session
// keeps recording and the gap stays visible in the log.
func (d *Dispatcher) Dispatch(ctx context.Context, seg *audio.Segment) store.TranscriptionEvent {
	ev := store.TranscriptionEvent{
		ID:         seg.ID,
		SessionID:  d.sessionID,
		GuildID:    d.guildID,
		SpeakerID:  seg.SpeakerID,
		TSStart:    seg.Start,
		TSEnd:      seg.End,
		Source:     d.transcriber.Name(),
		SpeakerSeq: seg.Seq,
	}

	if entry, ok := d.players.Resolve(d.guildID, seg.SpeakerID); ok {
		ev.Player = entry.Player
		ev.Character = entry.Character
	} else {
		ev.Player = seg.SpeakerID
	}

	// Force-flushed fragments below the voiced minimum are not worth an
	// engine round trip.
	if seg.ForceFlushed && seg.Voiced < d.minVoiced {
		ev.Noise = true
		return ev
	}

	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	text, err := d.transcriber.Transcribe(tctx, seg.PCM, d.language)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.TranscriptionFailures.Inc()
		ev.Error = err.Error()
		log.Warn().
			Err(err).
			Str("session_id", d.sessionID).
			Str("speaker_id", seg.SpeakerID).
			Dur("voiced", seg.Voiced).
			Msg("Transcription failed")
		return ev
	}

	text = strings.TrimSpace(text)
	ev.Text = text

	switch {
	case text == "":
		ev.Noise = true
	case d.filter.IsNoise(text):
		ev.Noise = true
		metrics.NoiseFiltered.Inc()
		log.Debug().
			Str("speaker_id", seg.SpeakerID).
			Str("text", text).
			Msg("Transcription matched a noise pattern")
	}

	return ev
}
