package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/archive"
	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/metrics"
	"github.com/user/discord-scribe/internal/playermap"
	"github.com/user/discord-scribe/internal/store"
	"github.com/user/discord-scribe/internal/stt"
)

// encodeTimeout bounds the post-stop archive conversion per speaker.
const encodeTimeout = 2 * time.Minute

// Session is one recording run in one guild: the frame router, the
// per-speaker participant arena and the stop machinery. It implements
// FrameSink for the voice connection.
type Session struct {
	ID        string
	GuildID   string
	Label     string
	StartedAt time.Time

	cfg        Config
	store      *store.FileStore
	log        *store.SessionLog
	dispatcher *Dispatcher
	players    *playermap.Store
	guard      *DurationGuard
	audioDir   string // empty when archiving is disabled

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	mu           sync.RWMutex
	state        State
	participants map[string]*participant

	stopOnce sync.Once
	stopped  chan struct{}
	meta     *store.SessionMeta
}

func newSession(guildID, label string, cfg Config, st *store.FileStore, players *playermap.Store, transcriber stt.Transcriber, guard *DurationGuard) (*Session, error) {
	now := time.Now()
	id := store.GenerateSessionID(guildID, now)

	logf, err := st.OpenLog(id)
	if err != nil {
		return nil, err
	}

	audioDir := ""
	if cfg.ArchiveAudio {
		dir, err := st.SessionDir(id)
		if err != nil {
			logf.Close()
			return nil, err
		}
		audioDir = dir
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		ID:             id,
		GuildID:        guildID,
		Label:          label,
		StartedAt:      now.UTC(),
		cfg:            cfg,
		store:          st,
		log:            logf,
		players:        players,
		guard:          guard,
		audioDir:       audioDir,
		dispatchCtx:    ctx,
		dispatchCancel: cancel,
		state:          StateRecording,
		participants:   make(map[string]*participant),
		stopped:        make(chan struct{}),
	}
	s.dispatcher = &Dispatcher{
		sessionID:   id,
		guildID:     guildID,
		transcriber: transcriber,
		filter:      stt.NewNoiseFilter(cfg.FilterNoise),
		players:     players,
		language:    cfg.Language,
		timeout:     cfg.TranscribeTimeout,
		minVoiced:   cfg.MinVoiced,
	}

	return s, nil
}

// State returns the session's own lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OnFrame receives one decoded frame from the voice transport. It never
// blocks: frames outside the Recording state are dropped, and routing to a
// full participant buffer evicts the oldest buffered frame.
func (s *Session) OnFrame(speakerID string, pcm []int16, silence bool, ts time.Time) {
	s.mu.RLock()
	recording := s.state == StateRecording
	p := s.participants[speakerID]
	s.mu.RUnlock()

	if !recording {
		log.Debug().
			Str("session_id", s.ID).
			Str("speaker_id", speakerID).
			Msg("Dropping frame outside recording state")
		return
	}

	if p == nil {
		var err error
		p, err = s.addParticipant(speakerID, ts)
		if err != nil {
			log.Error().
				Err(err).
				Str("speaker_id", speakerID).
				Msg("Failed to set up speaker pipeline")
			return
		}
		if p == nil {
			// Lost the race with stop.
			return
		}
	}

	p.offer(&audio.Frame{
		PCM:       pcm,
		Timestamp: ts,
		Seq:       p.nextSeq.Add(1),
		Silence:   silence,
	})
}

func (s *Session) addParticipant(speakerID string, ts time.Time) (*participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil, nil
	}
	if p, ok := s.participants[speakerID]; ok {
		return p, nil
	}

	newVAD := s.cfg.NewVAD
	if newVAD == nil {
		newVAD = func() (audio.VAD, error) { return audio.NewWebRTCVAD() }
	}
	vad, err := newVAD()
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD: %w", err)
	}

	var arch *archive.Writer
	if s.audioDir != "" {
		arch, err = archive.NewWriter(s.audioDir, speakerID, audio.SampleRate)
		if err != nil {
			metrics.ArchiveFailures.Inc()
			log.Error().
				Err(err).
				Str("speaker_id", speakerID).
				Msg("Failed to open audio archive, continuing without")
			arch = nil
		}
	}

	seg := audio.NewSegmenter(speakerID, vad, audio.SegmenterConfig{
		SilenceThreshold: s.cfg.SilenceThreshold,
		MinVoiced:        s.cfg.MinVoiced,
	})

	p := newParticipant(speakerID, ts, seg, vad, arch, s.cfg.FrameBuffer)
	s.participants[speakerID] = p

	metrics.SpeakersActive.Inc()

	go p.frameLoop()
	go p.dispatchWorker(s.dispatchCtx, s.dispatcher, s.log)

	log.Info().
		Str("session_id", s.ID).
		Str("speaker_id", speakerID).
		Msg("New speaker in session")

	return p, nil
}

// Stop ends the recording: flushes every segmenter, drains in-flight
// transcription within the drain budget and finalizes archives, log and
// meta. Safe to call more than once; every caller blocks until the stop
// finished and gets the same meta.
func (s *Session) Stop() *store.SessionMeta {
	return s.stop(s.cfg.DrainBudget)
}

// Abort is the disconnect path: no drain budget, outstanding
// transcriptions are cancelled instead of awaited.
func (s *Session) Abort() *store.SessionMeta {
	return s.stop(0)
}

func (s *Session) stop(drain time.Duration) *store.SessionMeta {
	s.stopOnce.Do(func() { s.doStop(drain) })
	<-s.stopped

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

func (s *Session) doStop(drain time.Duration) {
	defer close(s.stopped)

	s.mu.Lock()
	s.state = StateStopping
	parts := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		parts = append(parts, p)
	}
	s.mu.Unlock()

	log.Info().
		Str("session_id", s.ID).
		Int("speakers", len(parts)).
		Dur("drain_budget", drain).
		Msg("Stopping session")

	s.guard.Stop()

	for _, p := range parts {
		p.stop()
	}

	drained := s.drainWorkers(parts, drain)
	s.dispatchCancel()

	s.closeArchives(parts)

	if err := s.log.Close(); err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to close session log")
	}

	meta := s.buildMeta(parts, !drained)
	if err := s.store.WriteMeta(meta); err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to write session meta")
	}

	s.mu.Lock()
	s.state = StateStopped
	s.meta = meta
	s.mu.Unlock()

	metrics.SessionsActive.Dec()
	metrics.SpeakersActive.Sub(float64(len(parts)))

	log.Info().
		Str("session_id", s.ID).
		Int("events", s.log.Len()).
		Bool("incomplete", meta.Incomplete).
		Msg("Session stopped")
}

// drainWorkers waits for every participant's goroutines to finish. When
// the budget runs out the dispatch context is cancelled and the remaining
// exits are awaited anyway; cancelled dispatches return fast and their
// results are rejected by the closed log.
func (s *Session) drainWorkers(parts []*participant, budget time.Duration) bool {
	allDone := make(chan struct{})
	go func() {
		for _, p := range parts {
			<-p.loopDone
			<-p.done
		}
		close(allDone)
	}()

	if budget > 0 {
		select {
		case <-allDone:
			return true
		case <-time.After(budget):
		}
	} else {
		select {
		case <-allDone:
			return true
		default:
		}
	}

	log.Warn().
		Err(ErrDrainTimeout).
		Str("session_id", s.ID).
		Dur("budget", budget).
		Msg("Cancelling outstanding transcriptions")
	s.dispatchCancel()
	<-allDone

	return false
}

func (s *Session) closeArchives(parts []*participant) {
	for _, p := range parts {
		if p.archive == nil {
			continue
		}

		if err := p.archive.Close(); err != nil {
			metrics.ArchiveFailures.Inc()
			log.Error().Err(err).Str("speaker_id", p.speakerID).Msg("Failed to close audio archive")
			continue
		}
		if p.archive.Failed() {
			continue
		}
		p.archivePath = p.archive.Path()

		if s.cfg.AudioFormat != "" && s.cfg.AudioFormat != "wav" {
			ctx, cancel := context.WithTimeout(context.Background(), encodeTimeout)
			out, err := archive.EncodeFile(ctx, s.cfg.FFmpegBin, p.archive.Path(), s.cfg.AudioFormat)
			cancel()
			if err != nil {
				metrics.ArchiveFailures.Inc()
				log.Error().Err(err).Str("speaker_id", p.speakerID).Msg("Failed to convert audio archive")
				continue
			}
			p.archivePath = out
		}
	}
}

func (s *Session) buildMeta(parts []*participant, incomplete bool) *store.SessionMeta {
	meta := &store.SessionMeta{
		SessionID:  s.ID,
		GuildID:    s.GuildID,
		Label:      s.Label,
		StartedAt:  s.StartedAt,
		EndedAt:    time.Now().UTC(),
		Incomplete: incomplete,
	}

	for _, p := range parts {
		pm := store.ParticipantMeta{
			SpeakerID:    p.speakerID,
			FirstSpokeAt: p.firstSpokeAt,
			ArchivePath:  p.archivePath,
			Segments:     p.emitted,
		}
		if entry, ok := s.players.Resolve(s.GuildID, p.speakerID); ok {
			pm.Player = entry.Player
			pm.Character = entry.Character
		}
		meta.DroppedFrames += p.dropped.Load()
		meta.Participants = append(meta.Participants, pm)
	}

	sort.Slice(meta.Participants, func(i, j int) bool {
		return meta.Participants[i].SpeakerID < meta.Participants[j].SpeakerID
	})

	return meta
}

// Meta returns the finished session summary, nil while the session is
// still running.
func (s *Session) Meta() *store.SessionMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Events reads the session's log records back in storage order. Only
// available once the session is Stopped.
func (s *Session) Events() ([]store.TranscriptionEvent, error) {
	if st := s.State(); st != StateStopped {
		return nil, &InvalidStateError{GuildID: s.GuildID, State: st, Op: "read events"}
	}
	return s.store.ReadEvents(s.ID)
}

// TranscriptPath is the session's JSONL log file.
func (s *Session) TranscriptPath() string {
	return s.log.Path()
}
