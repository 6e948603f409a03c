package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/metrics"
	"github.com/user/discord-scribe/internal/playermap"
	"github.com/user/discord-scribe/internal/store"
	"github.com/user/discord-scribe/internal/stt"
)

// FrameSink consumes decoded audio frames from a voice connection.
type FrameSink interface {
	OnFrame(speakerID string, pcm []int16, silence bool, ts time.Time)
}

// VoiceConn is one live guild voice-channel connection.
type VoiceConn interface {
	ChannelID() string
	// Capture starts routing decoded frames to sink until StopCapture.
	Capture(sink FrameSink)
	// StopCapture halts frame delivery. Idempotent.
	StopCapture()
	Close() error
}

// VoiceTransport joins guild voice channels.
type VoiceTransport interface {
	Join(guildID, channelID string) (VoiceConn, error)
}

// Config carries the per-session tunables the registry hands each new
// recording.
type Config struct {
	SilenceThreshold  time.Duration
	MinVoiced         time.Duration
	FrameBuffer       int
	DrainBudget       time.Duration
	MaxDuration       time.Duration
	WarnLead          time.Duration
	ArchiveAudio      bool
	AudioFormat       string
	FFmpegBin         string
	Language          string
	TranscribeTimeout time.Duration
	FilterNoise       bool

	// NewVAD overrides voice-activity-detector construction; nil selects
	// the webrtcvad-backed default.
	NewVAD func() (audio.VAD, error)
}

type guildEntry struct {
	state   State
	conn    VoiceConn
	session *Session // current or most recently finished
}

// Registry owns the per-guild voice lifecycle. Every transition checks the
// guild's state under one lock before any side effect, so concurrent
// commands cannot double-join or double-start; the blocking half of a stop
// runs outside the lock.
type Registry struct {
	cfg         Config
	transport   VoiceTransport
	store       *store.FileStore
	players     *playermap.Store
	transcriber stt.Transcriber
	notifier    Notifier

	mu     sync.Mutex
	guilds map[string]*guildEntry
}

func NewRegistry(cfg Config, transport VoiceTransport, st *store.FileStore, players *playermap.Store, transcriber stt.Transcriber, notifier Notifier) *Registry {
	return &Registry{
		cfg:         cfg,
		transport:   transport,
		store:       st,
		players:     players,
		transcriber: transcriber,
		notifier:    notifier,
		guilds:      make(map[string]*guildEntry),
	}
}

// Connect joins the guild's voice channel. One voice presence per guild.
func (r *Registry) Connect(guildID, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.guilds[guildID]; ok {
		return &AlreadyConnectedError{GuildID: guildID, ChannelID: e.conn.ChannelID()}
	}

	conn, err := r.transport.Join(guildID, channelID)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	r.guilds[guildID] = &guildEntry{state: StateConnected, conn: conn}

	log.Info().
		Str("guild_id", guildID).
		Str("channel_id", channelID).
		Msg("Connected to voice channel")

	return nil
}

// StartRecording begins a session on an established connection. The state
// check and the session allocation happen under the same lock, so a racing
// second start observes Recording and fails before any side effect.
func (r *Registry) StartRecording(guildID, label string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.guilds[guildID]
	if !ok {
		return nil, &InvalidStateError{GuildID: guildID, State: StateIdle, Op: "record"}
	}
	if e.state != StateConnected {
		return nil, &InvalidStateError{GuildID: guildID, State: e.state, Op: "record"}
	}

	guard := newDurationGuard(guildID, r.cfg.MaxDuration, r.cfg.WarnLead, r.notifier, func() {
		if _, err := r.StopRecording(guildID); err != nil {
			log.Error().Err(err).Str("guild_id", guildID).Msg("Auto-stop failed")
		}
	})

	sess, err := newSession(guildID, label, r.cfg, r.store, r.players, r.transcriber, guard)
	if err != nil {
		return nil, err
	}

	e.session = sess
	e.state = StateRecording
	e.conn.Capture(sess)
	guard.Start()
	metrics.SessionsActive.Inc()

	log.Info().
		Str("guild_id", guildID).
		Str("session_id", sess.ID).
		Str("label", label).
		Msg("Recording started")

	return sess, nil
}

// StopRecording ends the guild's active session and blocks through the
// drain. Stopping an already stopping or finished session returns the same
// session with no further side effects.
func (r *Registry) StopRecording(guildID string) (*Session, error) {
	r.mu.Lock()

	e, ok := r.guilds[guildID]
	if !ok {
		r.mu.Unlock()
		return nil, &InvalidStateError{GuildID: guildID, State: StateIdle, Op: "stop"}
	}

	switch {
	case e.state == StateRecording:
		// Proceed below.
	case e.state == StateStopping:
		sess := e.session
		r.mu.Unlock()
		sess.Stop()
		return sess, nil
	case e.state == StateConnected && e.session != nil && e.session.State() == StateStopped:
		sess := e.session
		r.mu.Unlock()
		return sess, nil
	default:
		state := e.state
		r.mu.Unlock()
		return nil, &InvalidStateError{GuildID: guildID, State: state, Op: "stop"}
	}

	sess := e.session
	e.state = StateStopping
	e.conn.StopCapture()
	r.mu.Unlock()

	sess.Stop()

	r.mu.Lock()
	if cur, ok := r.guilds[guildID]; ok && cur == e && cur.state == StateStopping {
		cur.state = StateConnected
	}
	r.mu.Unlock()

	return sess, nil
}

// Disconnect leaves the guild's voice channel. An active recording is
// aborted without a drain guarantee; its log and meta are still finalized.
func (r *Registry) Disconnect(guildID string) error {
	r.mu.Lock()
	e, ok := r.guilds[guildID]
	if !ok {
		r.mu.Unlock()
		return &InvalidStateError{GuildID: guildID, State: StateIdle, Op: "disconnect"}
	}
	state := e.state
	delete(r.guilds, guildID)
	r.mu.Unlock()

	if state == StateRecording || state == StateStopping {
		e.conn.StopCapture()
		e.session.Abort()
	}

	if err := e.conn.Close(); err != nil {
		log.Warn().Err(err).Str("guild_id", guildID).Msg("Voice connection close failed")
	}

	log.Info().Str("guild_id", guildID).Msg("Disconnected from voice channel")

	return nil
}

// GuildState reports a guild's lifecycle state and its current or most
// recently finished session.
func (r *Registry) GuildState(guildID string) (State, *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.guilds[guildID]
	if !ok {
		return StateIdle, nil
	}
	return e.state, e.session
}

// Shutdown stops every active recording with the normal drain budget and
// leaves all voice channels. Used at process exit.
func (r *Registry) Shutdown() {
	for _, guildID := range r.guildIDs() {
		if state, _ := r.GuildState(guildID); state == StateRecording || state == StateStopping {
			if _, err := r.StopRecording(guildID); err != nil {
				log.Warn().Err(err).Str("guild_id", guildID).Msg("Stop during shutdown failed")
			}
		}
		if err := r.Disconnect(guildID); err != nil {
			log.Warn().Err(err).Str("guild_id", guildID).Msg("Disconnect during shutdown failed")
		}
	}
}

func (r *Registry) guildIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.guilds))
	for id := range r.guilds {
		ids = append(ids, id)
	}
	return ids
}
