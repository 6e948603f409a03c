package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/session"
)

// DiscordTransport adapts discordgo voice connections to the registry's
// transport interface.
type DiscordTransport struct {
	session *discordgo.Session
}

func NewDiscordTransport(s *discordgo.Session) *DiscordTransport {
	return &DiscordTransport{session: s}
}

func (t *DiscordTransport) Join(guildID, channelID string) (session.VoiceConn, error) {
	// mute false, deaf false: the bot must receive audio to transcribe it.
	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	conn := &voiceConn{
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		decoders:  make(map[uint32]*audio.OpusDecoder),
		speakers:  make(map[uint32]string),
		unmapped:  make(map[uint32]bool),
	}

	// The speaking handler must be registered before any audio arrives;
	// it is the only source of SSRC to user mappings.
	vc.AddHandler(conn.handleSpeakingUpdate)

	deadline := time.Now().Add(10 * time.Second)
	for !vc.Ready {
		if time.Now().After(deadline) {
			vc.Disconnect()
			return nil, fmt.Errorf("voice connection not ready after 10s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Discord requires an initial speaking state before it delivers audio.
	if err := vc.Speaking(false); err != nil {
		log.Warn().
			Err(err).
			Str("guild_id", guildID).
			Msg("Failed to send initial speaking state")
	}

	log.Info().
		Str("guild_id", guildID).
		Str("channel_id", channelID).
		Msg("Voice connection established and speaking handler registered")

	return conn, nil
}

// voiceConn is one guild's live voice connection: the OpusRecv pump, the
// per-SSRC opus decoders and the SSRC to user mapping.
type voiceConn struct {
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection

	mu       sync.Mutex
	quit     chan struct{}
	done     chan struct{}
	decoders map[uint32]*audio.OpusDecoder
	speakers map[uint32]string
	unmapped map[uint32]bool
}

func (c *voiceConn) ChannelID() string {
	return c.channelID
}

// Capture starts pumping decoded frames into sink. No-op while a capture
// is already running.
func (c *voiceConn) Capture(sink session.FrameSink) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quit != nil {
		return
	}
	c.quit = make(chan struct{})
	c.done = make(chan struct{})
	go c.recvLoop(sink, c.quit, c.done)
}

// StopCapture halts the pump and waits for it to exit. Idempotent.
func (c *voiceConn) StopCapture() {
	c.mu.Lock()
	quit, done := c.quit, c.done
	c.quit = nil
	c.done = nil
	c.mu.Unlock()

	if quit == nil {
		return
	}
	close(quit)
	<-done
}

func (c *voiceConn) Close() error {
	c.StopCapture()

	if err := c.vc.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect voice: %w", err)
	}
	return nil
}

func (c *voiceConn) recvLoop(sink session.FrameSink, quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Debug().Str("guild_id", c.guildID).Msg("Voice receive loop stopped")

	for {
		select {
		case packet, ok := <-c.vc.OpusRecv:
			if !ok {
				log.Info().Str("guild_id", c.guildID).Msg("Voice receive channel closed")
				return
			}
			c.handlePacket(sink, packet)
		case <-quit:
			return
		}
	}
}

func (c *voiceConn) handlePacket(sink session.FrameSink, packet *discordgo.Packet) {
	speakerID := c.speakerFor(packet.SSRC)
	if speakerID == "" {
		return
	}

	silence := audio.IsSilenceFrame(packet.Opus)

	decoder, err := c.decoderFor(packet.SSRC)
	if err != nil {
		log.Warn().
			Err(err).
			Str("guild_id", c.guildID).
			Uint32("ssrc", packet.SSRC).
			Msg("Failed to create opus decoder")
		return
	}

	pcm, err := decoder.Decode(packet.Opus)
	if err != nil {
		log.Warn().
			Err(err).
			Str("guild_id", c.guildID).
			Uint32("ssrc", packet.SSRC).
			Msg("Failed to decode opus packet")
		return
	}

	sink.OnFrame(speakerID, pcm, silence, time.Now())
}

// decoderFor returns the SSRC's opus decoder; decoders are stateful, so
// every stream gets its own.
func (c *voiceConn) decoderFor(ssrc uint32) (*audio.OpusDecoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.decoders[ssrc]; ok {
		return d, nil
	}
	d, err := audio.NewOpusDecoder()
	if err != nil {
		return nil, err
	}
	c.decoders[ssrc] = d
	return d, nil
}

func (c *voiceConn) speakerFor(ssrc uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if userID, ok := c.speakers[ssrc]; ok {
		return userID
	}
	if !c.unmapped[ssrc] {
		c.unmapped[ssrc] = true
		log.Warn().
			Str("guild_id", c.guildID).
			Uint32("ssrc", ssrc).
			Msg("Audio from unmapped SSRC, dropping until a speaking update arrives")
	}
	return ""
}

func (c *voiceConn) handleSpeakingUpdate(vc *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
	if su == nil || !su.Speaking {
		// Mappings are kept when a user stops speaking; SSRCs stay stable
		// for the lifetime of the connection.
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.speakers[uint32(su.SSRC)] = su.UserID
	delete(c.unmapped, uint32(su.SSRC))

	log.Debug().
		Str("guild_id", c.guildID).
		Uint32("ssrc", uint32(su.SSRC)).
		Str("user_id", su.UserID).
		Int("total_mappings", len(c.speakers)).
		Msg("Mapped SSRC to user")
}
