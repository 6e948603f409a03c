package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/config"
	"github.com/user/discord-scribe/internal/playermap"
	"github.com/user/discord-scribe/internal/report"
	"github.com/user/discord-scribe/internal/session"
	"github.com/user/discord-scribe/internal/store"
	"github.com/user/discord-scribe/internal/stt"
	"github.com/user/discord-scribe/internal/stt/deepgram"
	"github.com/user/discord-scribe/internal/stt/vosk"
	"github.com/user/discord-scribe/internal/summariser/gemini"
)

const commandPrefix = "!"

// transcribeTimeout bounds a single engine call. Segments are a few seconds
// of speech, so a minute covers even a cold remote engine.
const transcribeTimeout = 60 * time.Second

// durationWarnLead is how long before the session limit the warning notice
// goes out.
const durationWarnLead = 5 * time.Minute

// Bot wires Discord text commands to the session registry and posts the
// resulting transcripts back to the channel that asked for them.
type Bot struct {
	config      *config.Config
	discord     *discordgo.Session
	registry    *session.Registry
	store       *store.FileStore
	players     *playermap.Store
	transcriber stt.Transcriber
	summariser  *gemini.GeminiSummariser

	// Text channel driving each guild's recording, for notices and files
	textChannels map[string]string
	mutex        sync.RWMutex
}

func NewBot(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	discord, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents; GuildMembers is needed for !players
	discord.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	// Create store
	fileStore, err := store.NewFileStore(cfg.LogsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	players := playermap.NewStore(cfg.PlayerMapDir)

	// Create transcriber based on config
	var transcriber stt.Transcriber
	switch cfg.STTBackend {
	case "vosk":
		transcriber, err = vosk.NewVoskTranscriber(cfg.VoskModelPath, audio.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to create Vosk transcriber: %w", err)
		}
	case "deepgram":
		transcriber = deepgram.NewDeepgramTranscriber(cfg.DeepgramAPIKey, cfg.DeepgramModel)
	default:
		return nil, fmt.Errorf("unsupported STT backend: %s", cfg.STTBackend)
	}

	// Recap generation is optional; without an API key !stop still posts
	// the transcript files.
	var summariser *gemini.GeminiSummariser
	if cfg.GenAIAPIKey != "" {
		summariser, err = gemini.NewGeminiSummariser(cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create summariser: %w", err)
		}
	}

	bot := &Bot{
		config:       cfg,
		discord:      discord,
		store:        fileStore,
		players:      players,
		transcriber:  transcriber,
		summariser:   summariser,
		textChannels: make(map[string]string),
	}

	sessionCfg := session.Config{
		SilenceThreshold:  time.Duration(cfg.SilenceThresholdMS) * time.Millisecond,
		MinVoiced:         time.Duration(cfg.MinAudioMS) * time.Millisecond,
		FrameBuffer:       cfg.FrameBufferFrames,
		DrainBudget:       time.Duration(cfg.DrainTimeoutSeconds) * time.Second,
		MaxDuration:       time.Duration(cfg.MaxSessionMinutes) * time.Minute,
		WarnLead:          durationWarnLead,
		ArchiveAudio:      cfg.ArchiveAudio,
		AudioFormat:       cfg.AudioFormat,
		FFmpegBin:         cfg.FFmpegBin,
		Language:          cfg.Language,
		TranscribeTimeout: transcribeTimeout,
		FilterNoise:       cfg.EnableNoiseFilter,
	}
	bot.registry = session.NewRegistry(sessionCfg, NewDiscordTransport(discord), fileStore, players, transcriber, bot)

	// Register handlers
	discord.AddHandler(bot.onReady)
	discord.AddHandler(bot.onMessageCreate)
	discord.AddHandler(bot.onVoiceStateUpdate)

	return bot, nil
}

func (b *Bot) Start() error {
	// Open connection
	if err := b.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	log.Info().
		Str("stt_backend", b.transcriber.Name()).
		Bool("recap_enabled", b.summariser != nil).
		Msg("Discord bot started")
	return nil
}

func (b *Bot) Stop() error {
	// Stop all recordings and leave voice
	b.registry.Shutdown()

	// Close Discord session
	if err := b.discord.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}

	// Close transcriber
	if err := b.transcriber.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close transcriber")
	}

	// Close summariser
	if b.summariser != nil {
		if err := b.summariser.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close summariser")
		}
	}

	log.Info().Msg("Discord bot stopped")
	return nil
}

// Notify implements session.Notifier. Duration warnings and auto-stop
// notices land in the channel that started the recording.
func (b *Bot) Notify(guildID, message string) {
	b.mutex.RLock()
	channelID := b.textChannels[guildID]
	b.mutex.RUnlock()

	if channelID == "" {
		log.Warn().
			Str("guild_id", guildID).
			Str("message", message).
			Msg("No text channel known for guild notice")
		return
	}

	if _, err := b.discord.ChannelMessageSend(channelID, message); err != nil {
		log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to send notice")
	}
}

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	log.Info().
		Str("username", event.User.Username).
		Int("guilds", len(event.Guilds)).
		Msg("Bot is ready")
}

// onVoiceStateUpdate tears the guild session down when the bot is kicked or
// moved out of its voice channel.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, update *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || update.UserID != s.State.User.ID {
		return
	}
	if update.ChannelID != "" {
		return
	}

	// Our own Disconnect also fires this event, after the guild entry is
	// already gone.
	if state, _ := b.registry.GuildState(update.GuildID); state == session.StateIdle {
		return
	}

	log.Warn().
		Str("guild_id", update.GuildID).
		Msg("Removed from voice channel, tearing down session")

	if err := b.registry.Disconnect(update.GuildID); err != nil {
		log.Warn().Err(err).Str("guild_id", update.GuildID).Msg("Teardown after voice removal failed")
		return
	}
	b.Notify(update.GuildID, "⚠️ I was removed from the voice channel. Any running recording was finalized without its pending transcriptions.")
	b.forgetTextChannel(update.GuildID)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore bot messages
	if m.Author.Bot {
		return
	}

	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, commandPrefix) {
		return
	}

	fields := strings.Fields(content)
	switch fields[0] {
	case commandPrefix + "connect":
		b.handleConnect(s, m)
	case commandPrefix + "record":
		b.handleRecord(s, m, strings.Join(fields[1:], " "))
	case commandPrefix + "stop":
		b.handleStop(s, m)
	case commandPrefix + "disconnect":
		b.handleDisconnect(s, m)
	case commandPrefix + "players":
		b.handlePlayers(s, m)
	case commandPrefix + "help":
		b.handleHelp(s, m)
	}
}

func (b *Bot) handleConnect(s *discordgo.Session, m *discordgo.MessageCreate) {
	voiceChannelID := b.findVoiceChannel(s, m.GuildID, m.Author.ID)
	if voiceChannelID == "" {
		b.sendError(s, m.ChannelID, "You need to be in a voice channel to use this command")
		return
	}

	if err := b.registry.Connect(m.GuildID, voiceChannelID); err != nil {
		b.sendError(s, m.ChannelID, describeError(err))
		return
	}

	b.rememberTextChannel(m.GuildID, m.ChannelID)
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("🎙️ Connected to <#%s>. Use `!record` to start a session.", voiceChannelID))
}

func (b *Bot) handleRecord(s *discordgo.Session, m *discordgo.MessageCreate, label string) {
	sess, err := b.registry.StartRecording(m.GuildID, label)
	if err != nil {
		b.sendError(s, m.ChannelID, describeError(err))
		return
	}

	b.rememberTextChannel(m.GuildID, m.ChannelID)
	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("🔴 Recording session `%s`. Use `!stop` to finish.", sess.ID))
}

func (b *Bot) handleStop(s *discordgo.Session, m *discordgo.MessageCreate) {
	if state, _ := b.registry.GuildState(m.GuildID); state == session.StateRecording || state == session.StateStopping {
		s.ChannelMessageSend(m.ChannelID, "⏳ Finishing the session, draining pending transcriptions...")
	}

	sess, err := b.registry.StopRecording(m.GuildID)
	if err != nil {
		b.sendError(s, m.ChannelID, describeError(err))
		return
	}

	b.sendSessionResults(s, m.ChannelID, sess)
}

func (b *Bot) handleDisconnect(s *discordgo.Session, m *discordgo.MessageCreate) {
	state, _ := b.registry.GuildState(m.GuildID)

	if err := b.registry.Disconnect(m.GuildID); err != nil {
		b.sendError(s, m.ChannelID, describeError(err))
		return
	}

	b.forgetTextChannel(m.GuildID)

	msg := "👋 Left the voice channel."
	if state == session.StateRecording || state == session.StateStopping {
		msg = "👋 Left the voice channel. The recording was aborted; its transcript may be incomplete."
	}
	s.ChannelMessageSend(m.ChannelID, msg)
}

// handlePlayers rebuilds the guild's player map from the member list.
// Server nicknames become character names.
func (b *Bot) handlePlayers(s *discordgo.Session, m *discordgo.MessageCreate) {
	members, err := s.GuildMembers(m.GuildID, "", 1000)
	if err != nil {
		b.sendError(s, m.ChannelID, "Failed to list server members")
		return
	}

	entries := make(map[string]playermap.Entry, len(members))
	for _, member := range members {
		if member.User == nil || member.User.Bot {
			continue
		}
		entries[member.User.ID] = playermap.Entry{
			Player:    member.User.Username,
			Character: member.Nick,
		}
	}

	if err := b.players.Refresh(m.GuildID, entries); err != nil {
		b.sendError(s, m.ChannelID, "Failed to save the player map")
		return
	}

	s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("🗺️ Player map refreshed: %d members.", len(entries)))
}

func (b *Bot) handleHelp(s *discordgo.Session, m *discordgo.MessageCreate) {
	help := "**Commands**\n" +
		"`!connect` - join your voice channel\n" +
		"`!record [label]` - start recording the session\n" +
		"`!stop` - stop recording and post the transcript\n" +
		"`!disconnect` - leave the voice channel (aborts a running recording)\n" +
		"`!players` - refresh the player map from server members\n" +
		"`!help` - show this message"
	s.ChannelMessageSend(m.ChannelID, help)
}

// sendSessionResults posts the summary line and attaches the rendered
// transcript, the raw event log and, when configured, the recap.
func (b *Bot) sendSessionResults(s *discordgo.Session, channelID string, sess *session.Session) {
	events, err := sess.Events()
	if err != nil {
		b.sendError(s, channelID, fmt.Sprintf("Failed to read session events: %v", err))
		return
	}

	lines := report.Assemble(events)
	meta := sess.Meta()

	summary := fmt.Sprintf("✅ Session `%s` finished: %d utterances from %d speakers.", sess.ID, len(lines), len(meta.Participants))
	if meta.Incomplete {
		summary += "\n⚠️ Some transcriptions were abandoned at shutdown; the transcript may be missing its tail."
	}
	if meta.DroppedFrames > 0 {
		summary += fmt.Sprintf("\n⚠️ %d audio frames were dropped under load.", meta.DroppedFrames)
	}
	s.ChannelMessageSend(channelID, summary)

	if len(lines) == 0 {
		s.ChannelMessageSend(channelID, "No speech was transcribed in this session.")
		return
	}

	files := []*discordgo.File{
		{
			Name:        "transcript.txt",
			ContentType: "text/plain",
			Reader:      strings.NewReader(report.Render(lines)),
		},
	}

	if raw, err := os.ReadFile(sess.TranscriptPath()); err == nil {
		files = append(files, &discordgo.File{
			Name:        "events.jsonl",
			ContentType: "application/jsonl",
			Reader:      bytes.NewReader(raw),
		})
	} else {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to attach raw event log")
	}

	if b.summariser != nil {
		recap, err := b.summariser.Recap(context.Background(), sess.Label, lines)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("Failed to generate session recap")
		} else {
			files = append(files, &discordgo.File{
				Name:        "recap.md",
				ContentType: "text/markdown",
				Reader:      strings.NewReader(recap),
			})
		}
	}

	if _, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: "📝 Session transcript:",
		Files:   files,
	}); err != nil {
		b.sendError(s, channelID, "Failed to send transcript files")
	}
}

// findVoiceChannel returns the voice channel the user currently sits in, or
// "" when they are not in voice.
func (b *Bot) findVoiceChannel(s *discordgo.Session, guildID, userID string) string {
	guild, err := s.State.Guild(guildID)
	if err != nil {
		return ""
	}

	for _, voiceState := range guild.VoiceStates {
		if voiceState.UserID == userID {
			return voiceState.ChannelID
		}
	}
	return ""
}

func (b *Bot) rememberTextChannel(guildID, channelID string) {
	b.mutex.Lock()
	b.textChannels[guildID] = channelID
	b.mutex.Unlock()
}

func (b *Bot) forgetTextChannel(guildID string) {
	b.mutex.Lock()
	delete(b.textChannels, guildID)
	b.mutex.Unlock()
}

func (b *Bot) sendError(s *discordgo.Session, channelID, message string) {
	s.ChannelMessageSend(channelID, "❌ "+message)
	log.Warn().Str("channel_id", channelID).Str("error", message).Msg("Sent error message")
}

// describeError turns registry errors into user-facing text.
func describeError(err error) string {
	var connected *session.AlreadyConnectedError
	if errors.As(err, &connected) {
		return fmt.Sprintf("Already connected to <#%s> in this server. Use `!disconnect` first.", connected.ChannelID)
	}

	var state *session.InvalidStateError
	if errors.As(err, &state) {
		switch state.State {
		case session.StateIdle:
			return "Not connected to a voice channel. Use `!connect` first."
		case session.StateRecording:
			return "Already recording in this server. Use `!stop` to finish."
		default:
			return fmt.Sprintf("Cannot %s right now (state: %s).", state.Op, state.State)
		}
	}

	return err.Error()
}
