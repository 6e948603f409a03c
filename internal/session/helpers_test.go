package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/playermap"
	"github.com/user/discord-scribe/internal/store"
)

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// stubVAD treats any nonzero sample as speech.
type stubVAD struct{}

func (stubVAD) IsSpeech(pcm []int16, sampleRate int) bool {
	for _, s := range pcm {
		if s != 0 {
			return true
		}
	}
	return false
}

func (stubVAD) Close() error { return nil }

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int

	text  string
	err   error
	delay time.Duration
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []int16, language string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func (f *fakeTranscriber) Close() error { return nil }

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConn struct {
	channelID string

	mu       sync.Mutex
	sink     FrameSink
	captures int
	stops    int
	closed   bool
}

func (c *fakeConn) ChannelID() string { return c.channelID }

func (c *fakeConn) Capture(sink FrameSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
	c.captures++
}

func (c *fakeConn) StopCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = nil
	c.stops++
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	joinErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(map[string]*fakeConn)}
}

func (tr *fakeTransport) Join(guildID, channelID string) (VoiceConn, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.joinErr != nil {
		return nil, tr.joinErr
	}
	c := &fakeConn{channelID: channelID}
	tr.conns[guildID] = c
	return c, nil
}

func (tr *fakeTransport) conn(guildID string) *fakeConn {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.conns[guildID]
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(guildID, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// testConfig keeps thresholds small so tests finish fast.
func testConfig() Config {
	return Config{
		SilenceThreshold:  300 * time.Millisecond,
		MinVoiced:         40 * time.Millisecond,
		FrameBuffer:       16,
		DrainBudget:       2 * time.Second,
		WarnLead:          5 * time.Minute,
		AudioFormat:       "wav",
		FFmpegBin:         "ffmpeg",
		Language:          "fr",
		TranscribeTimeout: time.Second,
		FilterNoise:       true,
		NewVAD:            func() (audio.VAD, error) { return stubVAD{}, nil },
	}
}

func newTestRegistry(t *testing.T, cfg Config, transcriber *fakeTranscriber) (*Registry, *fakeTransport, *store.FileStore) {
	t.Helper()

	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	transport := newFakeTransport()
	players := playermap.NewStore("")
	reg := NewRegistry(cfg, transport, st, players, transcriber, &fakeNotifier{})

	return reg, transport, st
}

const testFrameDur = 20 * time.Millisecond

func voicedPCM() []int16 {
	pcm := make([]int16, audio.FrameSize)
	for i := range pcm {
		pcm[i] = 1000
	}
	return pcm
}

func silencePCM() []int16 {
	return make([]int16, audio.FrameSize)
}

// feedUtterance pushes n voiced frames followed by enough silence to cross
// the boundary threshold. Returns the timestamp after the last frame.
func feedUtterance(sink FrameSink, speakerID string, ts time.Time, voicedFrames int, cfg Config) time.Time {
	for i := 0; i < voicedFrames; i++ {
		sink.OnFrame(speakerID, voicedPCM(), false, ts)
		ts = ts.Add(testFrameDur)
	}

	silenceFrames := int(cfg.SilenceThreshold/testFrameDur) + 1
	for i := 0; i < silenceFrames; i++ {
		sink.OnFrame(speakerID, silencePCM(), false, ts)
		ts = ts.Add(testFrameDur)
	}
	return ts
}
