package audio

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one decoded chunk of audio from a single speaker.
type Frame struct {
	PCM       []int16
	Timestamp time.Time
	Seq       uint64 // per-speaker, strictly increasing; gaps mean dropped frames
	Silence   bool   // transport-level comfort-noise marker
}

// Duration returns the play time of the frame's PCM at SampleRate.
func (f *Frame) Duration() time.Duration {
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(SampleRate)
}

// Segment is one detected utterance of continuous voiced audio from one speaker.
type Segment struct {
	ID           uuid.UUID
	SpeakerID    string
	Start        time.Time
	End          time.Time
	PCM          []int16
	Voiced       time.Duration // accumulated voiced play time
	Seq          uint64        // per-speaker emission ordinal, starts at 1
	ForceFlushed bool
}

// AudioDecoder interface for different audio decoders
type AudioDecoder interface {
	Decode(opus []byte) ([]int16, error)
}

// VAD interface for Voice Activity Detection
type VAD interface {
	IsSpeech(pcm []int16, sampleRate int) bool
	Close() error
}
