package audio

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/metrics"
)

// SegmenterConfig carries the boundary-detection thresholds.
type SegmenterConfig struct {
	// SilenceThreshold is how long a speaker must stay quiet before the
	// open segment is closed.
	SilenceThreshold time.Duration
	// MinVoiced is the voiced duration below which a closed buffer is
	// discarded as noise instead of emitted.
	MinVoiced time.Duration
}

// Segmenter turns one speaker's frame stream into discrete utterance
// segments. It is a plain state machine: the owning goroutine feeds it via
// Push, pokes it with Tick while the transport is quiet, and Flush-es it at
// session stop. It is not safe for concurrent use.
type Segmenter struct {
	speakerID string
	vad       VAD
	cfg       SegmenterConfig

	buf          []int16
	voicedLen    int // buf length at the last voiced sample
	start        time.Time
	lastVoiced   time.Time
	voiced       time.Duration
	silence      time.Duration
	seq          uint64
	lastFrameSeq uint64
}

func NewSegmenter(speakerID string, vad VAD, cfg SegmenterConfig) *Segmenter {
	return &Segmenter{
		speakerID: speakerID,
		vad:       vad,
		cfg:       cfg,
	}
}

// Push feeds one frame through the boundary detector. It returns a closed
// segment when this frame completed an utterance, nil otherwise.
func (s *Segmenter) Push(f *Frame) *Segment {
	if f.Seq > 0 && s.lastFrameSeq > 0 && f.Seq != s.lastFrameSeq+1 {
		log.Warn().
			Str("speaker_id", s.speakerID).
			Uint64("expected_seq", s.lastFrameSeq+1).
			Uint64("got_seq", f.Seq).
			Msg("Frame sequence gap, audio was dropped upstream")
	}
	if f.Seq > 0 {
		s.lastFrameSeq = f.Seq
	}

	if s.isVoiced(f) {
		if len(s.buf) == 0 {
			s.start = f.Timestamp
		}
		s.buf = append(s.buf, f.PCM...)
		s.voicedLen = len(s.buf)
		s.voiced += f.Duration()
		s.silence = 0
		s.lastVoiced = f.Timestamp.Add(f.Duration())
		return nil
	}

	// Leading silence never opens a segment.
	if len(s.buf) == 0 {
		return nil
	}

	// Quiet frames inside an utterance are kept so natural pauses survive,
	// but the emitted segment is trimmed back to the voiced span.
	s.buf = append(s.buf, f.PCM...)
	s.silence += f.Duration()

	if s.silence >= s.cfg.SilenceThreshold {
		return s.closeSegment(false)
	}
	return nil
}

// Tick closes the open segment when the speaker has been quiet past the
// threshold without the transport delivering any frames at all.
func (s *Segmenter) Tick(now time.Time) *Segment {
	if len(s.buf) == 0 {
		return nil
	}
	if now.Sub(s.lastVoiced) >= s.cfg.SilenceThreshold {
		return s.closeSegment(false)
	}
	return nil
}

// Flush emits whatever is buffered regardless of the minimum-duration rule.
// The segment is tagged so downstream filtering can still drop trivial
// content. Returns nil when nothing is buffered.
func (s *Segmenter) Flush() *Segment {
	if len(s.buf) == 0 {
		return nil
	}
	return s.closeSegment(true)
}

// Seq returns the number of segments emitted so far.
func (s *Segmenter) Seq() uint64 {
	return s.seq
}

func (s *Segmenter) isVoiced(f *Frame) bool {
	if f.Silence {
		return false
	}
	return s.vad.IsSpeech(f.PCM, SampleRate)
}

func (s *Segmenter) closeSegment(force bool) *Segment {
	defer s.reset()

	if !force && s.voiced < s.cfg.MinVoiced {
		metrics.SegmentsDiscarded.Inc()
		log.Debug().
			Str("speaker_id", s.speakerID).
			Dur("voiced", s.voiced).
			Dur("min_voiced", s.cfg.MinVoiced).
			Msg("Discarding short buffer as noise")
		return nil
	}

	pcm := make([]int16, s.voicedLen)
	copy(pcm, s.buf[:s.voicedLen])

	metrics.SegmentsEmitted.Inc()
	s.seq++
	seg := &Segment{
		ID:           uuid.New(),
		SpeakerID:    s.speakerID,
		Start:        s.start,
		End:          s.lastVoiced,
		PCM:          pcm,
		Voiced:       s.voiced,
		Seq:          s.seq,
		ForceFlushed: force,
	}

	log.Debug().
		Str("speaker_id", s.speakerID).
		Str("segment_id", seg.ID.String()).
		Time("start", seg.Start).
		Time("end", seg.End).
		Dur("voiced", seg.Voiced).
		Bool("force_flushed", force).
		Msg("Closed audio segment")

	return seg
}

func (s *Segmenter) reset() {
	s.buf = nil
	s.voicedLen = 0
	s.voiced = 0
	s.silence = 0
	s.start = time.Time{}
}
