package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/user/discord-scribe/internal/archive"
	"github.com/user/discord-scribe/internal/audio"
	"github.com/user/discord-scribe/internal/metrics"
	"github.com/user/discord-scribe/internal/store"
)

// silenceTickInterval is how often a speaker's frame loop re-checks for a
// wall-clock silence boundary while the transport delivers nothing.
const silenceTickInterval = 200 * time.Millisecond

// dropWarnEvery throttles backpressure warnings per speaker.
const dropWarnEvery = 100

// participant is the per-speaker half of a session: a bounded frame
// buffer fed by the router, a frame loop that owns the segmenter and the
// archive, and a dispatch worker that serializes this speaker's
// transcriptions. Created lazily on the speaker's first frame.
type participant struct {
	speakerID    string
	firstSpokeAt time.Time

	frames   chan *audio.Frame
	segments chan *audio.Segment
	quit     chan struct{}
	loopDone chan struct{}
	done     chan struct{}

	segmenter *audio.Segmenter
	vad       audio.VAD
	archive   *archive.Writer

	nextSeq atomic.Uint64
	dropped atomic.Uint64

	// Owned by the frame loop; read only after loopDone is closed.
	emitted uint64
	// Set by the stop path after the archive is closed and encoded.
	archivePath string
}

func newParticipant(speakerID string, firstSpokeAt time.Time, seg *audio.Segmenter, vad audio.VAD, arch *archive.Writer, bufFrames int) *participant {
	return &participant{
		speakerID:    speakerID,
		firstSpokeAt: firstSpokeAt,
		frames:       make(chan *audio.Frame, bufFrames),
		segments:     make(chan *audio.Segment, 1),
		quit:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		done:         make(chan struct{}),
		segmenter:    seg,
		vad:          vad,
		archive:      arch,
	}
}

// offer enqueues a frame without ever blocking the caller. When the buffer
// is full the oldest frame is evicted to make room, so a stalled
// transcription costs the start of the backlog, not the live audio.
func (p *participant) offer(f *audio.Frame) {
	select {
	case p.frames <- f:
		return
	default:
	}

	select {
	case <-p.frames:
		p.noteDrop()
	default:
	}

	select {
	case p.frames <- f:
	default:
		p.noteDrop()
	}
}

func (p *participant) noteDrop() {
	metrics.FramesDropped.Inc()
	n := p.dropped.Add(1)
	if n == 1 || n%dropWarnEvery == 0 {
		log.Warn().
			Str("speaker_id", p.speakerID).
			Uint64("dropped", n).
			Msg("Frame buffer full, dropping oldest audio")
	}
}

// stop tells the frame loop to drain, flush and shut down.
func (p *participant) stop() {
	close(p.quit)
}

// frameLoop owns the segmenter. It consumes buffered frames, ticks the
// wall-clock silence check while the speaker is quiet, and on the stop
// signal drains what is buffered, force-flushes and closes the segment
// channel so the dispatch worker can finish.
func (p *participant) frameLoop() {
	defer close(p.loopDone)
	defer p.vad.Close()

	ticker := time.NewTicker(silenceTickInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-p.frames:
			p.handleFrame(f)
		case now := <-ticker.C:
			if seg := p.segmenter.Tick(now); seg != nil {
				p.forward(seg)
			}
		case <-p.quit:
			p.drainRemaining()
			if seg := p.segmenter.Flush(); seg != nil {
				p.forward(seg)
			}
			close(p.segments)
			return
		}
	}
}

func (p *participant) drainRemaining() {
	for {
		select {
		case f := <-p.frames:
			p.handleFrame(f)
		default:
			return
		}
	}
}

func (p *participant) handleFrame(f *audio.Frame) {
	if p.archive != nil {
		if err := p.archive.WritePCM(f.PCM); err != nil {
			metrics.ArchiveFailures.Inc()
			log.Error().
				Err(err).
				Str("speaker_id", p.speakerID).
				Msg("Archive write failed, abandoning this speaker's archive")
		}
	}

	if seg := p.segmenter.Push(f); seg != nil {
		p.forward(seg)
	}
}

// forward hands a finished segment to the dispatch worker. The segment
// channel holds a single slot; when the worker is busy and the slot is
// taken this blocks and the frame channel absorbs the backlog.
func (p *participant) forward(seg *audio.Segment) {
	p.emitted++
	p.segments <- seg
}

// dispatchWorker serializes transcription for one speaker. It exits once
// the segment channel is closed and everything queued has been dispatched.
func (p *participant) dispatchWorker(ctx context.Context, d *Dispatcher, logf *store.SessionLog) {
	defer close(p.done)

	for seg := range p.segments {
		ev := d.Dispatch(ctx, seg)
		if err := logf.Append(&ev); err != nil {
			if errors.Is(err, store.ErrLogClosed) {
				log.Warn().
					Str("speaker_id", p.speakerID).
					Str("segment_id", seg.ID.String()).
					Msg("Session log closed, discarding abandoned transcription")
				continue
			}
			log.Error().
				Err(err).
				Str("speaker_id", p.speakerID).
				Msg("Failed to append transcription event")
		}
	}
}
