package stt

import (
	"context"
)

// Transcriber interface for STT backends. One utterance of mono PCM goes in,
// text comes out. Implementations may be local compute or remote calls; both
// are treated as fallible and possibly slow, and a failure only ever degrades
// the one utterance it belongs to.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, pcm []int16, language string) (string, error)
	Close() error
}
