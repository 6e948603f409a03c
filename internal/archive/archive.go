package archive

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/user/discord-scribe/internal/audio"
)

// SupportedFormats are the archive container formats the external encoder
// can produce. wav needs no conversion.
var SupportedFormats = map[string]bool{
	"wav":  true,
	"mp3":  true,
	"flac": true,
	"ogg":  true,
}

// Writer persists one speaker's continuous audio stream as a WAV file,
// independent of utterance segmentation. The header is written with
// placeholder sizes at create time and patched on Close.
//
// A Writer is owned by a single goroutine; it is not safe for concurrent
// use. After any write error the Writer is failed and stays failed: the one
// speaker's archive is abandoned, nothing else is affected.
type Writer struct {
	path       string
	f          *os.File
	sampleRate int
	dataBytes  int64
	failed     bool
	closed     bool
}

// NewWriter creates <dir>/user_<speakerID>.wav and writes the placeholder
// header.
func NewWriter(dir, speakerID string, sampleRate int) (*Writer, error) {
	path := filepath.Join(dir, fmt.Sprintf("user_%s.wav", speakerID))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	if _, err := f.Write(audio.WAVHeader(sampleRate, audio.Channels, 0)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write archive header: %w", err)
	}

	log.Debug().
		Str("speaker_id", speakerID).
		Str("file", path).
		Msg("Opened audio archive")

	return &Writer{
		path:       path,
		f:          f,
		sampleRate: sampleRate,
	}, nil
}

// WritePCM appends samples to the archive. On failure the Writer flips into
// its failed state and further writes are no-ops.
func (w *Writer) WritePCM(pcm []int16) error {
	if w.failed || w.closed {
		return nil
	}

	buf := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}

	if _, err := w.f.Write(buf); err != nil {
		w.failed = true
		return fmt.Errorf("failed to write archive audio: %w", err)
	}
	w.dataBytes += int64(len(buf))

	return nil
}

func (w *Writer) Failed() bool {
	return w.failed
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) BytesWritten() int64 {
	return w.dataBytes
}

// Close patches the RIFF and data chunk sizes and closes the file. A failed
// Writer removes its partial file instead.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.failed {
		w.f.Close()
		os.Remove(w.path)
		return nil
	}

	var sizes [4]byte
	binary.LittleEndian.PutUint32(sizes[:], uint32(36+w.dataBytes))
	if _, err := w.f.WriteAt(sizes[:], audio.WAVRiffSizeOffset); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch archive header: %w", err)
	}
	binary.LittleEndian.PutUint32(sizes[:], uint32(w.dataBytes))
	if _, err := w.f.WriteAt(sizes[:], audio.WAVDataSizeOffset); err != nil {
		w.f.Close()
		return fmt.Errorf("failed to patch archive header: %w", err)
	}

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	log.Debug().
		Str("file", w.path).
		Int64("bytes", w.dataBytes).
		Msg("Closed audio archive")

	return nil
}

// EncodeFile converts a finished WAV archive to the target format through
// the external encoder and removes the WAV on success. Returns the encoded
// file's path. format "wav" is a no-op.
func EncodeFile(ctx context.Context, ffmpegBin, wavPath, format string) (string, error) {
	if format == "" || format == "wav" {
		return wavPath, nil
	}
	if !SupportedFormats[format] {
		return "", fmt.Errorf("unsupported archive format %q", format)
	}

	outPath := strings.TrimSuffix(wavPath, ".wav") + "." + format

	cmd := exec.CommandContext(ctx, ffmpegBin, "-y", "-i", wavPath, outPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", ffmpegBin, err, tail(string(out), 400))
	}

	if err := os.Remove(wavPath); err != nil {
		log.Warn().Err(err).Str("file", wavPath).Msg("Failed to remove archive WAV after conversion")
	}

	log.Info().
		Str("file", outPath).
		Str("format", format).
		Msg("Converted audio archive")

	return outPath, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
