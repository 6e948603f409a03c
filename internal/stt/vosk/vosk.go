package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"
)

type VoskTranscriber struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	sampleRate int

	// The recognizer is stateful; concurrent utterances from different
	// speakers must take turns.
	mu sync.Mutex
}

type VoskResult struct {
	Text string `json:"text"`
}

func NewVoskTranscriber(modelPath string, sampleRate int) (*VoskTranscriber, error) {
	log.Info().Str("model_path", modelPath).Msg("Loading Vosk model")

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load Vosk model from %s: %w", modelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("failed to create Vosk recognizer: %w", err)
	}

	log.Info().Msg("Vosk model loaded successfully")

	return &VoskTranscriber{
		model:      model,
		recognizer: recognizer,
		sampleRate: sampleRate,
	}, nil
}

func (v *VoskTranscriber) Name() string {
	return "vosk"
}

func (v *VoskTranscriber) Transcribe(ctx context.Context, pcm []int16, language string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Convert PCM samples to bytes
	pcmBytes := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		pcmBytes[i*2] = byte(sample)
		pcmBytes[i*2+1] = byte(sample >> 8)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.recognizer.AcceptWaveform(pcmBytes) == -1 {
		return "", fmt.Errorf("failed to process audio segment")
	}

	// FinalResult flushes and resets the recognizer, so each utterance is
	// transcribed independently.
	jsonResult := v.recognizer.FinalResult()
	if jsonResult == "" {
		return "", nil
	}

	var voskResult VoskResult
	if err := json.Unmarshal([]byte(jsonResult), &voskResult); err != nil {
		log.Warn().
			Err(err).
			Str("json", jsonResult).
			Msg("Failed to parse Vosk result")
		return "", fmt.Errorf("failed to parse vosk result: %w", err)
	}

	log.Debug().
		Str("text", voskResult.Text).
		Int("pcm_samples", len(pcm)).
		Msg("Vosk transcription completed")

	return voskResult.Text, nil
}

func (v *VoskTranscriber) Close() error {
	if v.recognizer != nil {
		v.recognizer.Free()
	}
	if v.model != nil {
		v.model.Free()
	}
	return nil
}
