package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
	"github.com/user/discord-scribe/internal/audio"
)

const listenURL = "https://api.deepgram.com/v1/listen"

type DeepgramTranscriber struct {
	apiKey string
	model  string
	client *http.Client
}

type DeepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func NewDeepgramTranscriber(apiKey, model string) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{},
	}
}

func (d *DeepgramTranscriber) Name() string {
	return "deepgram"
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, pcm []int16, language string) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wavData := audio.PCMToWAV(pcm, audio.SampleRate)

	params := url.Values{}
	if d.model != "" {
		params.Set("model", d.model)
	}
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	if language != "" {
		params.Set("language", language)
	}

	fullURL := listenURL + "?" + params.Encode()

	log.Debug().
		Str("model", d.model).
		Str("language", language).
		Int("audio_size_bytes", len(wavData)).
		Msg("Making Deepgram API request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(wavData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepgram API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Msg("Deepgram API error response")
		return "", fmt.Errorf("deepgram API error %d: %s", resp.StatusCode, string(body))
	}

	var result DeepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.Warn().
			Str("response_body", string(body)).
			Msg("Failed to parse Deepgram response")
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Results.Channels) == 0 {
		log.Debug().Msg("No channels in Deepgram response")
		return "", nil
	}

	// One alternative per utterance in practice; take the best.
	for _, alternative := range result.Results.Channels[0].Alternatives {
		if alternative.Transcript == "" {
			continue
		}

		log.Debug().
			Str("transcript", alternative.Transcript).
			Float64("confidence", alternative.Confidence).
			Msg("Received transcription")

		return alternative.Transcript, nil
	}

	return "", nil
}

func (d *DeepgramTranscriber) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}
