package stt

import (
	"regexp"
	"strings"
)

// Subtitle boilerplate the whisper-family engines hallucinate on short or
// near-silent audio. Matched against trimmed, lowercased text.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^sous-?titrage st'? 501$`),
	regexp.MustCompile(`^sous-?titrage fr \?$`),
	regexp.MustCompile(`^sous-?titrage société radio-canada$`),
	regexp.MustCompile(`^sous-?titres par jérémy diaz$`),
	regexp.MustCompile(`^– sous-?titrage fr 2021$`),
}

// NoiseFilter flags transcription text that is a known engine hallucination.
// Flagged events stay in the session log but are excluded from rendered
// transcripts.
type NoiseFilter struct {
	enabled bool
}

func NewNoiseFilter(enabled bool) *NoiseFilter {
	return &NoiseFilter{enabled: enabled}
}

func (f *NoiseFilter) IsNoise(text string) bool {
	if !f.enabled || text == "" {
		return false
	}

	t := strings.ToLower(strings.TrimSpace(text))
	for _, pattern := range noisePatterns {
		if pattern.MatchString(t) {
			return true
		}
	}
	return false
}
