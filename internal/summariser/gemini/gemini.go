package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/user/discord-scribe/internal/report"
)

// GeminiSummariser turns a finished session transcript into a recap for
// the table. Optional; the bot only builds one when an API key is
// configured.
type GeminiSummariser struct {
	client *genai.Client
	model  string
}

func NewGeminiSummariser(apiKey, model string) (*GeminiSummariser, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiSummariser{
		client: client,
		model:  model,
	}, nil
}

// Recap summarizes the assembled transcript of one finished session.
func (g *GeminiSummariser) Recap(ctx context.Context, label string, lines []report.Line) (string, error) {
	if len(lines) == 0 {
		return "# Session Recap\n\nNo transcript available.", nil
	}

	prompt := g.buildPrompt(label, report.Render(lines))

	genModel := g.client.GenerativeModel(g.model)
	resp, err := genModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate recap: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no recap generated")
	}

	var recap strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			recap.WriteString(string(text))
		}
	}

	log.Info().
		Int("lines", len(lines)).
		Int("recap_length", recap.Len()).
		Msg("Generated session recap")

	return recap.String(), nil
}

func (g *GeminiSummariser) buildPrompt(label, transcript string) string {
	title := "the session"
	if label != "" {
		title = fmt.Sprintf("the session %q", label)
	}

	return fmt.Sprintf(`You are the chronicler of a tabletop roleplaying group. Given the diarized transcript of %s, produce:

1) **Recap** - what happened, in play order (max 12 bullets)
2) **Key Events** - fights, discoveries, deals and twists
3) **Names** - NPCs, places and items that came up, and who met them
4) **Unresolved Threads** - hooks and questions left open for next time

Write in the transcript's language. Format the output as clean Markdown. Stay factual; never invent events that are not in the transcript.

**TRANSCRIPT:**
%s

**SESSION RECAP:**`, title, transcript)
}

func (g *GeminiSummariser) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
