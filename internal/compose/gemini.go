package compose

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the model used for stories and decorations.
const DefaultGeminiModel = "gemini-2.5-flash"

const storyPrompt = `Create a very short, engaging story for children aged %s about: %s.

Requirements:
- Use simple, age-appropriate vocabulary
- Keep it to 2-3 sentences maximum
- Make it educational and fun
- End with a positive message
- Focus on one main character and one simple event
- Do not use any emojis in the story text, only plain words

Story:`

const iconPrompt = `Look at these exact words from a children's story: "%s"

Generate 3-5 emojis that directly represent what is happening in these words.
Be specific to the nouns, verbs and actions mentioned.

Return ONLY the emoji characters, no spaces, no text, no explanations.`

// generateFunc sends one prompt and returns the response text.
type generateFunc func(ctx context.Context, prompt string, temperature float32, maxTokens int32) (string, error)

// Gemini composes stories and decorations with Google's Gemini models.
// Decorations fall back to keyword icons when the model fails.
type Gemini struct {
	model    string
	generate generateFunc
	logger   *log.Logger
}

// NewGemini creates a Gemini collaborator for apiKey.
func NewGemini(ctx context.Context, apiKey, model string, logger *log.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY", ErrNotConfigured)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = log.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}

	g := &Gemini{model: model, logger: logger.WithPrefix("gemini")}
	g.generate = func(ctx context.Context, prompt string, temperature float32, maxTokens int32) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(temperature),
			MaxOutputTokens: maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("genai generate: %w", err)
		}
		return resp.Text(), nil
	}
	return g, nil
}

// Name implements Composer.
func (g *Gemini) Name() string { return "gemini:" + g.model }

// Compose implements Composer.
func (g *Gemini) Compose(ctx context.Context, req Request) (string, error) {
	age := req.AgeGroup
	if age == "" {
		age = DefaultAgeGroup
	}
	prompt := req.Prompt
	if req.Category != "" {
		prompt = req.Category + ": " + prompt
	}

	g.logger.Debug("Generating story", "prompt", req.Prompt, "age_group", age)
	text, err := g.generate(ctx, fmt.Sprintf(storyPrompt, age, prompt), 0.7, 1000)
	if err != nil {
		return "", err
	}

	story := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "Story:"))
	if story == "" {
		return "", fmt.Errorf("gemini returned no story for %q", req.Prompt)
	}
	return story, nil
}

// Decorate implements Decorator.
func (g *Gemini) Decorate(ctx context.Context, words string) (string, error) {
	text, err := g.generate(ctx, fmt.Sprintf(iconPrompt, words), 0.3, 50)
	if err != nil {
		g.logger.Warn("Icon generation failed, using keywords", "err", err)
		return KeywordIcons(words), nil
	}
	icons := iconsOnly(text)
	if icons == "" {
		return KeywordIcons(words), nil
	}
	return icons, nil
}

// iconsOnly drops everything from s that is text rather than pictograph, and
// caps the result length.
func iconsOnly(s string) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
		// Variation selectors and joiners ride along with their base icon.
		if r != '\ufe0f' && r != '\u200d' {
			n++
		}
		if n >= 4*maxIcons {
			break
		}
	}
	return b.String()
}
