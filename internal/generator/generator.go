// Package generator turns a merged transcript into meeting minutes via an
// LLM completion.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/scrivia/internal/config"
	"github.com/MrWong99/scrivia/internal/resilience"
	"github.com/MrWong99/scrivia/pkg/llm"
	"github.com/MrWong99/scrivia/pkg/minutes"
)

// Placeholder is the token in the prompt template replaced by the transcript.
const Placeholder = "{transcript}"

// systemPrompt frames every request. The structural requirements on the
// output live in the template file so operators can tune them.
const systemPrompt = "You are an assistant that writes structured meeting minutes from a timestamped multi-speaker transcript."

// Generator renders the prompt template and requests minutes from the
// configured provider, retrying transient failures.
type Generator struct {
	provider llm.Provider
	template string

	maxTokens   int
	temperature float64
	retries     int
	baseDelay   time.Duration
}

// New loads and validates the prompt template and returns a ready Generator.
// The template must contain the transcript placeholder exactly once.
func New(cfg config.GeneratorConfig, provider llm.Provider) (*Generator, error) {
	raw, err := os.ReadFile(cfg.PromptTemplatePath)
	if err != nil {
		return nil, minutes.Errorf(minutes.StageConfig, minutes.ErrConfig,
			"read prompt template %q: %v", cfg.PromptTemplatePath, err)
	}
	template := string(raw)
	if n := strings.Count(template, Placeholder); n != 1 {
		return nil, minutes.Errorf(minutes.StageConfig, minutes.ErrConfig,
			"prompt template %q must contain %s exactly once, found %d",
			cfg.PromptTemplatePath, Placeholder, n)
	}

	return &Generator{
		provider:    provider,
		template:    template,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		retries:     cfg.MaxRetries,
		baseDelay:   time.Second,
	}, nil
}

// Generate produces markdown minutes for the transcript. The transcript is
// inserted by literal replacement, so its content is never interpreted as
// template syntax. Transient provider failures (timeouts, rate limits, 5xx)
// are retried with backoff; everything else fails the call.
func (g *Generator) Generate(ctx context.Context, transcript string) (string, error) {
	prompt := strings.Replace(g.template, Placeholder, transcript, 1)

	policy := resilience.Policy{MaxRetries: g.retries, BaseDelay: g.baseDelay}

	var content string
	start := time.Now()
	err := resilience.Do(ctx, policy, "llm completion", func(ctx context.Context) error {
		resp, err := g.provider.Complete(ctx, llm.Request{
			SystemPrompt: systemPrompt,
			UserPrompt:   prompt,
			MaxTokens:    g.maxTokens,
			Temperature:  g.temperature,
		})
		if err != nil {
			var se *llm.StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return resilience.Permanent(err)
			}
			return err
		}
		if strings.TrimSpace(resp.Content) == "" {
			return resilience.Permanent(fmt.Errorf("provider returned empty content"))
		}
		content = resp.Content
		slog.Debug("minutes generated",
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
			"duration", time.Since(start),
		)
		return nil
	})
	if err != nil {
		return "", minutes.WrapErr(minutes.StageGeneration, minutes.ErrGeneration, err)
	}
	return content, nil
}
