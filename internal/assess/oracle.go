package assess

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/shamrock-bonds/lead-pipeline/internal/config"
	"github.com/shamrock-bonds/lead-pipeline/pkg/anthropic"
)

// Oracle is the pluggable text-generation boundary. Returning an empty
// string or an error is a valid, expected failure mode the escalator
// absorbs into its fallback.
type Oracle interface {
	Generate(ctx context.Context, systemPrompt, userContent string, opts GenerateOptions) (string, error)
}

// GenerateOptions bounds a single oracle call.
type GenerateOptions struct {
	JSONMode  bool
	MaxTokens int64
}

// AnthropicOracle implements Oracle on the Anthropic messages API with a
// shared rate limiter across all pipeline invocations in this process.
type AnthropicOracle struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
}

// NewAnthropicOracle builds an oracle from config.
func NewAnthropicOracle(client anthropic.Client, cfg config.AnthropicConfig) *AnthropicOracle {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2.0
	}
	return &AnthropicOracle{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (o *AnthropicOracle) Generate(ctx context.Context, systemPrompt, userContent string, opts GenerateOptions) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "oracle: rate limit wait")
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := o.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     o.model,
		MaxTokens: maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: userContent},
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "oracle: generate")
	}

	resp.Usage.LogCost(o.model, "risk_assessment")
	return resp.Text(), nil
}
