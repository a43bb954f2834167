// File: internal/llmclient/gemini.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

// generateFn is the SDK call the client makes, factored out so tests can
// substitute a fake without a network.
type generateFn func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiClient implements schemas.LLMClient on the Gemini API. Requests are
// rate limited client-side and retried with exponential backoff on the
// transient API statuses.
type GeminiClient struct {
	logger   *zap.Logger
	cfg      config.LLMConfig
	limiter  *rate.Limiter
	generate generateFn
}

// NewGeminiClient initializes the SDK client.
func NewGeminiClient(ctx context.Context, logger *zap.Logger, cfg config.LLMConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required. Ensure GRAFT_LLM_API_KEY is exported")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm.model is not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini client: %w", err)
	}

	return newGeminiClient(logger, cfg, func(ctx context.Context, model string, contents []*genai.Content, gcfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return client.Models.GenerateContent(ctx, model, contents, gcfg)
	}), nil
}

func newGeminiClient(logger *zap.Logger, cfg config.LLMConfig, generate generateFn) *GeminiClient {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return &GeminiClient{
		logger:   logger.Named("llm_client.gemini"),
		cfg:      cfg,
		limiter:  limiter,
		generate: generate,
	}
}

// Generate produces a completion, selecting the model by tier and retrying
// transient API failures until the backoff budget runs out.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter interrupted: %w", err)
		}
	}

	model := c.modelFor(req.Tier)
	gcfg := c.buildGenerateConfig(req)
	contents := genai.Text(req.UserPrompt)

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var out string
	operation := func() error {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if c.cfg.APITimeout() > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.APITimeout())
		}
		defer cancel()

		start := time.Now()
		resp, err := c.generate(attemptCtx, model, contents, gcfg)
		if err != nil {
			return c.classifyError(err)
		}

		text := resp.Text()
		if text == "" {
			// No usable candidate; retrying will not conjure one.
			return backoff.Permanent(errors.New("gemini returned an empty completion"))
		}

		c.logger.Info("LLM generation complete.",
			zap.String("model", model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("chars", len(text)))
		out = text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return out, nil
}

// Close releases client resources. The underlying SDK holds no persistent
// connections, so this is bookkeeping only.
func (c *GeminiClient) Close() error { return nil }

// modelFor maps the requested tier onto the configured models. The fast tier
// uses the fallback model when one is set; everything else gets the primary.
func (c *GeminiClient) modelFor(tier schemas.ModelTier) string {
	if tier == schemas.TierFast && c.cfg.FallbackModel != "" {
		return c.cfg.FallbackModel
	}
	return c.cfg.Model
}

func (c *GeminiClient) buildGenerateConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temp := req.Options.Temperature
	if temp <= 0 {
		temp = c.cfg.Temperature
	}

	gcfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temp)),
	}
	if c.cfg.MaxTokens > 0 {
		gcfg.MaxOutputTokens = int32(c.cfg.MaxTokens)
	}
	if req.Options.TopP > 0 {
		gcfg.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.TopK > 0 {
		gcfg.TopK = genai.Ptr(float32(req.Options.TopK))
	}
	if req.SystemPrompt != "" {
		gcfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gcfg.ResponseMIMEType = "application/json"
	}
	return gcfg
}

// classifyError separates retryable API conditions from permanent ones.
func (c *GeminiClient) classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
			c.logger.Warn("Transient gemini API error, retrying.", zap.Int("status", apiErr.Code), zap.Error(err))
			return err
		default:
			return backoff.Permanent(fmt.Errorf("gemini API error: %w", err))
		}
	}
	if errors.Is(err, context.Canceled) {
		return backoff.Permanent(err)
	}
	// Network-level trouble: worth retrying.
	c.logger.Warn("Gemini request failed, retrying.", zap.Error(err))
	return err
}
