// File: internal/llmclient/gemini_test.go
package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/xkilldash9x/graft-cli/api/schemas"
	"github.com/xkilldash9x/graft-cli/internal/config"
)

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider:          config.ProviderGemini,
		APIKey:            "test-key",
		Model:             "gemini-2.5-pro",
		FallbackModel:     "gemini-2.5-flash",
		Temperature:       0.2,
		MaxTokens:         8192,
		RequestsPerMinute: 0, // no client-side throttling in tests
		APITimeoutSeconds: 30,
	}
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: s}}},
		}},
	}
}

// recordingGenerator captures every call and replays a scripted sequence of
// outcomes.
type recordingGenerator struct {
	models  []string
	configs []*genai.GenerateContentConfig
	prompts []string
	script  []func() (*genai.GenerateContentResponse, error)
}

func (r *recordingGenerator) fn() generateFn {
	return func(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		r.models = append(r.models, model)
		r.configs = append(r.configs, cfg)
		prompt := ""
		if len(contents) > 0 && contents[0] != nil && len(contents[0].Parts) > 0 {
			prompt = contents[0].Parts[0].Text
		}
		r.prompts = append(r.prompts, prompt)

		step := len(r.models) - 1
		if step >= len(r.script) {
			step = len(r.script) - 1
		}
		return r.script[step]()
	}
}

func TestGenerateSuccess(t *testing.T) {
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return textResponse("patched source"), nil },
	}}
	client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

	out, err := client.Generate(context.Background(), schemas.GenerationRequest{
		SystemPrompt: "You are a fixer.",
		UserPrompt:   "fix this file",
		Tier:         schemas.TierPowerful,
	})
	require.NoError(t, err)
	assert.Equal(t, "patched source", out)

	require.Len(t, gen.models, 1)
	assert.Equal(t, "gemini-2.5-pro", gen.models[0])
	assert.Equal(t, "fix this file", gen.prompts[0])

	cfg := gen.configs[0]
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.2, float64(*cfg.Temperature), 1e-6)
	assert.Equal(t, int32(8192), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Empty(t, cfg.ResponseMIMEType)
}

func TestGenerateTierSelection(t *testing.T) {
	t.Run("fast tier uses fallback model", func(t *testing.T) {
		gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
			func() (*genai.GenerateContentResponse, error) { return textResponse("ok"), nil },
		}}
		client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

		_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "q", Tier: schemas.TierFast})
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.5-flash", gen.models[0])
	})

	t.Run("fast tier without fallback falls back to primary", func(t *testing.T) {
		cfg := testLLMConfig()
		cfg.FallbackModel = ""
		gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
			func() (*genai.GenerateContentResponse, error) { return textResponse("ok"), nil },
		}}
		client := newGeminiClient(zaptest.NewLogger(t), cfg, gen.fn())

		_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "q", Tier: schemas.TierFast})
		require.NoError(t, err)
		assert.Equal(t, "gemini-2.5-pro", gen.models[0])
	})
}

func TestGenerateRequestOptions(t *testing.T) {
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return textResponse(`{"ok":true}`), nil },
	}}
	client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{
		UserPrompt: "q",
		Options: schemas.GenerationOptions{
			Temperature:     0.9,
			TopP:            0.95,
			TopK:            40,
			ForceJSONFormat: true,
		},
	})
	require.NoError(t, err)

	cfg := gen.configs[0]
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.9, float64(*cfg.Temperature), 1e-6)
	require.NotNil(t, cfg.TopP)
	assert.InDelta(t, 0.95, float64(*cfg.TopP), 1e-6)
	require.NotNil(t, cfg.TopK)
	assert.InDelta(t, 40, float64(*cfg.TopK), 1e-6)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	assert.Nil(t, cfg.SystemInstruction)
}

func TestGenerateRetriesTransientErrors(t *testing.T) {
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return nil, genai.APIError{Code: 429, Message: "rate limited"}
		},
		func() (*genai.GenerateContentResponse, error) { return textResponse("eventually"), nil },
	}}
	client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

	out, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "eventually", out)
	assert.Len(t, gen.models, 2, "expected one retry after the 429")
}

func TestGenerateRetriesNetworkErrors(t *testing.T) {
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return nil, errors.New("connection reset") },
		func() (*genai.GenerateContentResponse, error) { return textResponse("recovered"), nil },
	}}
	client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

	out, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Len(t, gen.models, 2)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) {
			return nil, genai.APIError{Code: 400, Message: "invalid argument"}
		},
	}}
	client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini API error")
	assert.Len(t, gen.models, 1, "client errors must not be retried")
}

func TestGenerateEmptyCompletionIsPermanent(t *testing.T) {
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return &genai.GenerateContentResponse{}, nil },
	}}
	client := newGeminiClient(zaptest.NewLogger(t), testLLMConfig(), gen.fn())

	_, err := client.Generate(context.Background(), schemas.GenerationRequest{UserPrompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty completion")
	assert.Len(t, gen.models, 1)
}

func TestGenerateRateLimiterHonorsContext(t *testing.T) {
	cfg := testLLMConfig()
	cfg.RequestsPerMinute = 1
	gen := &recordingGenerator{script: []func() (*genai.GenerateContentResponse, error){
		func() (*genai.GenerateContentResponse, error) { return textResponse("ok"), nil },
	}}
	client := newGeminiClient(zaptest.NewLogger(t), cfg, gen.fn())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Generate(ctx, schemas.GenerationRequest{UserPrompt: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter interrupted")
	assert.Empty(t, gen.models, "no API call should happen once the context is gone")
}

func TestNewGeminiClientValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("missing api key", func(t *testing.T) {
		cfg := testLLMConfig()
		cfg.APIKey = ""
		_, err := NewGeminiClient(context.Background(), logger, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key")
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := testLLMConfig()
		cfg.Model = ""
		_, err := NewGeminiClient(context.Background(), logger, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "llm.model")
	})
}

func TestFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("gemini", func(t *testing.T) {
		client, err := NewClient(context.Background(), logger, testLLMConfig())
		require.NoError(t, err)
		require.NotNil(t, client)
		assert.NoError(t, client.Close())
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testLLMConfig()
		cfg.Provider = "openai"
		_, err := NewClient(context.Background(), logger, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported LLM provider")
	})
}
