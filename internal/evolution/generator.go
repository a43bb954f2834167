// File: internal/evolution/generator.go
package evolution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/graft-cli/api/schemas"
)

const repairSystemPrompt = "You are a senior software engineer. Fix the provided file so the build succeeds. " +
	"Return ONLY the full corrected file contents, with no markdown fences, no commentary."

// LLMGenerator asks the configured model for a corrective replacement of a
// candidate that failed to build. Replies must be a full file; markdown
// fences are stripped when the model adds them anyway.
type LLMGenerator struct {
	logger *zap.Logger
	client schemas.LLMClient
}

// NewLLMGenerator wraps an LLM client as a CandidateGenerator.
func NewLLMGenerator(logger *zap.Logger, client schemas.LLMClient) *LLMGenerator {
	return &LLMGenerator{
		logger: logger.Named("generator"),
		client: client,
	}
}

// Repair requests a corrected candidate for the failing file.
func (g *LLMGenerator) Repair(ctx context.Context, req schemas.RepairRequest) (string, error) {
	g.logger.Info("Requesting corrective candidate.",
		zap.String("path", req.Path),
		zap.Int("attempt", req.Attempt),
		zap.Int("max_attempts", req.MaxAttempts))

	userPrompt := fmt.Sprintf(
		"Your previous evolution failed for path: %s\n\nBuild error (stderr):\n%s\n\nHere is the full current file content:\n%s\n\nReturn the full corrected file content only.",
		req.Path, req.Stderr, req.Content)

	reply, err := g.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: repairSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return "", fmt.Errorf("corrective generation failed: %w", err)
	}

	candidate := stripFences(reply)
	if strings.TrimSpace(candidate) == "" {
		return "", errors.New("generator returned an empty candidate")
	}
	return candidate, nil
}

// stripFences removes a wrapping markdown code fence, tolerating a language
// tag on the opening line. Content without fences passes through unchanged.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:] // opening fence, possibly ```go etc.
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
