// internal/services/generator_service.go
package services

import (
	"context"
	"strings"
	"time"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
	"github.com/Corphon/ManimStudio/internal/prompts"
	"github.com/Corphon/ManimStudio/internal/utils"
)

// GeneratedCode holds the backend reply before and after sanitization
type GeneratedCode struct {
	Raw        string
	Sanitized  string
	Provider   string
	Model      string
	TokensUsed int
	Duration   time.Duration
}

// GeneratorService turns a user prompt into a Manim script
type GeneratorService struct {
	llm    *LLMService
	policy *prompts.Policy
}

func NewGeneratorService(llmService *LLMService, policy *prompts.Policy) *GeneratorService {
	return &GeneratorService{llm: llmService, policy: policy}
}

// Generate prepends the provider's instructional template to prompt, sends it as a
// single user message and returns the reply sanitized. No retries.
func (g *GeneratorService) Generate(ctx context.Context, prompt string) (*GeneratedCode, error) {
	provider := g.llm.GetProviderName()
	if !g.llm.IsReady() {
		return nil, apperrors.NewGenerationError("generation backend "+provider+" is "+g.llm.GetReadyState(), ErrLLMNotReady)
	}

	tmpl, err := g.policy.TemplateFor(provider)
	if err != nil {
		return nil, apperrors.NewGenerationError("no prompt template", err)
	}

	start := time.Now()
	resp, err := g.llm.CompleteText(ctx, tmpl.Compose(prompt))
	if err != nil {
		return nil, apperrors.WrapError(err, "code generation failed", apperrors.ErrorTypeGeneration)
	}

	sanitized := utils.SanitizeScript(resp.Text)
	if strings.TrimSpace(sanitized) == "" {
		return nil, apperrors.NewGenerationError("code generation returned no code", nil)
	}

	model := resp.ModelName
	if model == "" {
		model = g.llm.GetDefaultModel()
	}

	return &GeneratedCode{
		Raw:        resp.Text,
		Sanitized:  sanitized,
		Provider:   provider,
		Model:      model,
		TokensUsed: resp.TokensUsed,
		Duration:   time.Since(start),
	}, nil
}

func (g *GeneratorService) ProviderName() string {
	return g.llm.GetProviderName()
}

func (g *GeneratorService) Model() string {
	return g.llm.GetDefaultModel()
}
