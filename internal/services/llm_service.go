// internal/services/llm_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/ManimStudio/internal/config"
	"github.com/Corphon/ManimStudio/internal/llm"
	"github.com/Corphon/ManimStudio/internal/utils"
)

var ErrLLMNotReady = errors.New("llm service not ready")

// LLMService owns the configured generation backend
type LLMService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	defaultModel  string
	temperature   float32
	isReady       bool
	readyState    string
	metrics       *utils.RunMetrics
}

// NewLLMService initializes the provider selected in cfg
func NewLLMService(cfg config.LLMConfig, metrics *utils.RunMetrics) (*LLMService, error) {
	providerConfig := map[string]string{
		"api_key":       cfg.APIKey,
		"default_model": cfg.Model,
	}
	if cfg.Provider == config.ProviderOpenRouter {
		providerConfig["base_url"] = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		providerConfig["timeout"] = cfg.Timeout.String()
	}

	provider, err := llm.GetProvider(cfg.Provider, providerConfig)
	if err != nil {
		return nil, fmt.Errorf("initialize %s provider: %w", cfg.Provider, err)
	}

	service := NewLLMServiceWithProvider(cfg.Provider, cfg.Model, provider, metrics)
	service.temperature = cfg.Temperature
	return service, nil
}

// NewLLMServiceWithProvider wraps an already initialized provider
func NewLLMServiceWithProvider(name, model string, provider llm.Provider, metrics *utils.RunMetrics) *LLMService {
	if metrics == nil {
		metrics = utils.NewRunMetrics()
	}
	s := &LLMService{
		provider:     provider,
		providerName: name,
		defaultModel: model,
		metrics:      metrics,
		readyState:   "Uninitialized",
	}
	if provider != nil {
		s.isReady = true
		s.readyState = "Ready"
	}
	return s
}

func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

func (s *LLMService) GetDefaultModel() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.defaultModel
}

// CompleteText sends one prompt to the backend and records the call
func (s *LLMService) CompleteText(ctx context.Context, prompt string) (*llm.CompletionResponse, error) {
	s.providerMutex.RLock()
	provider := s.provider
	ready := s.isReady
	name := s.providerName
	model := s.defaultModel
	temperature := s.temperature
	s.providerMutex.RUnlock()

	if provider == nil || !ready {
		return nil, ErrLLMNotReady
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Model:       model,
		Temperature: temperature,
	})
	duration := time.Since(start)

	if err != nil {
		s.metrics.Collector().IncrementCounter("llm_errors_" + name)
		return nil, err
	}

	if resp.ModelName != "" {
		model = resp.ModelName
	}
	s.metrics.RecordLLMRequest(name, model, resp.TokensUsed, duration)
	return resp, nil
}

// Describe returns the provider status for health reporting
func (s *LLMService) Describe() map[string]string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return map[string]string{
		"provider": s.providerName,
		"model":    s.defaultModel,
		"state":    s.readyState,
		"ready":    strconv.FormatBool(s.provider != nil && s.isReady),

		"supported_models":    strings.Join(llm.GetSupportedModelsForProvider(s.providerName), ","),
		"available_providers": strings.Join(llm.ListProviders(), ","),
	}
}
