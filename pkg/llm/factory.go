package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// NewChatModel builds the configured provider behind a circuit breaker.
func NewChatModel(cfg Config, breaker CircuitBreakerConfig, logger *zap.Logger) (ChatModel, error) {
	var (
		model ChatModel
		err   error
	)
	switch cfg.Provider {
	case ProviderOpenAI, "":
		model, err = NewOpenAIModel(cfg, logger)
	case ProviderAnthropic:
		model, err = NewAnthropicModel(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s chat model: %w", cfg.Provider, err)
	}
	return WithCircuitBreaker(model, NewCircuitBreaker(breaker)), nil
}
