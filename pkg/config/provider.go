package config

import (
	"fmt"
	"os"

	"github.com/entrhq/pagehand/pkg/llm/openai"
)

// ReasonerTemperature is the sampling temperature of every reasoner call.
const ReasonerTemperature = 0.1

// BuildProvider creates an LLM provider based on configuration precedence:
// CLI flags > Environment variables > Config file > Defaults
func BuildProvider(cliModel, cliBaseURL, cliAPIKey, defaultModel string) (*openai.Provider, error) {
	finalModel := cliModel
	finalBaseURL := cliBaseURL
	finalAPIKey := cliAPIKey

	if finalAPIKey == "" {
		finalAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if finalBaseURL == "" {
		finalBaseURL = os.Getenv("OPENAI_BASE_URL")
	}

	if fileLLM := GetLLM(); fileLLM != nil {
		// The config file model applies unless the CLI chose a non-default one
		if cliModel == "" || cliModel == defaultModel {
			if m := fileLLM.GetModel(); m != "" {
				finalModel = m
			}
		}
		if finalBaseURL == "" {
			finalBaseURL = fileLLM.GetBaseURL()
		}
		if finalAPIKey == "" {
			finalAPIKey = fileLLM.GetAPIKey()
		}
	}

	if finalModel == "" {
		finalModel = defaultModel
	}

	if finalAPIKey == "" {
		return nil, fmt.Errorf("API key is required. Set OPENAI_API_KEY environment variable, use -api-key flag, or configure api_key in ~/.pagehand/config.json")
	}

	providerOpts := []openai.ProviderOption{
		openai.WithModel(finalModel),
		openai.WithTemperature(ReasonerTemperature),
	}
	if finalBaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(finalBaseURL))
	}

	provider, err := openai.NewProvider(finalAPIKey, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return provider, nil
}

// VerifierModel returns the configured verifier model or fallback.
func VerifierModel(fallback string) string {
	if l := GetLLM(); l != nil {
		if m := l.GetVerifierModel(); m != "" {
			return m
		}
	}
	return fallback
}
