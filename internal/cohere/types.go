package cohere

import (
	"math"

	"github.com/spindleworks/spindle/internal/session"
)

// Defaults for the Cohere generate API.
const (
	// DefaultEndpoint is the Cohere v1 generate endpoint.
	DefaultEndpoint = "https://api.cohere.ai/v1/generate"

	// DefaultModel is the generation model requested by default.
	DefaultModel = "command"

	// MaxTokens caps the length of a single generated story.
	MaxTokens = 1000

	baseTemperature  = 0.7
	humorTemperature = 0.3
	maxTemperature   = 1.0
	topKScale        = 100
)

// StopSequences mark narrative closure and end generation early.
var StopSequences = []string{"The End.", "Conclusion:", "Fin."}

// Params are the settings-derived generation parameters for one request.
type Params struct {
	// Temperature controls sampling randomness.
	Temperature float64

	// TopK restricts sampling to the k most likely tokens.
	TopK int
}

// ParamsFromSettings derives generation parameters from the current story
// settings: temperature is 0.7 plus humor scaled by 0.3, clamped to the
// accepted range, and top-k scales humor into the provider's integer range.
func ParamsFromSettings(s session.Settings) Params {
	temperature := baseTemperature + s.Humor*humorTemperature
	if temperature > maxTemperature {
		temperature = maxTemperature
	}
	return Params{
		Temperature: temperature,
		TopK:        int(math.Round(s.Humor * topKScale)),
	}
}

// generateRequest is the JSON body of a streaming generate call.
type generateRequest struct {
	Model             string   `json:"model"`
	Prompt            string   `json:"prompt"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	StopSequences     []string `json:"stop_sequences"`
	K                 int      `json:"k"`
	ReturnLikelihoods string   `json:"return_likelihoods"`
	Stream            bool     `json:"stream"`
}
