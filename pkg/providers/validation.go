package providers

import (
	"fmt"
	"regexp"
)

// Validation bounds for request intents.
const (
	maxModelLength = 200
	maxMessages    = 1000
	maxTemperature = 2.0
	maxTokensLimit = 1_000_000
)

var providerIDPattern = regexp.MustCompile(`^[a-z0-9_-]{1,100}$`)

// ValidateProviderID checks a provider id against the canonical pattern:
// lowercase letters, digits, underscore, hyphen, 1 to 100 characters.
func ValidateProviderID(id string) error {
	if !providerIDPattern.MatchString(id) {
		return &ValidationError{
			Field:   "provider_id",
			Message: "must match [a-z0-9_-]{1,100}",
		}
	}
	return nil
}

// ValidateIntent checks a request intent against the input rules. It is
// called before any key is selected so a malformed request never consumes
// a routing decision.
func ValidateIntent(intent *RequestIntent) error {
	if intent == nil {
		return &ValidationError{Field: "intent", Message: "must not be nil"}
	}

	if l := len(intent.Model); l == 0 || l > maxModelLength {
		return &ValidationError{
			Field:   "model",
			Message: fmt.Sprintf("length must be between 1 and %d characters", maxModelLength),
		}
	}

	if len(intent.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "must not be empty"}
	}
	if len(intent.Messages) > maxMessages {
		return &ValidationError{
			Field:   "messages",
			Message: fmt.Sprintf("must not exceed %d entries", maxMessages),
		}
	}
	for i, msg := range intent.Messages {
		if msg.Role == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("messages[%d].role", i),
				Message: "must not be empty",
			}
		}
	}

	p := intent.Parameters
	if p.Temperature < 0 || p.Temperature > maxTemperature {
		return &ValidationError{
			Field:   "parameters.temperature",
			Message: fmt.Sprintf("must be between 0 and %g", maxTemperature),
		}
	}
	if p.MaxTokens < 0 || p.MaxTokens > maxTokensLimit {
		return &ValidationError{
			Field:   "parameters.max_tokens",
			Message: fmt.Sprintf("must be between 1 and %d", maxTokensLimit),
		}
	}
	if p.TopP < 0 || p.TopP > 1 {
		return &ValidationError{
			Field:   "parameters.top_p",
			Message: "must be between 0 and 1",
		}
	}

	if err := ValidateProviderID(intent.ProviderID); err != nil {
		return err
	}

	return nil
}

// CheckCapabilities verifies the provider can serve the intent, returning
// a CapabilityError naming the first unsupported requirement.
func CheckCapabilities(intent *RequestIntent, caps Capabilities) error {
	if !caps.SupportsModel(intent.Model) {
		return &CapabilityError{
			ProviderID: intent.ProviderID,
			Capability: fmt.Sprintf("model %q", intent.Model),
		}
	}
	if intent.Stream && !caps.SupportsStreaming {
		return &CapabilityError{ProviderID: intent.ProviderID, Capability: "streaming"}
	}
	if intent.Tools && !caps.SupportsTools {
		return &CapabilityError{ProviderID: intent.ProviderID, Capability: "tools"}
	}
	return nil
}
