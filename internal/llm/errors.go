package llm

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned while the provider circuit breaker rejects calls.
var ErrCircuitOpen = errors.New("llm: provider temporarily unavailable after repeated failures")

// APIKeyError reports a provider with no configured API key.
type APIKeyError struct {
	Provider string
	EnvVar   string
}

func (e *APIKeyError) Error() string {
	return fmt.Sprintf("Missing API key for provider %q. Set %s.", e.Provider, e.EnvVar)
}

// ProviderError reports an unknown provider or an unsupported model.
type ProviderError struct {
	Provider string
	Model    string
	Reason   string
}

func (e *ProviderError) Error() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Model != "":
		return fmt.Sprintf("unsupported model %q for provider %q", e.Model, e.Provider)
	}
	return fmt.Sprintf("unsupported provider %q", e.Provider)
}

// IsConfigError reports whether err is a configuration error that should be
// surfaced to the caller before any work starts.
func IsConfigError(err error) bool {
	var keyErr *APIKeyError
	var providerErr *ProviderError
	return errors.As(err, &keyErr) || errors.As(err, &providerErr)
}

// CallError wraps a provider transport failure.
type CallError struct {
	Provider string
	Model    string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
