package llm

import (
	"fmt"
	"sort"
	"strings"
)

// Provider names accepted by the catalog.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// DefaultTemperature applies to models that accept a sampling temperature.
const DefaultTemperature = 0.2

// ModelConfig describes one supported model.
type ModelConfig struct {
	Provider string
	Model    string
	// FixedTemperature marks reasoning models that reject a temperature parameter.
	FixedTemperature bool
}

// Temperature returns the sampling temperature to send, if any.
func (m ModelConfig) Temperature() (float64, bool) {
	if m.FixedTemperature {
		return 0, false
	}
	return DefaultTemperature, true
}

var envVars = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
}

var builtinModels = []ModelConfig{
	{Provider: ProviderOpenAI, Model: "gpt-4o"},
	{Provider: ProviderOpenAI, Model: "gpt-4o-mini"},
	{Provider: ProviderOpenAI, Model: "gpt-4.1"},
	{Provider: ProviderOpenAI, Model: "gpt-4.1-mini"},
	{Provider: ProviderOpenAI, Model: "gpt-5", FixedTemperature: true},
	{Provider: ProviderOpenAI, Model: "gpt-5-mini", FixedTemperature: true},
	{Provider: ProviderOpenAI, Model: "o3-mini", FixedTemperature: true},
	{Provider: ProviderOpenAI, Model: "o4-mini", FixedTemperature: true},
	{Provider: ProviderAnthropic, Model: "claude-sonnet-4-5"},
	{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
	{Provider: ProviderAnthropic, Model: "claude-opus-4-1"},
	{Provider: ProviderAnthropic, Model: "claude-3-5-haiku-latest"},
	{Provider: ProviderGoogle, Model: "gemini-2.5-pro"},
	{Provider: ProviderGoogle, Model: "gemini-2.5-flash"},
	{Provider: ProviderGoogle, Model: "gemini-2.0-flash"},
}

// Catalog validates provider/model pairs and knows which providers have keys.
type Catalog struct {
	models map[string]map[string]ModelConfig
	keys   map[string]string
}

// NewCatalog builds a catalog with the built-in models, any extra models in
// "provider:model" form, and the given API keys by provider.
func NewCatalog(keys map[string]string, extra []string) *Catalog {
	c := &Catalog{
		models: make(map[string]map[string]ModelConfig),
		keys:   make(map[string]string),
	}
	for p := range envVars {
		c.models[p] = make(map[string]ModelConfig)
	}
	for _, m := range builtinModels {
		c.models[m.Provider][m.Model] = m
	}
	for _, spec := range extra {
		provider, model, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok || model == "" {
			continue
		}
		if _, known := c.models[provider]; known {
			c.models[provider][model] = ModelConfig{Provider: provider, Model: model}
		}
	}
	for p, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			c.keys[p] = k
		}
	}
	return c
}

// APIKey returns the configured key for provider.
func (c *Catalog) APIKey(provider string) (string, error) {
	env, known := envVars[provider]
	if !known {
		return "", c.unknownProvider(provider)
	}
	key := c.keys[provider]
	if key == "" {
		return "", &APIKeyError{Provider: provider, EnvVar: env}
	}
	return key, nil
}

// Model looks up a supported model.
func (c *Catalog) Model(provider, model string) (ModelConfig, error) {
	models, known := c.models[provider]
	if !known {
		return ModelConfig{}, c.unknownProvider(provider)
	}
	cfg, ok := models[model]
	if !ok {
		return ModelConfig{}, &ProviderError{
			Provider: provider,
			Model:    model,
			Reason:   fmt.Sprintf("Unsupported model %q for provider %q. Supported models: %s", model, provider, strings.Join(c.Models(provider), ", ")),
		}
	}
	return cfg, nil
}

// Validate checks the API key first, then the model.
func (c *Catalog) Validate(cfg Config) (ModelConfig, error) {
	if _, err := c.APIKey(cfg.Provider); err != nil {
		return ModelConfig{}, err
	}
	return c.Model(cfg.Provider, cfg.Model)
}

// Models lists the supported models of a provider, sorted.
func (c *Catalog) Models(provider string) []string {
	out := make([]string, 0, len(c.models[provider]))
	for name := range c.models[provider] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Providers lists known providers, sorted.
func (c *Catalog) Providers() []string {
	out := make([]string, 0, len(envVars))
	for p := range envVars {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) unknownProvider(provider string) error {
	return &ProviderError{
		Provider: provider,
		Reason:   fmt.Sprintf("Unsupported provider %q. Supported providers: %s", provider, strings.Join(c.Providers(), ", ")),
	}
}
