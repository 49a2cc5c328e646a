package config

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelAliases resolves friendly model names to canonical model IDs and maps
// canonical models back to the provider that serves them. Task model
// preferences pass through Resolve before routing.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}

	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}
	return &aliases, nil
}

// LoadAliasesOrDefault loads aliases from the config directory, falling back
// to the built-in table if no file exists.
func LoadAliasesOrDefault(configDir string) *ModelAliases {
	path := filepath.Join(configDir, "models.yaml")
	if _, err := os.Stat(path); err == nil {
		if aliases, err := LoadAliases(path); err == nil {
			return aliases
		}
	}
	return DefaultAliases()
}

// Resolve returns the canonical model name for an alias. If the input is not
// an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ProviderForModel returns the provider serving a canonical model, or ""
// when no configured provider lists it.
func (a *ModelAliases) ProviderForModel(model string) string {
	if a == nil || a.Providers == nil {
		return ""
	}
	for provider, models := range a.Providers {
		for _, m := range models {
			if m == model {
				return provider
			}
		}
	}
	return ""
}

// ListProviders returns a sorted list of provider names in the table.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// DefaultAliases returns the built-in alias table.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"quality":  "claude-sonnet-4-20250514",
			"deep":     "claude-opus-4-20250514",
			"fast":     "gpt-5.2-instant",
			"thinking": "gpt-5.2-thinking",
			"research": "gemini-2.0-pro",
			"local":    "qwen2.5-coder:14b",
		},
		Providers: map[string][]string{
			"anthropic": {"claude-sonnet-4-20250514", "claude-opus-4-20250514"},
			"openai":    {"gpt-5.2-instant", "gpt-5.2-thinking", "gpt-5.2-codex"},
			"google":    {"gemini-2.0-pro"},
			"ollama":    {"qwen2.5-coder:14b"},
		},
	}
}
