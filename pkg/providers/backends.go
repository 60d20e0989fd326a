package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
)

// Backend names accepted in companion.provider.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
)

const projectURL = "https://github.com/dotsetgreg/dotcompanion"

// backend describes one OpenAI-compatible completion service.
type backend struct {
	label        string
	defaultBase  string
	defaultModel string
	endpoint     func(cfg *config.Config) endpointSettings
}

// endpointSettings is what a backend reads out of the config file.
type endpointSettings struct {
	apiBase string
	proxy   string
	headers map[string]string
	keys    []credential
}

var backends = map[string]backend{
	ProviderOpenRouter: {
		label:        "OpenRouter",
		defaultBase:  "https://openrouter.ai/api/v1",
		defaultModel: "openai/gpt-5.2",
		endpoint: func(cfg *config.Config) endpointSettings {
			p := cfg.Providers.OpenRouter
			return endpointSettings{
				apiBase: p.APIBase,
				proxy:   p.Proxy,
				// Attribution shown on the OpenRouter dashboard.
				headers: map[string]string{
					"HTTP-Referer": projectURL,
					"X-Title":      "DotCompanion",
				},
				keys: []credential{
					{kind: keyInline, value: p.APIKey, field: "providers.openrouter.api_key"},
				},
			}
		},
	},
	ProviderOpenAI: {
		label:        "OpenAI",
		defaultBase:  "https://api.openai.com/v1",
		defaultModel: "gpt-5-mini",
		endpoint: func(cfg *config.Config) endpointSettings {
			p := cfg.Providers.OpenAI
			return endpointSettings{
				apiBase: p.APIBase,
				proxy:   p.Proxy,
				headers: map[string]string{
					"OpenAI-Organization": p.Organization,
					"OpenAI-Project":      p.Project,
				},
				keys: []credential{
					{kind: keyInline, value: p.APIKey, field: "providers.openai.api_key"},
					{kind: keyFile, value: p.APIKeyFile, field: "providers.openai.api_key_file"},
				},
			}
		},
	},
}

// BackendName is the normalized companion.provider value, defaulting to
// OpenRouter.
func BackendName(cfg *config.Config) string {
	if cfg == nil {
		return ProviderOpenRouter
	}
	name := strings.ToLower(strings.TrimSpace(cfg.Companion.Provider))
	if name == "" {
		return ProviderOpenRouter
	}
	return name
}

// SupportedProviders lists the backend names in sorted order.
func SupportedProviders() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(cfg *config.Config) (string, backend, error) {
	name := BackendName(cfg)
	b, ok := backends[name]
	if !ok {
		return name, backend{}, fmt.Errorf("unsupported provider %q: supported providers are %s", name, strings.Join(SupportedProviders(), ", "))
	}
	return name, b, nil
}

// ValidateProviderConfig checks that the selected backend has exactly one
// usable credential.
func ValidateProviderConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	_, b, err := lookupBackend(cfg)
	if err != nil {
		return err
	}
	key, err := pickCredential(b.label, b.endpoint(cfg).keys)
	if err != nil {
		return err
	}
	return key.check(b.label)
}

// ProviderCredentialStatus reports the selected backend and which kind of
// credential it would use. An unknown backend is the only error.
func ProviderCredentialStatus(cfg *config.Config) (provider string, configured bool, mode string, err error) {
	name, b, err := lookupBackend(cfg)
	if err != nil {
		return "", false, "", err
	}
	if cfg == nil {
		return name, false, "", nil
	}
	key, err := pickCredential(b.label, b.endpoint(cfg).keys)
	if err != nil {
		return name, false, "", nil
	}
	return name, true, key.kind, nil
}

// CreateProvider builds the completion client for companion.provider.
func CreateProvider(cfg *config.Config) (LLMProvider, error) {
	if err := ValidateProviderConfig(cfg); err != nil {
		return nil, err
	}
	name, b, _ := lookupBackend(cfg)
	settings := b.endpoint(cfg)
	key, _ := pickCredential(b.label, settings.keys)

	apiBase := strings.TrimSpace(settings.apiBase)
	if apiBase == "" {
		apiBase = b.defaultBase
	}
	return newClient(clientOptions{
		name:    name,
		apiBase: apiBase,
		model:   b.defaultModel,
		proxy:   settings.proxy,
		key:     key,
		headers: settings.headers,
	})
}
