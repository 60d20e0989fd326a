package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
)

func TestBackendName(t *testing.T) {
	assert.Equal(t, ProviderOpenRouter, BackendName(nil))

	cfg := config.DefaultConfig()
	cfg.Companion.Provider = "  OpenAI "
	assert.Equal(t, ProviderOpenAI, BackendName(cfg))

	cfg.Companion.Provider = ""
	assert.Equal(t, ProviderOpenRouter, BackendName(cfg))
}

func TestSupportedProviders(t *testing.T) {
	assert.Equal(t, []string{ProviderOpenAI, ProviderOpenRouter}, SupportedProviders())
}

func TestCreateProvider_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Companion.Provider = "does-not-exist"

	_, err := CreateProvider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supported providers are openai, openrouter")
}

func TestValidateProviderConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Companion.Provider = ProviderOpenAI
	require.Error(t, ValidateProviderConfig(cfg))

	cfg.Providers.OpenAI.APIKeyFile = filepath.Join(t.TempDir(), "missing.txt")
	err := ValidateProviderConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key file not accessible")

	keyFile := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(keyFile, []byte("sk"), 0o600))
	cfg.Providers.OpenAI.APIKeyFile = keyFile
	require.NoError(t, ValidateProviderConfig(cfg))

	cfg.Providers.OpenAI.APIKey = "sk-inline"
	require.Error(t, ValidateProviderConfig(cfg))
}

func TestProviderCredentialStatus(t *testing.T) {
	cfg := config.DefaultConfig()
	name, configured, mode, err := ProviderCredentialStatus(cfg)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenRouter, name)
	assert.False(t, configured)
	assert.Empty(t, mode)

	cfg.Providers.OpenRouter.APIKey = "or-key"
	_, configured, mode, err = ProviderCredentialStatus(cfg)
	require.NoError(t, err)
	assert.True(t, configured)
	assert.Equal(t, keyInline, mode)

	cfg.Companion.Provider = "nope"
	_, _, _, err = ProviderCredentialStatus(cfg)
	assert.Error(t, err)
}
