package providers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialBearer_RejectsPlaceholders(t *testing.T) {
	for _, tok := range []string{"<OPENAI_API_KEY>", "${OPENROUTER_API_KEY}"} {
		c := credential{kind: keyInline, value: tok, field: "providers.openai.api_key"}
		_, err := c.bearer()
		require.Error(t, err, tok)
		assert.Contains(t, err.Error(), "placeholder")
	}
}

func TestCredentialBearer_ReadsKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("  sk-file\n"), 0o600))

	tok, err := credential{kind: keyFile, value: path}.bearer()
	require.NoError(t, err)
	assert.Equal(t, "sk-file", tok)
}

func TestCredentialBearer_EmptyKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o600))

	_, err := credential{kind: keyFile, value: path}.bearer()
	require.Error(t, err)
}

func TestPickCredential(t *testing.T) {
	inline := credential{kind: keyInline, value: "sk-1", field: "providers.openai.api_key"}
	file := credential{kind: keyFile, value: "/tmp/key", field: "providers.openai.api_key_file"}
	unsetFile := credential{kind: keyFile, field: "providers.openai.api_key_file"}

	got, err := pickCredential("OpenAI", []credential{inline, unsetFile})
	require.NoError(t, err)
	assert.Equal(t, keyInline, got.kind)

	_, err = pickCredential("OpenAI", []credential{inline, file})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple OpenAI credential sources configured")

	_, err = pickCredential("OpenAI", []credential{{kind: keyInline, field: "providers.openai.api_key"}, unsetFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers.openai.api_key or providers.openai.api_key_file")
}

func TestCredentialCheck_MissingKeyFile(t *testing.T) {
	c := credential{kind: keyFile, value: filepath.Join(t.TempDir(), "absent")}
	require.Error(t, c.check("OpenAI"))
	assert.NoError(t, credential{kind: keyInline, value: "sk"}.check("OpenAI"))
}
