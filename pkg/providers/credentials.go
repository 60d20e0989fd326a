package providers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// Credential kinds, also reported by ProviderCredentialStatus.
const (
	keyInline = "api_key"
	keyFile   = "api_key_file"
)

// credential is one configured API key source. An empty value means the
// field was left unset.
type credential struct {
	kind  string
	value string
	field string
}

func (c credential) set() bool { return strings.TrimSpace(c.value) != "" }

// pickCredential requires exactly one of the candidate fields to be set.
func pickCredential(label string, candidates []credential) (credential, error) {
	set := lo.Filter(candidates, func(c credential, _ int) bool { return c.set() })
	switch len(set) {
	case 1:
		return set[0], nil
	case 0:
		fields := lo.Map(candidates, func(c credential, _ int) string { return c.field })
		return credential{}, fmt.Errorf("%s credentials are required (set %s)", label, strings.Join(fields, " or "))
	default:
		fields := lo.Map(set, func(c credential, _ int) string { return c.field })
		return credential{}, fmt.Errorf("multiple %s credential sources configured (%s); set exactly one", label, strings.Join(fields, ", "))
	}
}

// check fails early when a key file cannot be reached.
func (c credential) check(label string) error {
	if c.kind != keyFile {
		return nil
	}
	path := expandHome(c.value)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%s key file not accessible at %s: %w", label, path, err)
	}
	return nil
}

// bearer returns the token for the Authorization header. Key files are read
// on every call.
func (c credential) bearer() (string, error) {
	if c.kind == keyFile {
		path := expandHome(c.value)
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read key file %s: %w", path, err)
		}
		tok := strings.TrimSpace(string(data))
		if tok == "" {
			return "", fmt.Errorf("key file %s is empty", path)
		}
		return tok, nil
	}

	tok := strings.TrimSpace(c.value)
	switch {
	case tok == "":
		return "", fmt.Errorf("%s is empty", c.field)
	case looksLikePlaceholder(tok):
		return "", fmt.Errorf("%s looks like an unexpanded placeholder", c.field)
	}
	return tok, nil
}

// looksLikePlaceholder catches "<OPENAI_API_KEY>" and "${OPENROUTER_API_KEY}"
// pasted from docs.
func looksLikePlaceholder(tok string) bool {
	if strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">") {
		return true
	}
	return strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}")
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
