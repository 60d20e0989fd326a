package providers

import "strings"

// errorHint appends operator guidance to a backend error containing any of
// its needles.
type errorHint struct {
	backend string
	needles []string
	hint    string
}

var errorHints = []errorHint{
	{ProviderOpenAI, []string{"missing scopes: model.request", "insufficient permissions for this operation"},
		"OpenAI API calls require model.request access for the configured project."},
	{ProviderOpenAI, []string{"incorrect api key provided"},
		"provider openai expects a Platform API key (sk-...)."},
	{ProviderOpenRouter, []string{"no endpoints found"},
		"check companion.model against the OpenRouter model list."},
	{ProviderOpenRouter, []string{"insufficient credits", "requires more credits"},
		"the OpenRouter account is out of credits; lower companion.reply_max_tokens or top up."},
}

func withHint(backendName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}
	lower := strings.ToLower(msg)
	for _, h := range errorHints {
		if h.backend != backendName {
			continue
		}
		for _, needle := range h.needles {
			if strings.Contains(lower, needle) {
				return msg + " Hint: " + h.hint
			}
		}
	}
	return msg
}
