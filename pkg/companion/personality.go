package companion

import (
	"fmt"
	"sort"
	"strings"
)

type PersonalityMode string

const (
	PersonalitySupportive   PersonalityMode = "supportive"
	PersonalityPlayful      PersonalityMode = "playful"
	PersonalityWise         PersonalityMode = "wise"
	PersonalityMotivational PersonalityMode = "motivational"
	PersonalityCalm         PersonalityMode = "calm"
)

var personalityInstructions = map[PersonalityMode]string{
	PersonalitySupportive:   "Be warm and validating. Reflect feelings back before offering anything else.",
	PersonalityPlayful:      "Be light and teasing in a kind way. Use gentle humor and playful curiosity.",
	PersonalityWise:         "Be thoughtful and measured. Offer perspective and the occasional gentle question that invites reflection.",
	PersonalityMotivational: "Be encouraging and energetic. Highlight progress and nudge toward one small next step.",
	PersonalityCalm:         "Be slow and soothing. Keep sentences short and grounding, and never rush the user.",
}

// ParsePersonalityMode accepts a mode name in any case. The empty string is
// not a mode.
func ParsePersonalityMode(raw string) (PersonalityMode, error) {
	mode := PersonalityMode(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := personalityInstructions[mode]; !ok {
		return "", fmt.Errorf("%w %q (want one of %s)", ErrUnknownPersonality, raw, strings.Join(PersonalityModes(), ", "))
	}
	return mode, nil
}

func PersonalityModes() []string {
	out := make([]string, 0, len(personalityInstructions))
	for m := range personalityInstructions {
		out = append(out, string(m))
	}
	sort.Strings(out)
	return out
}

func (m PersonalityMode) Instruction() string {
	if s, ok := personalityInstructions[m]; ok {
		return s
	}
	return personalityInstructions[PersonalitySupportive]
}

// personalityFactText is the append-only fact recorded when the mode changes.
func personalityFactText(m PersonalityMode) string {
	return "Personality mode: " + string(m)
}

func personalityFromFact(text string) (PersonalityMode, bool) {
	_, value, ok := strings.Cut(text, ":")
	if !ok {
		return "", false
	}
	mode, err := ParsePersonalityMode(value)
	if err != nil {
		return "", false
	}
	return mode, true
}
