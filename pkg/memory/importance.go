package memory

import (
	"regexp"
	"sort"

	"github.com/dotsetgreg/dotcompanion/pkg/intent"
)

// Signals are the per-message inputs to ScoreImportance.
type Signals struct {
	IsFirstMention       bool
	ContainsPersonalInfo bool
	EmotionalContext     intent.Type
	UserInitiated        bool
}

type Score struct {
	Importance Importance `json:"importance"`
	Tags       []string   `json:"tags"`
}

var personalInfoPattern = regexp.MustCompile(`(?i)\b(?:my|mine|myself|i am|i'm|im|i was|i have|i've|i had|i feel|i felt|i live|i work|i love|i hate|i need|i want|i miss)\b`)

// ContainsPersonalInfo reports whether text speaks about the user in the
// first person.
func ContainsPersonalInfo(text string) bool {
	return personalInfoPattern.MatchString(text)
}

var topicPatterns = map[string]*regexp.Regexp{
	"family":        regexp.MustCompile(`(?i)\b(?:mom|mother|dad|father|parents?|sister|brother|siblings?|son|daughter|kids?|children|grand(?:ma|pa|mother|father)|family|aunt|uncle|cousin)\b`),
	"work":          regexp.MustCompile(`(?i)\b(?:work|job|boss|office|career|shift|coworkers?|colleagues?|promotion|interview|meeting|deadline)\b`),
	"health":        regexp.MustCompile(`(?i)\b(?:sick|ill|doctor|hospital|pain|headache|tired|sleep|insomnia|therapy|therapist|medication|health|exercise|workout)\b`),
	"pets":          regexp.MustCompile(`(?i)\b(?:pets?|dogs?|cats?|puppy|kitten|hamster|parrot|rabbit|fish)\b`),
	"relationships": regexp.MustCompile(`(?i)\b(?:friends?|girlfriend|boyfriend|partner|wife|husband|married|divorced?|dating|crush|breakup|broke up)\b`),
	"emotions":      regexp.MustCompile(`(?i)\b(?:feel|feeling|felt|sad|happy|angry|anxious|anxiety|lonely|scared|afraid|excited|stressed|depressed|upset|worried|grateful)\b`),
	"goals":         regexp.MustCompile(`(?i)\b(?:goal|goals|plan|plans|dream|hope|want to|trying to|going to|someday|resolution)\b`),
	"hobbies":       regexp.MustCompile(`(?i)\b(?:hobby|hobbies|music|guitar|piano|paint|painting|reading|books?|games?|gaming|hiking|cooking|baking|running|movies?|travel)\b`),
	"location":      regexp.MustCompile(`(?i)\b(?:live in|moved to|city|town|home|apartment|house)\b`),
	"identity":      regexp.MustCompile(`(?i)\b(?:my name|call me|i am a|i'm a|years old|birthday)\b`),
}

const (
	weightPersonal  = 2.0
	weightNovel     = 1.0
	weightEmotional = 1.0
	weightInitiated = 0.5

	highThreshold   = 3.0
	mediumThreshold = 1.5
)

// ScoreImportance rates a message. Every positive signal can only raise
// the label. The score never decides whether a message is stored.
func ScoreImportance(text string, sig Signals) Score {
	points := 0.0
	if sig.ContainsPersonalInfo {
		points += weightPersonal
	}
	if sig.IsFirstMention {
		points += weightNovel
	}
	if sig.EmotionalContext == intent.EmotionalDisclosure {
		points += weightEmotional
	}
	if sig.UserInitiated {
		points += weightInitiated
	}

	level := ImportanceLow
	switch {
	case points >= highThreshold:
		level = ImportanceHigh
	case points >= mediumThreshold:
		level = ImportanceMedium
	}
	return Score{Importance: level, Tags: topicTags(text, sig.EmotionalContext)}
}

func topicTags(text string, ctx intent.Type) []string {
	tags := []string{}
	for tag, re := range topicPatterns {
		if re.MatchString(text) {
			tags = append(tags, tag)
		}
	}
	if ctx == intent.EmotionalDisclosure && !containsString(tags, "emotions") {
		tags = append(tags, "emotions")
	}
	sort.Strings(tags)
	return tags
}

func containsString(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}
