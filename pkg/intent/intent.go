// Package intent is a cheap rule classifier for conversational intent.
package intent

import (
	"regexp"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/stage"
)

type Type string

const (
	Question            Type = "question"
	EmotionalDisclosure Type = "emotional_disclosure"
	Smalltalk           Type = "smalltalk"
	Directive           Type = "directive"
	Other               Type = "other"
)

// Context is the rolling window the classifier may consult.
type Context struct {
	RecentMessages []string
	KnownFacts     []string
	Stage          stage.Stage
}

type Result struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	// ReferencedFacts are known facts whose value the message mentions.
	ReferencedFacts []string `json:"referenced_facts,omitempty"`
}

type signal struct {
	re     *regexp.Regexp
	weight float64
}

const (
	minEvidence      = 1.0
	tieMargin        = 0.25
	noEvidenceConf   = 0.2
	tieConf          = 0.3
	maxConf          = 0.95
	followUpMaxWords = 6
	followUpBoost    = 0.75
)

var signals = map[Type][]signal{
	Question: {
		{regexp.MustCompile(`\?\s*$`), 1.5},
		{regexp.MustCompile(`(?i)^\s*(?:what|why|how|when|where|who|which|can|could|would|should|do|does|did|is|are|will|am)\b`), 1.0},
		{regexp.MustCompile(`(?i)\b(?:i wonder|any idea|do you know|do you think)\b`), 0.75},
	},
	EmotionalDisclosure: {
		{regexp.MustCompile(`(?i)\bi(?:'m| am)?\s+(?:feel|feeling|felt)\b`), 1.5},
		{regexp.MustCompile(`(?i)\b(?:sad|anxious|lonely|alone|depressed|stressed|overwhelmed|scared|afraid|angry|upset|hurt|happy|excited|grateful|worried|nervous|exhausted|heartbroken|frustrated|ashamed|hopeless|proud)\b`), 1.0},
		{regexp.MustCompile(`(?i)\b(?:cry|crying|cried|panic|can't cope|cannot cope|miss (?:him|her|them|my)|grief|grieving)\b`), 1.0},
	},
	Smalltalk: {
		{regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|hiya|yo|howdy|sup|good (?:morning|afternoon|evening|night))\b`), 1.5},
		{regexp.MustCompile(`(?i)\b(?:how are you|how's it going|how was your day|what's up|nice weather|lol|haha)\b`), 1.0},
		{regexp.MustCompile(`(?i)\b(?:thanks|thank you|cheers|bye|see you|good night)\b`), 0.75},
	},
	Directive: {
		{regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:tell|give|help|remind|show|suggest|recommend|explain|write|list|let's|lets|make|stop|remember|forget|call|talk)\b`), 1.5},
		{regexp.MustCompile(`(?i)\b(?:can you|could you|would you|please|i need you to|i want you to)\b`), 0.75},
	},
}

var typeOrder = []Type{Question, EmotionalDisclosure, Smalltalk, Directive}

// Classify scores every intent and picks a clear winner. Weak or tied
// evidence yields Other with low confidence.
func Classify(text string, ctx Context) Result {
	text = strings.TrimSpace(text)
	res := Result{Type: Other, Confidence: noEvidenceConf, ReferencedFacts: referencedFacts(text, ctx.KnownFacts)}
	if text == "" {
		return res
	}

	scores := make(map[Type]float64, len(typeOrder))
	for _, t := range typeOrder {
		for _, s := range signals[t] {
			if s.re.MatchString(text) {
				scores[t] += s.weight
			}
		}
	}
	if isShortFollowUp(text) && recentlyEmotional(ctx.RecentMessages) {
		scores[EmotionalDisclosure] += followUpBoost
	}

	best, second := Other, Other
	for _, t := range typeOrder {
		switch {
		case best == Other || scores[t] > scores[best]:
			best, second = t, best
		case second == Other || scores[t] > scores[second]:
			second = t
		}
	}
	bestScore := scores[best]
	secondScore := 0.0
	if second != Other {
		secondScore = scores[second]
	}

	if bestScore < minEvidence {
		return res
	}
	if bestScore-secondScore < tieMargin {
		res.Confidence = tieConf
		return res
	}

	conf := 0.4 + 0.6*(bestScore-secondScore)/bestScore
	if conf > maxConf {
		conf = maxConf
	}
	res.Type = best
	res.Confidence = conf
	return res
}

func isShortFollowUp(text string) bool {
	return len(strings.Fields(text)) <= followUpMaxWords
}

func recentlyEmotional(recent []string) bool {
	start := len(recent) - 2
	if start < 0 {
		start = 0
	}
	for _, msg := range recent[start:] {
		for _, s := range signals[EmotionalDisclosure] {
			if s.re.MatchString(msg) {
				return true
			}
		}
	}
	return false
}

func referencedFacts(text string, facts []string) []string {
	if text == "" || len(facts) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var out []string
	for _, f := range facts {
		_, value, ok := strings.Cut(f, ": ")
		if !ok {
			continue
		}
		value = strings.ToLower(strings.TrimSpace(value))
		// "cat named Miso" is referenced by "Miso".
		if _, name, ok := strings.Cut(value, " named "); ok {
			value = name
		}
		if len(value) < 3 {
			continue
		}
		if strings.Contains(lower, value) {
			out = append(out, f)
		}
	}
	return out
}
