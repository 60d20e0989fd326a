package lexicon

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const MaxFactsPerMessage = 2

// Fact categories persisted alongside fact text.
const (
	CategoryIdentity   = "identity"
	CategoryLocation   = "location"
	CategoryOccupation = "occupation"
	CategoryPets       = "pets"
	CategoryEducation  = "education"
	CategoryFamily     = "family"
)

// Fact is a short labelled assertion such as "Location: Denver".
type Fact struct {
	Label    string
	Value    string
	Category string
}

func (f Fact) Text() string {
	return f.Label + ": " + f.Value
}

// FactExtractor is the strategy used to find personal facts in a message.
// Implementations must not return more than MaxFactsPerMessage facts and
// report a miss as an empty slice.
type FactExtractor interface {
	ExtractFacts(text string) []Fact
}

// clauseEnd stops a lazy capture at a conjunction, punctuation or end of text.
const clauseEnd = `(?:\s+(?:and|but|with|since|for|at|because|so)\b|[,.!?;:]|$)`

var (
	nameRegex       = regexp.MustCompile(`(?i)\b(?:my name is|my name's|call me)\s+([a-z][a-z'-]+)`)
	ageRegex        = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years?|yrs?)[\s-]*old\b`)
	locationRegex   = regexp.MustCompile(`(?i)\b(?:live|living|reside|moved)\s+(?:in|to)\s+([a-z][a-z .'-]*?)` + clauseEnd)
	occupationRegex = regexp.MustCompile(`(?i)\bwork(?:ing)?\s+as\s+(?:an?\s+)?([a-z][a-z -]*?)` + clauseEnd)
	petRegex        = regexp.MustCompile(`(?i)\b(?:have|had|adopted|got|own|rescued)\s+(?:a|an|my)?\s*(?:new\s+|little\s+)?(cat|dog|puppy|kitten|bird|rabbit|bunny|hamster|parrot|fish|turtle|horse)\s+(?:named|called)\s+([a-z][a-z'-]*)`)
	petNameRegex    = regexp.MustCompile(`(?i)\bmy\s+(cat|dog|puppy|kitten|bird|rabbit|bunny|hamster|parrot|fish|turtle|horse)(?:'s name is|\s+is\s+(?:named|called))\s+([a-z][a-z'-]*)`)
	maritalRegex    = regexp.MustCompile(`(?i)\b(?:i am|i'm|im|i got|we got|just got|recently got)\s+(?:recently\s+|just\s+)?(married|divorced|engaged|single|widowed|separated)\b`)
	spouseRegex     = regexp.MustCompile(`(?i)\bmy\s+(wife|husband|spouse)\b`)
	childrenRegex   = regexp.MustCompile(`(?i)\b(?:i|we)\s+have\s+(\d+|a|one|two|three|four|five|six|no)\s+(kids?|children|child|sons?|daughters?)\b`)
	educationRegex  = regexp.MustCompile(`(?i)\bgraduated\s+from\s+([a-z][a-z0-9 .&'-]*?)(?:\s+(?:in|with|and|last|this|back)\b|[,.!?;:]|$)`)
)

type factRule struct {
	label    string
	category string
	match    func(text string) (string, bool)
}

// PatternExtractor matches a fixed, ordered set of phrase patterns.
type PatternExtractor struct{}

var _ FactExtractor = PatternExtractor{}

var patternRules = []factRule{
	{label: "Name", category: CategoryIdentity, match: matchName},
	{label: "Age", category: CategoryIdentity, match: matchAge},
	{label: "Location", category: CategoryLocation, match: matchLocation},
	{label: "Occupation", category: CategoryOccupation, match: matchOccupation},
	{label: "Pet", category: CategoryPets, match: matchPet},
	{label: "Marital status", category: CategoryFamily, match: matchMarital},
	{label: "Children", category: CategoryFamily, match: matchChildren},
	{label: "Education", category: CategoryEducation, match: matchEducation},
}

func (PatternExtractor) ExtractFacts(text string) []Fact {
	text = strings.TrimSpace(text)
	if text == "" {
		return []Fact{}
	}
	out := make([]Fact, 0, MaxFactsPerMessage)
	for _, rule := range patternRules {
		value, ok := rule.match(text)
		if !ok {
			continue
		}
		out = append(out, Fact{Label: rule.label, Value: value, Category: rule.category})
		if len(out) == MaxFactsPerMessage {
			break
		}
	}
	return out
}

// Default is the extractor used when none is configured.
var Default FactExtractor = PatternExtractor{}

func matchName(text string) (string, bool) {
	m := nameRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	name := titleCase(m[1])
	switch strings.ToLower(name) {
	case "not", "just", "really", "the":
		return "", false
	}
	return name, true
}

func matchAge(text string) (string, bool) {
	m := ageRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	age, err := strconv.Atoi(m[1])
	if err != nil || age <= 0 || age > 120 {
		return "", false
	}
	return strconv.Itoa(age), true
}

func matchLocation(text string) (string, bool) {
	m := locationRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	place := normalizeValue(m[1])
	if place == "" || isFillerWord(place) {
		return "", false
	}
	return titleCaseIfLower(place), true
}

func matchOccupation(text string) (string, bool) {
	m := occupationRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	job := strings.ToLower(normalizeValue(m[1]))
	if job == "" {
		return "", false
	}
	return job, true
}

func matchPet(text string) (string, bool) {
	m := petRegex.FindStringSubmatch(text)
	if len(m) < 3 {
		m = petNameRegex.FindStringSubmatch(text)
	}
	if len(m) < 3 {
		return "", false
	}
	return strings.ToLower(m[1]) + " named " + titleCase(m[2]), true
}

func matchMarital(text string) (string, bool) {
	if m := maritalRegex.FindStringSubmatch(text); len(m) >= 2 {
		return strings.ToLower(m[1]), true
	}
	if spouseRegex.MatchString(text) {
		return "married", true
	}
	return "", false
}

func matchChildren(text string) (string, bool) {
	m := childrenRegex.FindStringSubmatch(text)
	if len(m) < 3 {
		return "", false
	}
	count := strings.ToLower(m[1])
	if count == "a" {
		count = "one"
	}
	return count + " " + strings.ToLower(m[2]), true
}

func matchEducation(text string) (string, bool) {
	m := educationRegex.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	school := normalizeValue(m[1])
	if school == "" {
		return "", false
	}
	return titleCaseIfLower(school), true
}

func normalizeValue(in string) string {
	in = strings.Join(strings.Fields(in), " ")
	in = strings.Trim(in, " .,!?:;\"'")
	if len(in) < 2 {
		return ""
	}
	if len(in) > 80 {
		in = strings.TrimSpace(in[:80])
	}
	return in
}

func isFillerWord(s string) bool {
	switch strings.ToLower(s) {
	case "the", "a", "an", "here", "there", "it", "this", "that":
		return true
	}
	return false
}

func titleCase(word string) string {
	r := []rune(strings.ToLower(word))
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// titleCaseIfLower capitalizes each word only when the user typed the value
// entirely in lower case, so "NYC" and "McGill" survive untouched.
func titleCaseIfLower(s string) string {
	if s != strings.ToLower(s) {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = titleCase(w)
	}
	return strings.Join(words, " ")
}
