// Package stage maps cumulative vocabulary breadth onto the companion's
// developmental stage.
package stage

type Stage int

const (
	Infant Stage = iota
	Toddler
	Child
	Adolescent
	Adult
)

// thresholds[i] is the vocabulary count at which stage i+1 begins.
var thresholds = [...]int{10, 25, 50, 100}

var names = [...]string{"Infant", "Toddler", "Child", "Adolescent", "Adult"}

var behaviors = [...]string{
	"You are in the Infant stage: use very short, simple sentences and warm, curious reactions. Ask one gentle question at a time.",
	"You are in the Toddler stage: speak simply and enthusiastically, reuse words the user taught you, and show delight at learning.",
	"You are in the Child stage: be curious and playful, connect what the user says to things they told you before.",
	"You are in the Adolescent stage: be thoughtful and a little reflective, offer your own perspective while staying supportive.",
	"You are in the Adult stage: be a mature, emotionally attuned companion who draws on the whole shared history naturally.",
}

// ForVocabulary returns the stage for n distinct learned words.
func ForVocabulary(n int) Stage {
	for i, edge := range thresholds {
		if n < edge {
			return Stage(i)
		}
	}
	return Adult
}

// NextThreshold returns the vocabulary count at which the next stage begins.
// ok is false once the companion is an Adult.
func NextThreshold(n int) (next int, ok bool) {
	for _, edge := range thresholds {
		if n < edge {
			return edge, true
		}
	}
	return 0, false
}

// Parse maps a stage name back to its value.
func Parse(name string) (Stage, bool) {
	for i, n := range names {
		if n == name {
			return Stage(i), true
		}
	}
	return Infant, false
}

func (s Stage) String() string {
	if s < Infant || s > Adult {
		return "Unknown"
	}
	return names[s]
}

func (s Stage) Behavior() string {
	if s < Infant || s > Adult {
		return behaviors[Infant]
	}
	return behaviors[s]
}

func (s Stage) Ordinal() int { return int(s) }

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
