package intent

import "github.com/dotsetgreg/dotcompanion/pkg/stage"

var baseStrategies = map[Type]string{
	Question:            "Answer the question directly and honestly.",
	EmotionalDisclosure: "Lead with empathy: acknowledge and validate the feeling before anything else, and do not rush to fix it.",
	Smalltalk:           "Keep it light and friendly, match the user's energy and ask a playful follow-up.",
	Directive:           "Do what the user asked if you can, clearly and briefly, and say plainly if you cannot.",
	Other:               "Respond warmly and invite the user to share a little more.",
}

// ResponseStrategy is the deterministic instruction fragment for a reply
// given the detected intent and the companion's stage.
func ResponseStrategy(t Type, s stage.Stage) string {
	base, ok := baseStrategies[t]
	if !ok {
		base = baseStrategies[Other]
	}
	return base + " " + stageTail(t, s)
}

func stageTail(t Type, s stage.Stage) string {
	switch {
	case s <= stage.Toddler:
		if t == Question {
			return "Use simple words and admit what you do not know yet."
		}
		return "Keep it to one or two short sentences."
	case s == stage.Child:
		return "Show curiosity and link it to something the user shared before."
	case t == EmotionalDisclosure:
		return "Gently reflect any pattern you have noticed over past conversations."
	default:
		return "Bring in nuance and your own perspective where it helps."
	}
}
