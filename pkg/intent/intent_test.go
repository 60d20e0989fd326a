package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dotsetgreg/dotcompanion/pkg/stage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"What should I cook tonight?", Question},
		{"I feel so lonely since the move", EmotionalDisclosure},
		{"I'm feeling anxious, what should I do?", EmotionalDisclosure},
		{"hey there, how are you", Smalltalk},
		{"Remind me to drink water", Directive},
		{"The bus was late", Other},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Classify(tt.in, Context{})
			assert.Equal(t, tt.want, got.Type)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestClassify_TieFavorsOtherWithLowConfidence(t *testing.T) {
	got := Classify("hello", Context{})
	assert.Equal(t, Smalltalk, got.Type)

	// Greeting lead and a feeling statement carry equal weight.
	got = Classify("hey, I feel weird", Context{})
	assert.Equal(t, Other, got.Type)
	assert.InDelta(t, 0.3, got.Confidence, 1e-9)

	got = Classify("thanks, please", Context{})
	assert.Equal(t, Other, got.Type)
	assert.Less(t, got.Confidence, 0.3)
}

func TestClassify_EmptyIsOther(t *testing.T) {
	got := Classify("   ", Context{})
	assert.Equal(t, Other, got.Type)
	assert.LessOrEqual(t, got.Confidence, 0.3)
}

func TestClassify_FollowUpAfterDisclosureStaysEmotional(t *testing.T) {
	ctx := Context{RecentMessages: []string{"I've been so stressed about work"}}
	without := Classify("yeah, it is a lot", Context{})
	with := Classify("yeah, it is a lot", ctx)
	assert.Equal(t, Other, without.Type)
	assert.Equal(t, Other, with.Type, "boost alone is below the evidence floor")

	assert.Equal(t, Other, Classify("I feel it, why?", Context{}).Type)
	with = Classify("I feel it, why?", ctx)
	assert.Equal(t, EmotionalDisclosure, with.Type)
	assert.Greater(t, with.Confidence, 0.3)
}

func TestClassify_ReferencedFacts(t *testing.T) {
	got := Classify("Miso knocked over my plant again", Context{
		KnownFacts: []string{"Pet: cat named Miso", "Location: Denver"},
	})
	assert.Equal(t, []string{"Pet: cat named Miso"}, got.ReferencedFacts)
}

func TestResponseStrategy_Deterministic(t *testing.T) {
	for _, ty := range []Type{Question, EmotionalDisclosure, Smalltalk, Directive, Other} {
		for s := stage.Infant; s <= stage.Adult; s++ {
			a := ResponseStrategy(ty, s)
			assert.NotEmpty(t, a)
			assert.Equal(t, a, ResponseStrategy(ty, s))
		}
	}
	assert.NotEqual(t, ResponseStrategy(EmotionalDisclosure, stage.Infant), ResponseStrategy(EmotionalDisclosure, stage.Adult))
	assert.Equal(t, ResponseStrategy(Other, stage.Child), ResponseStrategy(Type("unknown"), stage.Child))
}
