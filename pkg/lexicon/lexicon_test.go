package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabulary_NormalizesAndOrders(t *testing.T) {
	got := Vocabulary("Hello, hello! I adopted a CAT named Miso; Miso's great.")
	assert.Equal(t, []string{"hello", "adopted", "cat", "named", "miso", "misos", "great"}, got)
}

func TestVocabulary_CapsAtTen(t *testing.T) {
	got := Vocabulary("alpha bravo charlie delta echo foxtrot golf hotel india juliet kilo lima")
	require.Len(t, got, MaxVocabularyPerMessage)
	assert.Equal(t, "alpha", got[0])
	assert.Equal(t, "juliet", got[9])
}

func TestVocabulary_DropsShortTokens(t *testing.T) {
	assert.Empty(t, Vocabulary("I am ok. Hi! :)"))
}

func TestPatternExtractor_LocationAndOccupation(t *testing.T) {
	facts := PatternExtractor{}.ExtractFacts("I live in Denver and work as a nurse")
	require.Len(t, facts, 2)

	byLabel := map[string]Fact{}
	for _, f := range facts {
		byLabel[f.Label] = f
	}
	assert.Equal(t, "Denver", byLabel["Location"].Value)
	assert.Equal(t, CategoryLocation, byLabel["Location"].Category)
	assert.Equal(t, "nurse", byLabel["Occupation"].Value)
	assert.Equal(t, CategoryOccupation, byLabel["Occupation"].Category)
}

func TestPatternExtractor_Cases(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"name", "My name is Sam", []string{"Name: Sam"}},
		{"name lower", "call me riley please", []string{"Name: Riley"}},
		{"age", "I'm 34 years old", []string{"Age: 34"}},
		{"pet", "I just adopted a cat named Miso", []string{"Pet: cat named Miso"}},
		{"pet possessive", "my dog's name is biscuit", []string{"Pet: dog named Biscuit"}},
		{"married", "I got married last spring", []string{"Marital status: married"}},
		{"children", "We have two kids", []string{"Children: two kids"}},
		{"education", "I graduated from MIT in 2019", []string{"Education: MIT"}},
		{"location lower", "i moved to new york, it is loud", []string{"Location: New York"}},
		{"cap at two", "My name is Ana, I'm 29 years old and I live in Lisbon", []string{"Name: Ana", "Age: 29"}},
		{"miss", "The weather is nice today", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := Default.ExtractFacts(tt.in)
			got := make([]string, 0, len(facts))
			for _, f := range facts {
				got = append(got, f.Text())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatternExtractor_RepeatIsStable(t *testing.T) {
	first := Default.ExtractFacts("My name is Sam")
	second := Default.ExtractFacts("My name is Sam")
	assert.Equal(t, first, second)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", Excerpt("  short   text ", 40))
	assert.Equal(t, "abcdefg...", Excerpt("abcdefghijklmnop", 10))
}
