package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForVocabulary_BandEdges(t *testing.T) {
	tests := []struct {
		n    int
		want Stage
	}{
		{0, Infant},
		{9, Infant},
		{10, Toddler},
		{24, Toddler},
		{25, Child},
		{49, Child},
		{50, Adolescent},
		{99, Adolescent},
		{100, Adult},
		{5000, Adult},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ForVocabulary(tt.n), "n=%d", tt.n)
	}
}

func TestForVocabulary_NonDecreasing(t *testing.T) {
	prev := ForVocabulary(0)
	for n := 1; n <= 250; n++ {
		cur := ForVocabulary(n)
		if cur.Ordinal() < prev.Ordinal() {
			t.Fatalf("stage decreased at n=%d: %s -> %s", n, prev, cur)
		}
		prev = cur
	}
}

func TestNextThreshold(t *testing.T) {
	next, ok := NextThreshold(0)
	assert.True(t, ok)
	assert.Equal(t, 10, next)

	next, ok = NextThreshold(10)
	assert.True(t, ok)
	assert.Equal(t, 25, next)

	next, ok = NextThreshold(99)
	assert.True(t, ok)
	assert.Equal(t, 100, next)

	_, ok = NextThreshold(100)
	assert.False(t, ok)
}

func TestStringAndParse(t *testing.T) {
	for s := Infant; s <= Adult; s++ {
		got, ok := Parse(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
		assert.NotEmpty(t, s.Behavior())
	}
	_, ok := Parse("Elder")
	assert.False(t, ok)
	assert.Equal(t, "Unknown", Stage(42).String())
}
