package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// A Thursday.
var now = time.Date(2026, time.October, 15, 14, 30, 0, 0, time.UTC)

func TestRead_Kinds(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
		cue  string
	}{
		{"Yesterday was rough", KindPast, "yesterday"},
		{"I couldn't sleep last night", KindPast, "last night"},
		{"we broke up two weeks ago", KindPast, "two weeks ago"},
		{"I saw her earlier today", KindPast, "earlier today"},
		{"I'm so tired right now", KindPresent, "right now"},
		{"today is my birthday", KindPresent, "today"},
		{"I have an interview tomorrow", KindRelativeFuture, "tomorrow"},
		{"I'm calling her later today", KindRelativeFuture, "later today"},
		{"we fly out in 3 days", KindRelativeFuture, "in 3 days"},
		{"next week is the exam", KindRelativeFuture, "next week"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref := Read(tt.in, now)
			assert.Equal(t, tt.kind, ref.Kind)
			assert.Equal(t, tt.cue, ref.Cue)
			assert.NotEmpty(t, ref.Clause)
		})
	}
}

func TestRead_AbsentOrAmbiguousYieldsNone(t *testing.T) {
	for _, in := range []string{
		"",
		"I like green tea",
		"yesterday was bad but tomorrow will be better",
		"today I realised last week was a mess",
	} {
		ref := Read(in, now)
		assert.Equal(t, KindNone, ref.Kind, in)
		assert.Empty(t, ref.Clause, in)
	}
}

func TestRead_RendersAnchoredDates(t *testing.T) {
	assert.Contains(t, Read("yesterday", now).Clause, "Wednesday, October 14")
	assert.Contains(t, Read("tomorrow", now).Clause, "Friday, October 16")
	assert.Contains(t, Read("last week", now).Clause, "the week of October 5")
	assert.Contains(t, Read("next friday", now).Clause, "Friday (October 16)")
	assert.Contains(t, Read("a couple of days ago", now).Clause, "October 13, 2026")
}

func TestRead_SameKindCuesAgree(t *testing.T) {
	ref := Read("Yesterday and last night both felt long", now)
	assert.Equal(t, KindPast, ref.Kind)
	assert.Equal(t, "yesterday", ref.Cue)
}
