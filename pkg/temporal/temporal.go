// Package temporal spots relative time references in a message and renders
// them as a short clause anchored to the current date.
package temporal

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindNone           Kind = "none"
	KindPast           Kind = "past"
	KindPresent        Kind = "present"
	KindRelativeFuture Kind = "relative_future"
)

// Reference is advisory prompt context; a zero-confidence read is KindNone
// with an empty Clause.
type Reference struct {
	Kind   Kind   `json:"kind"`
	Cue    string `json:"cue,omitempty"`
	Clause string `json:"clause,omitempty"`
}

var None = Reference{Kind: KindNone}

type cue struct {
	kind   Kind
	re     *regexp.Regexp
	render func(m []string, now time.Time) string
}

const dayFmt = "Monday, January 2"

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "couple of": 2, "few": 3,
}

const countPattern = `(\d{1,2}|a|an|one|two|three|four|five|six|seven|eight|nine|ten|a couple of|a few)`

// Compound phrases come first so "later today" is not also read as "today".
var cues = []cue{
	{KindPast, regexp.MustCompile(`(?i)\bearlier (today|this (?:morning|week|month|year))\b`), func(m []string, now time.Time) string {
		return "earlier " + strings.ToLower(m[1])
	}},
	{KindRelativeFuture, regexp.MustCompile(`(?i)\blater (today|tonight|this (?:week|month|year))\b`), func(m []string, now time.Time) string {
		return "later " + strings.ToLower(m[1])
	}},
	{KindPast, regexp.MustCompile(`(?i)\blast night\b`), func(m []string, now time.Time) string {
		return fmt.Sprintf("last night (the evening of %s)", now.AddDate(0, 0, -1).Format(dayFmt))
	}},
	{KindPast, regexp.MustCompile(`(?i)\byesterday\b`), func(m []string, now time.Time) string {
		return fmt.Sprintf("yesterday (%s)", now.AddDate(0, 0, -1).Format(dayFmt))
	}},
	{KindPast, regexp.MustCompile(`(?i)\blast (week|month|year|weekend|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`), func(m []string, now time.Time) string {
		return renderRelativeUnit("last", strings.ToLower(m[1]), now, -1)
	}},
	{KindPast, regexp.MustCompile(`(?i)\b` + countPattern + ` (day|week|month|year)s? ago\b`), func(m []string, now time.Time) string {
		n := parseCount(m[1])
		at := shift(now, strings.ToLower(m[2]), -n)
		return fmt.Sprintf("%s %ss ago (around %s)", countLabel(n), strings.ToLower(m[2]), at.Format("January 2, 2006"))
	}},
	{KindPresent, regexp.MustCompile(`(?i)\b(right now|at the moment|currently|these days)\b`), func(m []string, now time.Time) string {
		return fmt.Sprintf("the present moment (%s)", now.Format(dayFmt))
	}},
	{KindPresent, regexp.MustCompile(`(?i)\bthis (morning|afternoon|evening|week)\b`), func(m []string, now time.Time) string {
		return fmt.Sprintf("this %s (%s)", strings.ToLower(m[1]), now.Format(dayFmt))
	}},
	{KindPresent, regexp.MustCompile(`(?i)\b(today|tonight)\b`), func(m []string, now time.Time) string {
		return fmt.Sprintf("%s (%s)", strings.ToLower(m[1]), now.Format(dayFmt))
	}},
	{KindRelativeFuture, regexp.MustCompile(`(?i)\btomorrow\b`), func(m []string, now time.Time) string {
		return fmt.Sprintf("tomorrow (%s)", now.AddDate(0, 0, 1).Format(dayFmt))
	}},
	{KindRelativeFuture, regexp.MustCompile(`(?i)\bnext (week|month|year|weekend|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`), func(m []string, now time.Time) string {
		return renderRelativeUnit("next", strings.ToLower(m[1]), now, 1)
	}},
	{KindRelativeFuture, regexp.MustCompile(`(?i)\bin ` + countPattern + ` (day|week|month|year)s?\b`), func(m []string, now time.Time) string {
		n := parseCount(m[1])
		at := shift(now, strings.ToLower(m[2]), n)
		return fmt.Sprintf("%s %ss from now (around %s)", countLabel(n), strings.ToLower(m[2]), at.Format("January 2, 2006"))
	}},
	{KindRelativeFuture, regexp.MustCompile(`(?i)\b(soon|upcoming)\b`), func(m []string, now time.Time) string {
		return "something coming up soon"
	}},
}

type hit struct {
	start, end int
	kind       Kind
	cue        string
	clause     string
}

// Read returns the single time orientation of text. Cues of more than one
// kind make the read ambiguous and it falls back to None.
func Read(text string, now time.Time) Reference {
	text = strings.TrimSpace(text)
	if text == "" {
		return None
	}

	var hits []hit
	for _, c := range cues {
		for _, loc := range c.re.FindAllStringSubmatchIndex(text, -1) {
			if overlaps(hits, loc[0], loc[1]) {
				continue
			}
			m := submatches(text, loc)
			hits = append(hits, hit{
				start:  loc[0],
				end:    loc[1],
				kind:   c.kind,
				cue:    strings.ToLower(m[0]),
				clause: c.render(m, now),
			})
		}
	}
	if len(hits) == 0 {
		return None
	}
	for _, h := range hits[1:] {
		if h.kind != hits[0].kind {
			return None
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	first := hits[0]
	return Reference{
		Kind:   first.kind,
		Cue:    first.cue,
		Clause: renderClause(first),
	}
}

func renderClause(h hit) string {
	switch h.kind {
	case KindPast:
		return "The user is referring to " + h.clause + "; treat it as something that already happened."
	case KindPresent:
		return "The user is talking about " + h.clause + "; it is happening now."
	case KindRelativeFuture:
		return "The user is looking ahead to " + h.clause + "; it has not happened yet."
	default:
		return ""
	}
}

func overlaps(hits []hit, start, end int) bool {
	for _, h := range hits {
		if start < h.end && h.start < end {
			return true
		}
	}
	return false
}

func submatches(text string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

func parseCount(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "a ")
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	if n, ok := numberWords[s]; ok {
		return n
	}
	return 1
}

func countLabel(n int) string {
	if n == 1 {
		return "one"
	}
	return strconv.Itoa(n)
}

func shift(now time.Time, unit string, n int) time.Time {
	switch unit {
	case "week":
		return now.AddDate(0, 0, 7*n)
	case "month":
		return now.AddDate(0, n, 0)
	case "year":
		return now.AddDate(n, 0, 0)
	default:
		return now.AddDate(0, 0, n)
	}
}

func renderRelativeUnit(prefix, unit string, now time.Time, dir int) string {
	switch unit {
	case "week":
		start := startOfWeek(now).AddDate(0, 0, 7*dir)
		return fmt.Sprintf("%s week (the week of %s)", prefix, start.Format("January 2"))
	case "weekend":
		sat := startOfWeek(now).AddDate(0, 0, 5+7*dir)
		return fmt.Sprintf("%s weekend (%s)", prefix, sat.Format("January 2"))
	case "month":
		return fmt.Sprintf("%s month (%s)", prefix, now.AddDate(0, dir, 0).Format("January 2006"))
	case "year":
		return fmt.Sprintf("%s year (%d)", prefix, now.Year()+dir)
	default:
		day, ok := weekdays[unit]
		if !ok {
			return prefix + " " + unit
		}
		return fmt.Sprintf("%s %s (%s)", prefix, capitalize(unit), nearestWeekday(now, day, dir).Format("January 2"))
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

// startOfWeek returns the Monday of now's week.
func startOfWeek(now time.Time) time.Time {
	offset := (int(now.Weekday()) + 6) % 7
	y, m, d := now.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// nearestWeekday walks dir days at a time until it lands on day, never
// returning now itself.
func nearestWeekday(now time.Time, day time.Weekday, dir int) time.Time {
	t := now.AddDate(0, 0, dir)
	for t.Weekday() != day {
		t = t.AddDate(0, 0, dir)
	}
	return t
}
