package valence

import (
	"strings"
	"unicode/utf8"
)

// Score bounds for every valence dimension.
const (
	MinScore = -5
	MaxScore = 5

	// MaxNotesLength bounds the free-text annotation, in runes.
	MaxNotesLength = 5000
)

// Valence is the five-dimensional sentiment assessment attached to one link.
type Valence struct {
	Trust         int    `json:"trust" yaml:"trust"`
	Communication int    `json:"communication" yaml:"communication"`
	Support       int    `json:"support" yaml:"support"`
	Respect       int    `json:"respect" yaml:"respect"`
	Alignment     int    `json:"alignment" yaml:"alignment"`
	Notes         string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Dimensions lists the dimension names in display order.
var Dimensions = []string{"trust", "communication", "support", "respect", "alignment"}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampScore bounds a single dimension to [MinScore, MaxScore].
func ClampScore(v int) int {
	return Clamp(v, MinScore, MaxScore)
}

// Normalize returns a copy with every dimension clamped and the notes sanitized.
func (v Valence) Normalize() Valence {
	v = v.ClampScores()
	v.Notes = SanitizeNotes(v.Notes)
	return v
}

// ClampScores returns a copy with every dimension clamped. Notes are kept
// as they are.
func (v Valence) ClampScores() Valence {
	return Valence{
		Trust:         ClampScore(v.Trust),
		Communication: ClampScore(v.Communication),
		Support:       ClampScore(v.Support),
		Respect:       ClampScore(v.Respect),
		Alignment:     ClampScore(v.Alignment),
		Notes:         v.Notes,
	}
}

// Average is the mean of the five dimensions.
func (v Valence) Average() float64 {
	sum := v.Trust + v.Communication + v.Support + v.Respect + v.Alignment
	return float64(sum) / 5
}

// Get returns the named dimension.
func (v Valence) Get(dimension string) (int, bool) {
	switch dimension {
	case "trust":
		return v.Trust, true
	case "communication":
		return v.Communication, true
	case "support":
		return v.Support, true
	case "respect":
		return v.Respect, true
	case "alignment":
		return v.Alignment, true
	}
	return 0, false
}

// Set assigns the named dimension, clamped.
func (v *Valence) Set(dimension string, score int) bool {
	score = ClampScore(score)
	switch dimension {
	case "trust":
		v.Trust = score
	case "communication":
		v.Communication = score
	case "support":
		v.Support = score
	case "respect":
		v.Respect = score
	case "alignment":
		v.Alignment = score
	default:
		return false
	}
	return true
}

// SanitizeNotes trims notes, strips angle brackets and bounds the length.
func SanitizeNotes(notes string) string {
	notes = strings.TrimSpace(notes)
	notes = strings.NewReplacer("<", "", ">", "").Replace(notes)
	return truncateRunes(notes, MaxNotesLength)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
