package ui

import (
	"testing"

	"github.com/fatih/color"

	"github.com/msalah0e/valence/internal/valence"
)

func TestVisibleLenIgnoresEscapes(t *testing.T) {
	color.NoColor = false
	defer func() { color.NoColor = true }()

	s := Bad.Sprint("abc")
	if s == "abc" {
		t.Fatal("expected escapes in colored output")
	}
	if got := visibleLen(s); got != 3 {
		t.Errorf("visibleLen = %d, want 3", got)
	}
	if got := pad(s, 5); visibleLen(got) != 5 {
		t.Errorf("padded visible length = %d, want 5", visibleLen(got))
	}
}

func TestSwatchNeutralForNil(t *testing.T) {
	color.NoColor = true
	if got := Swatch(nil); got != "▬▬" {
		t.Errorf("Swatch(nil) = %q", got)
	}
	v := &valence.Valence{Trust: 5, Communication: 5, Support: 5, Respect: 5, Alignment: 5}
	if got := Swatch(v); got != "▬▬" {
		t.Errorf("Swatch = %q", got)
	}
}

func TestScore(t *testing.T) {
	color.NoColor = true
	cases := map[int]string{3: "+3", 0: " 0", -1: "-1", -5: "-5"}
	for in, want := range cases {
		if got := Score(in); got != want {
			t.Errorf("Score(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("Ümläut person", 6); got != "Ümläu…" {
		t.Errorf("got %q", got)
	}
}
