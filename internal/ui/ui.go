package ui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/msalah0e/valence/internal/valence"
)

// Brand colors
var (
	Brand  = color.New(color.FgHiBlue, color.Bold)
	Subtle = color.New(color.FgHiBlack)
	Warn   = color.New(color.FgYellow)
	Info   = color.New(color.FgCyan)
	Good   = color.New(color.FgGreen)
	Bad    = color.New(color.FgRed)
)

// Mark prefixes the banner. It is cleared when emoji output is disabled.
var Mark = "◉"

// Banner prints the valence banner.
func Banner(subtitle string) {
	if Mark == "" {
		fmt.Printf("%s · %s\n\n", Brand.Sprint("valence"), subtitle)
		return
	}
	fmt.Printf("%s %s · %s\n\n", Mark, Brand.Sprint("valence"), subtitle)
}

// Table prints a simple aligned table.
func Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && visibleLen(cell) > widths[i] {
				widths[i] = visibleLen(cell)
			}
		}
	}

	headerLine := "  "
	sepLine := "  "
	for i, h := range headers {
		headerLine += pad(h, widths[i]) + "  "
		sepLine += strings.Repeat("─", widths[i]) + "  "
	}
	Subtle.Println(headerLine)
	Subtle.Println(sepLine)

	for _, row := range rows {
		line := "  "
		for i, cell := range row {
			if i < len(widths) {
				line += pad(cell, widths[i]) + "  "
			}
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
}

// pad right-pads to width, ignoring ANSI escapes so colored cells align.
func pad(s string, width int) string {
	n := visibleLen(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

func visibleLen(s string) int {
	n := 0
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			n++
		}
	}
	return n
}

// StatusIcon returns a status icon string.
func StatusIcon(ok bool) string {
	if ok {
		return Good.Sprint("✓")
	}
	return Bad.Sprint("✗")
}

// WarnIcon returns a warning icon.
func WarnIcon() string {
	return Warn.Sprint("⚠")
}

// bucketColors approximates the display colors in a terminal palette.
var bucketColors = map[valence.Bucket]*color.Color{
	valence.StrongPositive: color.New(color.FgGreen, color.Bold),
	valence.Positive:       color.New(color.FgHiGreen),
	valence.Neutral:        color.New(color.FgHiBlack),
	valence.Negative:       color.New(color.FgHiYellow),
	valence.StrongNegative: color.New(color.FgRed, color.Bold),
}

// Swatch renders a short colored bar for a link's valence. A nil valence
// renders as neutral.
func Swatch(v *valence.Valence) string {
	b := valence.Neutral
	if v != nil {
		b = valence.BucketFor(v.Average())
	}
	return bucketColors[b].Sprint("▬▬")
}

// Score renders a single dimension score with sign and color.
func Score(n int) string {
	s := fmt.Sprintf("%+d", n)
	if n == 0 {
		s = " 0"
	}
	switch {
	case n > 2:
		return bucketColors[valence.StrongPositive].Sprint(s)
	case n > 0:
		return bucketColors[valence.Positive].Sprint(s)
	case n == 0:
		return bucketColors[valence.Neutral].Sprint(s)
	case n > -2:
		return bucketColors[valence.Negative].Sprint(s)
	}
	return bucketColors[valence.StrongNegative].Sprint(s)
}

// Truncate shortens s to n runes with an ellipsis.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
