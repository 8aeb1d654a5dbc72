package valence

// Bucket is one of the five discrete sentiment bands.
type Bucket int

const (
	StrongNegative Bucket = iota - 2
	Negative
	Neutral
	Positive
	StrongPositive
)

func (b Bucket) String() string {
	switch b {
	case StrongPositive:
		return "strong-positive"
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	case StrongNegative:
		return "strong-negative"
	default:
		return "neutral"
	}
}

// Color is a hex display color.
type Color string

// Display colors per bucket. DefaultColor is used for links with no valence.
const (
	ColorStrongPositive Color = "#15803d"
	ColorPositive       Color = "#4ade80"
	ColorNeutral        Color = "#999999"
	ColorNegative       Color = "#f97316"
	ColorStrongNegative Color = "#dc2626"

	DefaultColor = ColorNeutral
)

// BucketFor maps an average score to its band. Order matters: an average of
// exactly zero is neutral, never negative.
func BucketFor(avg float64) Bucket {
	switch {
	case avg > 2:
		return StrongPositive
	case avg > 0:
		return Positive
	case avg == 0:
		return Neutral
	case avg > -2:
		return Negative
	default:
		return StrongNegative
	}
}

// Color returns the display color of the bucket.
func (b Bucket) Color() Color {
	switch b {
	case StrongPositive:
		return ColorStrongPositive
	case Positive:
		return ColorPositive
	case Negative:
		return ColorNegative
	case StrongNegative:
		return ColorStrongNegative
	default:
		return ColorNeutral
	}
}

// ColorFor returns the edge color for a valence record; nil means the link
// has never been assessed.
func ColorFor(v *Valence) Color {
	if v == nil {
		return DefaultColor
	}
	return BucketFor(v.Average()).Color()
}
