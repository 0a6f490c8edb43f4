package assign

import (
	"fmt"
	"strings"

	"cgae/internal/tensor"
)

// Source selects which assignment feeds the projection target.
type Source int

const (
	SourceStraightThrough Source = iota
	SourceSoft
	SourceNearest
)

var sourceNames = map[Source]string{
	SourceStraightThrough: "straight_through",
	SourceSoft:            "soft",
	SourceNearest:         "nearest",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", int(s))
}

func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "straight_through", "st", "hard":
		return SourceStraightThrough, nil
	case "soft", "gumbel", "gumble":
		return SourceSoft, nil
	case "nearest":
		return SourceNearest, nil
	default:
		return 0, fmt.Errorf("unsupported assignment source: %s", name)
	}
}

// SourceFromFlags maps the boolean selection flags to a source. The soft
// flag wins over nearest; with neither set the straight-through sample is
// used.
func SourceFromFlags(softProjection, nearest bool) Source {
	switch {
	case softProjection:
		return SourceSoft
	case nearest:
		return SourceNearest
	default:
		return SourceStraightThrough
	}
}

// Pick returns the (beads, atoms) or (batch, beads, atoms) assignment for the
// source. relaxed is over (atoms, beads) logits and is transposed here;
// nearest is used as is.
func (s Source) Pick(relaxed Relaxed, nearest *tensor.Tensor) *tensor.Tensor {
	switch s {
	case SourceSoft:
		return tensor.Transpose(relaxed.Soft)
	case SourceNearest:
		return nearest
	default:
		return tensor.Transpose(relaxed.Hard)
	}
}
