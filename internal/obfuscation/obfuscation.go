// Package obfuscation implements the statistical-disclosure-control transforms
// applied to every count released by the worker: low-number suppression and
// rounding to a nearest target, composed in the order the request supplies
// them.
package obfuscation

import (
	"encoding/json"
	"math"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// Modifier identifiers as they appear on the wire.
const (
	ModifierLowNumberSuppression = "Low Number Suppression"
	ModifierRounding             = "Rounding"
)

// Modifier is one disclosure-control instruction from the request payload.
type Modifier struct {
	ID        string `json:"id"`
	Threshold int    `json:"threshold,omitempty"`
	Nearest   int    `json:"nearest,omitempty"`
}

// LowNumberSuppression returns 0 when n is at or below the threshold,
// otherwise n unchanged. A non-positive threshold disables suppression.
func LowNumberSuppression(n int64, threshold int) int64 {
	if threshold > 0 && n <= int64(threshold) {
		return 0
	}
	return n
}

// Rounding rounds n to the nearest multiple of nearest, half away from zero.
// nearest <= 0 is a no-op.
func Rounding(n int64, nearest int) int64 {
	if nearest <= 0 {
		return n
	}
	return int64(math.Round(float64(n)/float64(nearest))) * int64(nearest)
}

// Apply runs the filters over n in the order supplied. Ordering is
// significant: rounding before suppression can release a value that
// suppression alone would have zeroed, and callers rely on that fidelity.
func Apply(n int64, filters []Modifier) int64 {
	for _, f := range filters {
		switch f.ID {
		case ModifierLowNumberSuppression:
			n = LowNumberSuppression(n, f.Threshold)
		case ModifierRounding:
			n = Rounding(n, f.Nearest)
		}
	}
	return n
}

// ParseModifiers decodes a JSON array of modifier objects. Unknown ids are
// rejected so a typo cannot silently disable disclosure control.
func ParseModifiers(raw []byte) ([]Modifier, error) {
	const op = "obfuscation.parse"

	if len(raw) == 0 {
		return nil, nil
	}
	var mods []Modifier
	if err := json.Unmarshal(raw, &mods); err != nil {
		return nil, errs.Wrap(errs.KindSchemaValidation, op, err)
	}
	for _, m := range mods {
		switch m.ID {
		case ModifierLowNumberSuppression, ModifierRounding:
		default:
			return nil, errs.Newf(errs.KindSchemaValidation, op,
				"unknown modifier id %q", m.ID)
		}
	}
	return mods, nil
}

// DefaultFilters builds the worker's standing disclosure pipeline from the
// configured threshold and rounding target: suppression first, then rounding.
func DefaultFilters(threshold, nearest int) []Modifier {
	var filters []Modifier
	if threshold > 0 {
		filters = append(filters, Modifier{ID: ModifierLowNumberSuppression, Threshold: threshold})
	}
	if nearest > 0 {
		filters = append(filters, Modifier{ID: ModifierRounding, Nearest: nearest})
	}
	return filters
}

// Suppression returns the threshold of the first suppression modifier, or 0.
func Suppression(filters []Modifier) int {
	for _, f := range filters {
		if f.ID == ModifierLowNumberSuppression {
			return f.Threshold
		}
	}
	return 0
}

// RoundingTarget returns the nearest of the first rounding modifier, or 0.
func RoundingTarget(filters []Modifier) int {
	for _, f := range filters {
		if f.ID == ModifierRounding {
			return f.Nearest
		}
	}
	return 0
}
