package comparison

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"dashboard_cards/internal/model"
)

// Value is a float that may be absent.
type Value struct {
	V  float64
	OK bool
}

// Some returns a present value.
func Some(v float64) Value { return Value{V: v, OK: true} }

// None is the absent value.
var None = Value{}

// Or returns v when present, otherwise fallback.
func (v Value) Or(fallback Value) Value {
	if v.OK {
		return v
	}
	return fallback
}

// leadingNumber matches the numeric prefix a browser's parseFloat would accept.
var leadingNumber = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)

// ParseNumeric converts a textual state to a finite float. States such as
// "unavailable", "unknown" or "" do not parse. Trailing units are ignored,
// so "21.5 °C" yields 21.5.
func ParseNumeric(text string) (float64, bool) {
	m := leadingNumber.FindString(strings.TrimSpace(text))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseValue is ParseNumeric lifted into a Value.
func ParseValue(text string) Value {
	f, ok := ParseNumeric(text)
	if !ok {
		return None
	}
	return Some(f)
}

// Numeric returns the parseable subset of readings, in order.
func Numeric(readings []model.RawReading) []float64 {
	nums := make([]float64, 0, len(readings))
	for _, r := range readings {
		if f, ok := ParseNumeric(r.State); ok {
			nums = append(nums, f)
		}
	}
	return nums
}

// Average is the arithmetic mean of the readings that parse. It is absent
// when none do.
func Average(readings []model.RawReading) Value {
	nums := Numeric(readings)
	if len(nums) == 0 {
		return None
	}
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return Some(sum / float64(len(nums)))
}

// Combine computes the outdoor-corrected inside difference:
//
//	(insideLastYear - insideNow) + (outsideNow - outsideLastYear) * weight
//
// The result is absent unless all four operands are present.
func Combine(insideNow, insideLastYear, outsideNow, outsideLastYear Value, weight float64) Value {
	if !insideNow.OK || !insideLastYear.OK || !outsideNow.OK || !outsideLastYear.OK {
		return None
	}
	insideDiff := insideLastYear.V - insideNow.V
	outsideCorrection := (outsideNow.V - outsideLastYear.V) * weight
	return Some(insideDiff + outsideCorrection)
}
