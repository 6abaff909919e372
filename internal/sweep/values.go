package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// maxSteppedValues is the most values a stepped range may produce before
// generation switches to fixed 10-point resampling.
const maxSteppedValues = 10

// resampledValues is the number of evenly spaced values emitted for wide ranges.
const resampledValues = 10

// NumericRange is the (min, max, step, precision) a numeric parameter is
// swept over.
type NumericRange struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Step      float64 `json:"step"`
	Precision int     `json:"precision"`
}

// Values generates the candidate list for the range.
func (r NumericRange) Values() []any {
	return floatsToValues(GenerateNumericTestValues(r.Min, r.Max, r.Step, r.Precision))
}

// GenerateNumericTestValues returns the candidate values for a numeric
// parameter.
//
// NaN min falls back to 0, NaN max to 100, and a NaN or non-positive step
// to 1; max is clamped up to min. When the range holds at most 10 steps the
// values are min, min+step, ... up to max. Wider ranges are resampled to
// exactly 10 evenly spaced values from min to max inclusive. Every value is
// rounded to precision decimal digits.
func GenerateNumericTestValues(min, max, step float64, precision int) []float64 {
	if math.IsNaN(min) {
		min = 0
	}
	if math.IsNaN(max) {
		max = 100
	}
	if math.IsNaN(step) || step <= 0 {
		step = 1
	}
	if max < min {
		max = min
	}

	count := math.Floor((max-min)/step) + 1
	if count <= 1 {
		return []float64{min}
	}

	if count <= maxSteppedValues {
		values := make([]float64, 0, int(count))
		// Tolerate float error on the last step, as GenerateRange does.
		for i := 0; len(values) < maxSteppedValues; i++ {
			v := min + float64(i)*step
			if v > max+step/1000 {
				break
			}
			values = append(values, roundTo(v, precision))
		}
		return values
	}

	values := make([]float64, resampledValues)
	floats.Span(values, min, max)
	for i, v := range values {
		values[i] = roundTo(v, precision)
	}
	return values
}

func roundTo(v float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	factor := math.Pow(10, float64(precision))
	return math.Round(v*factor) / factor
}

func floatsToValues(fs []float64) []any {
	out := make([]any, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

// WidgetOptions are the host widget options the engine reads. Numeric
// widgets carry Min/Max/Step/Precision; combo widgets carry Values.
type WidgetOptions struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Step      *float64 `json:"step,omitempty"`
	Precision *int     `json:"precision,omitempty"`
	Values    []any    `json:"values,omitempty"`
}

// NumericDefaults derives the default sweep range of a numeric widget. The
// host stores step options at ten times the UI increment, so the step used
// for sweeping is options.step/10 (default 10, i.e. 1). Zero options are
// treated as unset.
func NumericDefaults(opts WidgetOptions) NumericRange {
	r := NumericRange{Min: 0, Max: 100, Step: 1, Precision: 0}
	if opts.Min != nil && *opts.Min != 0 {
		r.Min = *opts.Min
	}
	if opts.Max != nil && *opts.Max != 0 {
		r.Max = *opts.Max
	}
	if opts.Step != nil && *opts.Step != 0 {
		r.Step = *opts.Step / 10
	}
	if opts.Precision != nil && *opts.Precision != 0 {
		r.Precision = *opts.Precision
	}
	return r
}

// defaultEnumCount is how many leading options an enumerated parameter
// starts with.
const defaultEnumCount = 3

// DefaultEnumValues returns the first three values of the option universe.
func DefaultEnumValues(universe []any) []any {
	n := len(universe)
	if n > defaultEnumCount {
		n = defaultEnumCount
	}
	return append([]any{}, universe[:n]...)
}

// DefaultValues returns the initial candidates for a widget of the given kind.
func DefaultValues(kind ParamKind, opts WidgetOptions) []any {
	switch kind {
	case KindNumeric:
		return NumericDefaults(opts).Values()
	case KindEnumerated:
		return DefaultEnumValues(opts.Values)
	case KindFreeText:
		return []any{""}
	}
	return nil
}

// ParseRangeSpec parses a "min:max:step" string into a NumericRange with
// precision 0.
func ParseRangeSpec(s string) (NumericRange, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return NumericRange{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return NumericRange{}, fmt.Errorf("invalid min value %q: %w", parts[0], err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return NumericRange{}, fmt.Errorf("invalid max value %q: %w", parts[1], err)
	}
	step, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return NumericRange{}, fmt.Errorf("invalid step value %q: %w", parts[2], err)
	}
	if step <= 0 {
		return NumericRange{}, fmt.Errorf("step must be positive, got %f", step)
	}

	return NumericRange{Min: min, Max: max, Step: step}, nil
}

// ParseValueList parses either a "min:max:step" range (numeric candidates)
// or a comma-separated list. List items that parse as numbers become
// float64 when kind is KindNumeric; otherwise items are kept as strings.
func ParseValueList(s string, kind ParamKind) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	if kind == KindNumeric && strings.Count(s, ":") == 2 {
		r, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		return r.Values(), nil
	}

	var out []any
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if kind != KindNumeric {
			out = append(out, part)
			continue
		}
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("value %d (%q) is not a number: %w", i, part, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// CoerceValue converts a decoded candidate to the Go type used for kind:
// float64 for numeric parameters and string otherwise.
func CoerceValue(v any, kind ParamKind) (any, error) {
	if kind == KindNumeric {
		switch val := v.(type) {
		case float64:
			return val, nil
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("value %q is not a number: %w", val, err)
			}
			return f, nil
		}
		return nil, fmt.Errorf("value %v (%T) is not a number", v, v)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return FormatValue(v), nil
}
