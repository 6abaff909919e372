package sweep

import "math"

// dimension is one (node, param) axis of the product.
type dimension struct {
	nodeID int
	param  string
	values []any
}

func dimensions(vs *ValueSet) []dimension {
	var dims []dimension
	for _, n := range vs.nodes {
		for _, p := range n.Params {
			if len(p.Values) == 0 {
				continue
			}
			dims = append(dims, dimension{nodeID: n.NodeID, param: p.Name, values: p.Values})
		}
	}
	return dims
}

// Count returns the number of assignments Expand would produce without
// building them. It saturates at math.MaxInt.
func Count(vs *ValueSet) int {
	dims := dimensions(vs)
	if len(dims) == 0 {
		return 0
	}
	total := 1
	for _, d := range dims {
		n := len(d.values)
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// CheckCount validates a combination count against max.
func CheckCount(count, max int) error {
	if count == 0 {
		return ErrNoValidCombinations
	}
	if count > max {
		return &TooManyCombinationsError{Count: count, Max: max}
	}
	return nil
}

// Expand returns the Cartesian product of the set's candidates.
//
// Nodes are folded in insertion order with the first node varying slowest;
// within a node, parameters follow insertion order with the last parameter
// varying fastest. Pairs without candidates are skipped. Expand never
// truncates: callers check Count against their cap first.
func Expand(vs *ValueSet) []Assignment {
	dims := dimensions(vs)
	if len(dims) == 0 {
		return nil
	}

	total := 1
	for _, d := range dims {
		total *= len(d.values)
	}

	out := make([]Assignment, total)
	for i := range out {
		out[i] = make(Assignment, len(dims))
	}

	// Folding node-local products across nodes yields the same order as a
	// single odometer over all dimensions with the last dimension fastest.
	repeat := 1
	for dim := len(dims) - 1; dim >= 0; dim-- {
		d := dims[dim]
		cycle := len(d.values)
		for i := 0; i < total; i++ {
			out[i][dim] = Setting{NodeID: d.nodeID, ParamName: d.param, Value: d.values[(i/repeat)%cycle]}
		}
		repeat *= cycle
	}
	return out
}

// ExpandChecked expands vs after checking its count against max.
func ExpandChecked(vs *ValueSet, max int) ([]Assignment, error) {
	if err := CheckCount(Count(vs), max); err != nil {
		return nil, err
	}
	return Expand(vs), nil
}
