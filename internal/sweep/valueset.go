package sweep

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// ValueSet holds the candidate values per (node, parameter). Node insertion
// order and parameter insertion order within a node are preserved; both
// determine the enumeration order of Expand.
//
// ValueSet is not safe for concurrent use; the panel owns it under its lock.
type ValueSet struct {
	nodes []*nodeValues
}

type nodeValues struct {
	NodeID int           `json:"node_id"`
	Params []paramValues `json:"params"`
}

type paramValues struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// NewValueSet returns an empty ValueSet.
func NewValueSet() *ValueSet {
	return &ValueSet{}
}

func (vs *ValueSet) node(nodeID int) (*nodeValues, int) {
	for i, n := range vs.nodes {
		if n.NodeID == nodeID {
			return n, i
		}
	}
	return nil, -1
}

func (n *nodeValues) param(name string) int {
	for i, p := range n.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// slot returns the value slice for (node, param), creating both if needed.
func (vs *ValueSet) slot(nodeID int, param string) *[]any {
	n, _ := vs.node(nodeID)
	if n == nil {
		n = &nodeValues{NodeID: nodeID}
		vs.nodes = append(vs.nodes, n)
	}
	i := n.param(param)
	if i < 0 {
		n.Params = append(n.Params, paramValues{Name: param})
		i = len(n.Params) - 1
	}
	return &n.Params[i].Values
}

// SetValues replaces the candidate list for (node, param).
func (vs *ValueSet) SetValues(nodeID int, param string, values []any) {
	*vs.slot(nodeID, param) = append([]any{}, values...)
}

// AppendValues appends values after the existing candidates for (node, param).
func (vs *ValueSet) AppendValues(nodeID int, param string, values ...any) {
	s := vs.slot(nodeID, param)
	*s = append(*s, values...)
}

// ToggleValue adds v to the candidates for (node, param) if absent, and
// removes it otherwise. It reports whether v is present afterwards.
func (vs *ValueSet) ToggleValue(nodeID int, param string, v any) bool {
	s := vs.slot(nodeID, param)
	if idx := lo.IndexOf(*s, v); idx >= 0 {
		*s = append((*s)[:idx:idx], (*s)[idx+1:]...)
		return false
	}
	*s = append(*s, v)
	return true
}

// SelectAll sets the candidates for (node, param) to the whole universe, or
// clears them when the current list is already as long as the universe.
func (vs *ValueSet) SelectAll(nodeID int, param string, universe []any) {
	s := vs.slot(nodeID, param)
	if len(*s) == len(universe) {
		*s = []any{}
		return
	}
	*s = append([]any{}, universe...)
}

// Values returns a copy of the candidates for (node, param).
func (vs *ValueSet) Values(nodeID int, param string) []any {
	n, _ := vs.node(nodeID)
	if n == nil {
		return nil
	}
	i := n.param(param)
	if i < 0 {
		return nil
	}
	return append([]any{}, n.Params[i].Values...)
}

// Has reports whether (node, param) has an entry, even an empty one.
func (vs *ValueSet) Has(nodeID int, param string) bool {
	n, _ := vs.node(nodeID)
	return n != nil && n.param(param) >= 0
}

// NodeIDs returns the node ids in insertion order.
func (vs *ValueSet) NodeIDs() []int {
	return lo.Map(vs.nodes, func(n *nodeValues, _ int) int { return n.NodeID })
}

// Params returns the parameter names of a node in insertion order.
func (vs *ValueSet) Params(nodeID int) []string {
	n, _ := vs.node(nodeID)
	if n == nil {
		return nil
	}
	return lo.Map(n.Params, func(p paramValues, _ int) string { return p.Name })
}

// Keys returns every (node, param) pair in enumeration order.
func (vs *ValueSet) Keys() []ParamKey {
	var keys []ParamKey
	for _, n := range vs.nodes {
		for _, p := range n.Params {
			keys = append(keys, ParamKey{NodeID: n.NodeID, ParamName: p.Name})
		}
	}
	return keys
}

// Len returns the number of (node, param) pairs.
func (vs *ValueSet) Len() int {
	return lo.SumBy(vs.nodes, func(n *nodeValues) int { return len(n.Params) })
}

// RemoveNode drops every entry of a node.
func (vs *ValueSet) RemoveNode(nodeID int) {
	vs.nodes = lo.Filter(vs.nodes, func(n *nodeValues, _ int) bool { return n.NodeID != nodeID })
}

// RemoveParam drops the entry for (node, param). A node left without
// parameters is dropped too.
func (vs *ValueSet) RemoveParam(nodeID int, param string) {
	n, idx := vs.node(nodeID)
	if n == nil {
		return
	}
	n.Params = lo.Filter(n.Params, func(p paramValues, _ int) bool { return p.Name != param })
	if len(n.Params) == 0 {
		vs.nodes = append(vs.nodes[:idx:idx], vs.nodes[idx+1:]...)
	}
}

// PruneNodes drops every node not in selected.
func (vs *ValueSet) PruneNodes(selected []int) {
	vs.nodes = lo.Filter(vs.nodes, func(n *nodeValues, _ int) bool { return lo.Contains(selected, n.NodeID) })
}

// PruneParams drops, across every node, each parameter whose name is not in
// selected. Nodes left without parameters are dropped.
func (vs *ValueSet) PruneParams(selected []string) {
	for _, n := range vs.nodes {
		n.Params = lo.Filter(n.Params, func(p paramValues, _ int) bool { return lo.Contains(selected, p.Name) })
	}
	vs.nodes = lo.Filter(vs.nodes, func(n *nodeValues, _ int) bool { return len(n.Params) > 0 })
}

// Clear removes every entry.
func (vs *ValueSet) Clear() {
	vs.nodes = nil
}

// IsEmpty reports whether the set has no (node, param) pairs.
func (vs *ValueSet) IsEmpty() bool {
	return vs.Len() == 0
}

// Clone returns a deep copy.
func (vs *ValueSet) Clone() *ValueSet {
	out := &ValueSet{nodes: make([]*nodeValues, len(vs.nodes))}
	for i, n := range vs.nodes {
		cp := &nodeValues{NodeID: n.NodeID, Params: make([]paramValues, len(n.Params))}
		for j, p := range n.Params {
			cp.Params[j] = paramValues{Name: p.Name, Values: append([]any{}, p.Values...)}
		}
		out.nodes[i] = cp
	}
	return out
}

// MarshalJSON encodes the set as an ordered list of nodes so that insertion
// order survives a round trip.
func (vs *ValueSet) MarshalJSON() ([]byte, error) {
	if vs == nil || len(vs.nodes) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(vs.nodes)
}

// UnmarshalJSON decodes the ordered node list produced by MarshalJSON.
// Numbers decode as float64 and strings as string.
func (vs *ValueSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		vs.nodes = nil
		return nil
	}
	var nodes []*nodeValues
	if err := json.Unmarshal(data, &nodes); err != nil {
		return fmt.Errorf("decoding value set: %w", err)
	}
	for _, n := range nodes {
		for i := range n.Params {
			if n.Params[i].Values == nil {
				n.Params[i].Values = []any{}
			}
		}
	}
	vs.nodes = nodes
	return nil
}
