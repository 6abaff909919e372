// Package sweep implements the parameter sweep engine: candidate value sets,
// Cartesian expansion, sequential job dispatch, session-guarded result
// polling and write-back of a chosen result onto the live graph.
package sweep

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParamKind classifies a widget by the kind of candidate values it accepts.
type ParamKind string

const (
	KindNumeric    ParamKind = "numeric"
	KindEnumerated ParamKind = "enumerated"
	KindFreeText   ParamKind = "free_text"
)

// KindOf maps a host widget type to its ParamKind. Widget types the engine
// cannot sweep (toggles, buttons, images) report false.
func KindOf(widgetType string) (ParamKind, bool) {
	switch {
	case widgetType == "number":
		return KindNumeric, true
	case widgetType == "combo":
		return KindEnumerated, true
	case widgetType == "customtext", strings.Contains(strings.ToLower(widgetType), "text"):
		return KindFreeText, true
	}
	return "", false
}

// WidgetRef identifies one adjustable input on one node.
type WidgetRef struct {
	NodeID    int       `json:"node_id"`
	ParamName string    `json:"param_name"`
	Kind      ParamKind `json:"kind"`
}

// Key returns the composite key of the widget.
func (w WidgetRef) Key() ParamKey {
	return ParamKey{NodeID: w.NodeID, ParamName: w.ParamName}
}

// ParamKey is the composite (node, parameter) key. It is comparable and
// safe to use as a map key regardless of the characters in ParamName.
type ParamKey struct {
	NodeID    int    `json:"node_id"`
	ParamName string `json:"param_name"`
}

func (k ParamKey) String() string {
	return strconv.Itoa(k.NodeID) + "/" + k.ParamName
}

// Setting is one (node, parameter, value) triple. Value holds a float64 for
// numeric parameters and a string for enumerated and free-text parameters.
type Setting struct {
	NodeID    int    `json:"node_id"`
	ParamName string `json:"param_name"`
	Value     any    `json:"value"`
}

// Key returns the composite key of the setting.
func (s Setting) Key() ParamKey {
	return ParamKey{NodeID: s.NodeID, ParamName: s.ParamName}
}

// Assignment is one fully resolved combination, one Setting per swept
// (node, parameter) pair. Assignments are produced by Expand and never mutated.
type Assignment []Setting

// Label renders the assignment as "name=value, name=value" for display.
func (a Assignment) Label() string {
	parts := make([]string, len(a))
	for i, s := range a {
		parts[i] = s.ParamName + "=" + FormatValue(s.Value)
	}
	return strings.Join(parts, ", ")
}

// Params flattens the assignment into a "node/param" keyed map for storage
// and charting.
func (a Assignment) Params() map[string]any {
	out := make(map[string]any, len(a))
	for _, s := range a {
		out[s.Key().String()] = s.Value
	}
	return out
}

// FormatValue renders a candidate value the way it is shown to the user.
func FormatValue(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Job is one submitted combination. An empty Handle marks a failed
// submission that can never resolve; an empty ResultURL means not ready.
type Job struct {
	Assignment Assignment `json:"assignment"`
	Handle     string     `json:"handle"`
	ResultURL  string     `json:"result_url,omitempty"`
	ReadyAt    *time.Time `json:"ready_at,omitempty"`
}

// Ready reports whether the job's output has been observed.
func (j Job) Ready() bool {
	return j.ResultURL != ""
}

// Session is one polling campaign over a list of jobs.
type Session struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	Timeout      time.Duration `json:"timeout"`
	OutputNodeID int           `json:"output_node_id"`
	Jobs         []Job         `json:"jobs"`
}

// NewSession creates a session with one job slot per assignment, in order.
func NewSession(id string, startedAt time.Time, timeout time.Duration, outputNodeID int, assignments []Assignment) *Session {
	jobs := make([]Job, len(assignments))
	for i, a := range assignments {
		jobs[i] = Job{Assignment: a}
	}
	return &Session{
		ID:           id,
		StartedAt:    startedAt,
		Timeout:      timeout,
		OutputNodeID: outputNodeID,
		Jobs:         jobs,
	}
}

// CompletedCount returns the number of jobs with a result.
func (s *Session) CompletedCount() int {
	n := 0
	for _, j := range s.Jobs {
		if j.Ready() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Jobs = make([]Job, len(s.Jobs))
	for i, j := range s.Jobs {
		out.Jobs[i] = j
		out.Jobs[i].Assignment = append(Assignment(nil), j.Assignment...)
		if j.ReadyAt != nil {
			t := *j.ReadyAt
			out.Jobs[i].ReadyAt = &t
		}
	}
	return &out
}
