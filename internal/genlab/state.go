package genlab

import (
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/genlab/internal/sweep"
)

// State is a read-only view of the panel for rendering.
type State struct {
	TaskID          string       `json:"task_id"`
	Screen          Screen       `json:"screen"`
	ScreenName      string       `json:"screen_name"`
	SelectedParams  []string     `json:"selected_params"`
	AvailableParams []string     `json:"available_params"`
	Nodes           []NodeCard   `json:"nodes"`
	TotalCount      int          `json:"total_count"`
	MaxCombinations int          `json:"max_combinations"`
	Error           string       `json:"error,omitempty"`
	Session         *SessionView `json:"session,omitempty"`
	SelectedResult  int          `json:"selected_result"`
	Notification    string       `json:"notification,omitempty"`
}

// NodeCard is one node on the panel. Missing is set when the node has been
// deleted from the graph since it was configured.
type NodeCard struct {
	NodeID  int         `json:"node_id"`
	Type    string      `json:"type,omitempty"`
	Title   string      `json:"title,omitempty"`
	Missing bool        `json:"missing,omitempty"`
	Params  []ParamCard `json:"params"`
}

// ParamCard is one sweepable parameter of a node.
type ParamCard struct {
	Name    string              `json:"name"`
	Kind    sweep.ParamKind     `json:"kind,omitempty"`
	Current any                 `json:"current,omitempty"`
	Values  []any               `json:"values"`
	Options []any               `json:"options,omitempty"`
	Range   *sweep.NumericRange `json:"range,omitempty"`
}

// SessionView summarises the active or last sweep session.
type SessionView struct {
	ID           string           `json:"id"`
	Status       sweep.PollStatus `json:"status"`
	StartedAt    time.Time        `json:"started_at"`
	OutputNodeID int              `json:"output_node_id"`
	Dispatched   int              `json:"dispatched"`
	Completed    int              `json:"completed"`
	Total        int              `json:"total"`
	Results      []ResultView     `json:"results"`
}

// ResultView is one job slot. URL is empty until the output is ready.
type ResultView struct {
	Index  int            `json:"index"`
	Label  string         `json:"label"`
	Params map[string]any `json:"params"`
	Handle string         `json:"handle,omitempty"`
	URL    string         `json:"url,omitempty"`
}

// State returns the current view of the panel.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := State{
		TaskID:          p.taskID,
		Screen:          p.screen,
		ScreenName:      p.screen.String(),
		SelectedParams:  append([]string{}, p.selectedParams...),
		TotalCount:      sweep.Count(p.values),
		MaxCombinations: p.maxCombinations,
		Error:           p.errMsg,
		SelectedResult:  p.selectedResult,
		Notification:    p.notification,
	}

	if p.screen == ScreenParameterPick {
		selected := p.host.ListSelectedNodes()
		st.Nodes = lo.Map(selected, func(n sweep.Node, _ int) NodeCard {
			return p.nodeCardLocked(n, func(string) bool { return true })
		})
		st.AvailableParams = availableParams(selected)
	} else {
		st.Nodes = make([]NodeCard, 0, len(p.nodes))
		for _, id := range p.nodes {
			n, ok := p.host.LookupNode(id)
			if !ok {
				st.Nodes = append(st.Nodes, p.missingCardLocked(id))
				continue
			}
			st.Nodes = append(st.Nodes, p.nodeCardLocked(n, func(name string) bool {
				return lo.Contains(p.selectedParams, name)
			}))
		}
	}

	if p.session != nil {
		st.Session = p.sessionViewLocked()
	}
	return st
}

func (p *Panel) nodeCardLocked(n sweep.Node, include func(string) bool) NodeCard {
	card := NodeCard{NodeID: n.ID, Type: n.Type, Title: n.Title, Params: []ParamCard{}}
	for _, w := range n.Widgets {
		kind, ok := sweep.KindOf(w.Type)
		if !ok || !include(w.Name) {
			continue
		}
		pc := ParamCard{
			Name:    w.Name,
			Kind:    kind,
			Current: w.Value,
			Values:  p.values.Values(n.ID, w.Name),
			Options: w.Options.Values,
		}
		if pc.Values == nil {
			pc.Values = []any{}
		}
		if r, ok := p.ranges[sweep.ParamKey{NodeID: n.ID, ParamName: w.Name}]; ok {
			pc.Range = &r
		}
		card.Params = append(card.Params, pc)
	}
	return card
}

func (p *Panel) missingCardLocked(id int) NodeCard {
	card := NodeCard{NodeID: id, Missing: true, Params: []ParamCard{}}
	for _, name := range p.values.Params(id) {
		card.Params = append(card.Params, ParamCard{Name: name, Values: p.values.Values(id, name)})
	}
	return card
}

func (p *Panel) sessionViewLocked() *SessionView {
	s := p.session
	v := &SessionView{
		ID:           s.ID,
		Status:       p.pollStatus,
		StartedAt:    s.StartedAt,
		OutputNodeID: s.OutputNodeID,
		Dispatched:   p.dispatched,
		Completed:    s.CompletedCount(),
		Total:        len(s.Jobs),
		Results:      make([]ResultView, len(s.Jobs)),
	}
	for i, j := range s.Jobs {
		v.Results[i] = ResultView{
			Index:  i,
			Label:  j.Assignment.Label(),
			Params: j.Assignment.Params(),
			Handle: j.Handle,
			URL:    j.ResultURL,
		}
	}
	return v
}

// availableParams lists the sweepable widget names across nodes, first
// occurrence first.
func availableParams(nodes []sweep.Node) []string {
	names := []string{}
	for _, n := range nodes {
		for _, w := range n.Widgets {
			if _, ok := sweep.KindOf(w.Type); ok {
				names = append(names, w.Name)
			}
		}
	}
	return lo.Uniq(names)
}
