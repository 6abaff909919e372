package genlab

import (
	"context"
	"fmt"

	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/sweep"
)

type savedRange struct {
	sweep.ParamKey
	sweep.NumericRange
}

// panelSnapshot is the persisted form of the panel.
type panelSnapshot struct {
	TaskID         string           `json:"task_id"`
	Screen         Screen           `json:"screen"`
	Nodes          []int            `json:"nodes"`
	SelectedParams []string         `json:"selected_params"`
	Values         *sweep.ValueSet  `json:"values"`
	Ranges         []savedRange     `json:"ranges,omitempty"`
	TotalCount     int              `json:"total_count"`
	Session        *sweep.Session   `json:"session,omitempty"`
	Dispatched     int              `json:"dispatched"`
	PollStatus     sweep.PollStatus `json:"poll_status,omitempty"`
	RunID          string           `json:"run_id,omitempty"`
	SelectedResult int              `json:"selected_result"`

	seq     uint64
	deleted bool
}

// snapshotLocked captures the persistent fields. Caller holds p.mu.
func (p *Panel) snapshotLocked() *panelSnapshot {
	p.seq++
	snap := &panelSnapshot{
		TaskID:         p.taskID,
		Screen:         p.screen,
		Nodes:          append([]int{}, p.nodes...),
		SelectedParams: append([]string{}, p.selectedParams...),
		Values:         p.values.Clone(),
		TotalCount:     sweep.Count(p.values),
		Session:        p.session.Clone(),
		Dispatched:     p.dispatched,
		PollStatus:     p.pollStatus,
		RunID:          p.runID,
		SelectedResult: p.selectedResult,
		seq:            p.seq,
	}
	for _, k := range p.values.Keys() {
		if r, ok := p.ranges[k]; ok {
			snap.Ranges = append(snap.Ranges, savedRange{ParamKey: k, NumericRange: r})
		}
	}
	return snap
}

// persist writes snap unless a newer snapshot has already been written.
// Failures are logged.
func (p *Panel) persist(snap *panelSnapshot) {
	if p.snapshots == nil || snap == nil {
		return
	}
	p.persistMu.Lock()
	defer p.persistMu.Unlock()
	if snap.seq <= p.persistedSeq {
		return
	}
	p.persistedSeq = snap.seq

	var err error
	if snap.deleted {
		err = p.snapshots.Delete(store.PanelSnapshotKey)
	} else {
		err = p.snapshots.Save(store.PanelSnapshotKey, snap, p.clock.Now())
	}
	if err != nil {
		logf("WARNING: persist panel: %v", err)
	}
}

// Restore loads the saved panel. The snapshot is ignored when the host has
// no nodes selected or the panel has already left the parameter pick
// screen. A saved sweep that was still processing resumes where it
// stopped: jobs not yet submitted are dispatched first, then polling
// continues. Restore reports whether a snapshot was applied.
func (p *Panel) Restore() (bool, error) {
	if p.snapshots == nil {
		return false, nil
	}
	var snap panelSnapshot
	ok, err := p.snapshots.Load(store.PanelSnapshotKey, &snap)
	if err != nil {
		return false, fmt.Errorf("load panel snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}

	p.mu.Lock()
	if len(p.host.ListSelectedNodes()) == 0 {
		p.mu.Unlock()
		logf("ignoring saved panel %s: no nodes selected", snap.TaskID)
		return false, nil
	}
	if p.screen != ScreenParameterPick || p.sessionID != "" {
		s := p.screen
		p.mu.Unlock()
		return false, wrongScreen("restore", s)
	}

	if snap.TaskID != "" {
		p.taskID = snap.TaskID
	}
	p.screen = snap.Screen
	p.nodes = snap.Nodes
	p.selectedParams = snap.SelectedParams
	if p.selectedParams == nil {
		p.selectedParams = []string{}
	}
	p.values = snap.Values
	if p.values == nil {
		p.values = sweep.NewValueSet()
	}
	p.ranges = make(map[sweep.ParamKey]sweep.NumericRange, len(snap.Ranges))
	for _, r := range snap.Ranges {
		p.ranges[r.ParamKey] = r.NumericRange
	}
	p.session = snap.Session
	p.pollStatus = snap.PollStatus
	p.runID = snap.RunID
	p.selectedResult = snap.SelectedResult

	var (
		resume *sweep.Session
		from   int
		ctx    context.Context
	)
	switch {
	case snap.Screen == ScreenProcessing && snap.Session != nil:
		p.sessionID = snap.Session.ID
		p.recorded = snap.Session.CompletedCount()
		from = min(max(snap.Dispatched, 0), len(snap.Session.Jobs))
		p.dispatched = from
		resume = snap.Session.Clone()
		if from < len(resume.Jobs) {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(context.Background())
			p.runCancel = cancel
		}
	case snap.Screen == ScreenProcessing:
		// Nothing to resume without a session.
		p.screen = ScreenConfirmation
	case snap.Screen < ScreenParameterPick || snap.Screen > ScreenResultGallery:
		p.screen = ScreenParameterPick
	}
	p.mu.Unlock()

	logf("restored panel %s on %s", p.TaskID(), snap.Screen)
	switch {
	case ctx != nil:
		logf("session %s: resuming dispatch at job %d/%d", resume.ID, from, len(resume.Jobs))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, resume, from)
		}()
	case resume != nil:
		// Fully dispatched: the timeout keeps counting from the saved start.
		p.poller.Start(resume)
	}
	return true, nil
}
