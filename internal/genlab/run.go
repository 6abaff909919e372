package genlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/genlab/internal/assistant"
	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/sweep"
	"github.com/banshee-data/genlab/internal/timeutil"
)

// Start expands the configured values and starts a sweep session. The
// output node is resolved from the visible nodes when outputNodeID is not
// positive. Validation runs synchronously; dispatch and polling continue
// in the background. It returns the session id.
func (p *Panel) Start(outputNodeID int) (string, error) {
	p.mu.Lock()
	if p.screen != ScreenConfirmation {
		s := p.screen
		p.mu.Unlock()
		return "", wrongScreen("start", s)
	}
	assignments, err := sweep.ExpandChecked(p.values, p.maxCombinations)
	if err != nil {
		err = p.failLocked(err)
		p.mu.Unlock()
		return "", err
	}
	if outputNodeID <= 0 {
		id, ok := p.host.ResolveSingleOutputNode(p.host.VisibleNodes())
		if !ok {
			err = p.failLocked(sweep.ErrNoOutputNode)
			p.mu.Unlock()
			return "", err
		}
		outputNodeID = id
	} else if _, ok := p.host.LookupNode(outputNodeID); !ok {
		err = p.failLocked(fmt.Errorf("%w (node %d not found)", sweep.ErrNoOutputNode, outputNodeID))
		p.mu.Unlock()
		return "", err
	}

	s := sweep.NewSession(uuid.New().String(), p.clock.Now(), p.pollTimeout, outputNodeID, assignments)
	ctx, cancel := context.WithCancel(context.Background())
	p.clearSessionLocked()
	p.sessionID = s.ID
	p.session = s.Clone()
	p.runCancel = cancel
	p.runID = uuid.New().String()
	p.screen = ScreenProcessing
	p.errMsg = ""

	request, err := json.Marshal(p.values)
	if err != nil {
		logf("WARNING: encode sweep request: %v", err)
		request = []byte("[]")
	}
	rec := store.RunRecord{
		RunID:        p.runID,
		SessionID:    s.ID,
		TaskID:       p.taskID,
		OutputNodeID: outputNodeID,
		Total:        len(s.Jobs),
		Request:      request,
		StartedAt:    s.StartedAt,
	}
	taskID := p.taskID
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	if p.runs != nil {
		if err := p.runs.InsertRun(rec); err != nil {
			logf("WARNING: record run %s: %v", rec.RunID, err)
		}
	}
	p.track(assistant.EventParameterDebugStart, taskID, map[string]any{
		"session_id":     s.ID,
		"total":          len(s.Jobs),
		"output_node_id": outputNodeID,
	})
	logf("session %s: %d combinations, output node %d", s.ID, len(s.Jobs), outputNodeID)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, s, 0)
	}()
	return s.ID, nil
}

func (p *Panel) isActive(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID == id
}

// run dispatches the jobs of s in order, starting at index from, and then
// polls for results. The polling timeout counts from the end of dispatch.
func (p *Panel) run(ctx context.Context, s *sweep.Session, from int) {
	d := sweep.NewDispatcher(p.host, p.clientID)
	d.OnDispatched = func(i int, handle string) {
		p.mu.Lock()
		var snap *panelSnapshot
		if p.sessionID == s.ID {
			p.session.Jobs[i].Handle = handle
			p.dispatched = i + 1
			snap = p.snapshotLocked()
		}
		p.mu.Unlock()
		p.persist(snap)
	}

	n, err := d.DispatchFrom(ctx, s, from, func() bool { return p.isActive(s.ID) })
	if errors.Is(err, sweep.ErrSessionInactive) || ctx.Err() != nil {
		logf("session %s stopped after dispatching %d jobs", s.ID, n)
		return
	}
	if err != nil {
		logf("session %s: %d/%d jobs dispatched", s.ID, n, len(s.Jobs))
	}

	s.StartedAt = p.clock.Now()
	p.mu.Lock()
	var snap *panelSnapshot
	if p.sessionID == s.ID {
		p.session.StartedAt = s.StartedAt
		snap = p.snapshotLocked()
	}
	p.mu.Unlock()
	p.persist(snap)

	p.poller.Start(s)
	// Cancel may have run between the dispatch loop and Start.
	if !p.isActive(s.ID) {
		p.poller.CancelSession(s.ID)
	}
}

// onPollUpdate mirrors the poller's session into the panel.
func (p *Panel) onPollUpdate(u sweep.Update) {
	snap := p.poller.Snapshot()

	p.mu.Lock()
	if u.SessionID == "" || u.SessionID != p.sessionID || snap == nil || snap.ID != u.SessionID {
		p.mu.Unlock()
		return
	}
	p.session = snap
	p.pollStatus = u.Status
	finished := u.Status == sweep.PollCompleted || u.Status == sweep.PollTimedOut
	if finished {
		p.screen = ScreenResultGallery
		p.selectedResult = -1
	}
	runID := p.runID
	record := finished || snap.CompletedCount() != p.recorded
	p.recorded = snap.CompletedCount()
	var panelSnap *panelSnapshot
	if record {
		panelSnap = p.snapshotLocked()
	}
	p.mu.Unlock()

	if !record {
		return
	}
	p.persist(panelSnap)

	status := store.RunRunning
	var completedAt *time.Time
	if finished {
		status = string(u.Status)
		now := p.clock.Now()
		completedAt = &now
		logf("session %s %s: %d/%d results", u.SessionID, u.Status, u.Completed, u.Total)
	}
	p.updateRun(runID, status, snap, "", completedAt)
}

func (p *Panel) updateRun(runID, status string, s *sweep.Session, errMsg string, completedAt *time.Time) {
	if p.runs == nil || runID == "" {
		return
	}
	var (
		completed int
		results   json.RawMessage
	)
	if s != nil {
		completed = s.CompletedCount()
		urls := make([]string, len(s.Jobs))
		for i, j := range s.Jobs {
			urls[i] = j.ResultURL
		}
		results, _ = json.Marshal(urls)
	}
	if err := p.runs.UpdateRun(runID, status, completed, results, errMsg, completedAt); err != nil {
		logf("WARNING: update run %s: %v", runID, err)
	}
}

// Cancel stops the running sweep and returns to parameter pick. Pending
// host jobs are cleared and the executing one interrupted; host failures
// are logged.
func (p *Panel) Cancel(ctx context.Context) error {
	p.mu.Lock()
	if p.screen != ScreenProcessing {
		s := p.screen
		p.mu.Unlock()
		return wrongScreen("cancel", s)
	}
	id, runID := p.sessionID, p.runID
	session := p.session
	p.clearSessionLocked()
	p.nodes = nil
	p.screen = ScreenParameterPick
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.poller.CancelSession(id)
	if err := p.host.ClearQueue(ctx); err != nil {
		logf("WARNING: clear queue: %v", err)
	}
	if err := p.host.InterruptActiveJob(ctx); err != nil {
		logf("WARNING: interrupt: %v", err)
	}
	p.persist(snap)

	now := p.clock.Now()
	p.updateRun(runID, string(sweep.PollCancelled), session, "", &now)
	logf("session %s cancelled", id)
	return nil
}

// ApplySelected writes the selected result's parameters back onto the live
// graph, shows a transient notification and returns how many widgets were
// set.
func (p *Panel) ApplySelected(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.screen != ScreenResultGallery {
		s := p.screen
		p.mu.Unlock()
		return 0, wrongScreen("apply", s)
	}
	i := p.selectedResult
	if p.session == nil || i < 0 || i >= len(p.session.Jobs) {
		err := p.failLocked(ErrNoResult)
		p.mu.Unlock()
		return 0, err
	}
	assignment := append(sweep.Assignment{}, p.session.Jobs[i].Assignment...)
	allParams := p.values.Clone()
	taskID := p.taskID
	p.mu.Unlock()

	applied := p.applier.Apply(assignment)

	data := map[string]any{
		"selected_params": assignment.Params(),
		"all_params":      allParams,
		"count":           len(allParams.NodeIDs()),
	}
	if g, err := p.host.SnapshotExecutionGraph(ctx); err == nil {
		data["workflow"] = g.Prompt
	}
	p.track(assistant.EventParameterDebugApply, taskID, data)

	p.notify(fmt.Sprintf("Applied %d parameter values from result %d", applied, i+1))
	return applied, nil
}

// notify shows msg until the notify duration elapses or another message
// replaces it.
func (p *Panel) notify(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notifyTimer != nil {
		p.notifyTimer.Stop()
	}
	p.notification = msg
	var t timeutil.Timer
	t = p.clock.AfterFunc(p.notifyDuration, func() {
		p.mu.Lock()
		if p.notifyTimer == t {
			p.notification = ""
			p.notifyTimer = nil
		}
		p.mu.Unlock()
	})
	p.notifyTimer = t
}
