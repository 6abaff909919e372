// Package genlab implements the GenLab panel: the screen workflow that takes
// the user from picking parameters on selected nodes, through configuring
// candidate values, to running a sweep and applying a chosen result.
package genlab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/banshee-data/genlab/internal/config"
	"github.com/banshee-data/genlab/internal/monitoring"
	"github.com/banshee-data/genlab/internal/store"
	"github.com/banshee-data/genlab/internal/sweep"
	"github.com/banshee-data/genlab/internal/timeutil"
)

var logf = monitoring.Component("genlab")

// DefaultNotifyDuration is how long the apply notification stays visible.
const DefaultNotifyDuration = 3 * time.Second

// Assistant is the remote prompt assistant.
type Assistant interface {
	GenerateTextVariants(ctx context.Context, text string) ([]string, error)
	TrackEvent(eventType, messageID string, data map[string]any)
}

// SnapshotStore persists the panel between restarts.
type SnapshotStore interface {
	Save(key string, v any, at time.Time) error
	Load(key string, v any) (bool, error)
	Delete(key string) error
}

// RunRecorder records sweep runs.
type RunRecorder interface {
	InsertRun(rec store.RunRecord) error
	UpdateRun(runID, status string, completed int, results json.RawMessage, errMsg string, completedAt *time.Time) error
}

// Options configure a Panel. Zero values select the defaults; nil
// collaborators disable the feature they provide.
type Options struct {
	Clock     timeutil.Clock
	Assistant Assistant
	Snapshots SnapshotStore
	Runs      RunRecorder

	ClientID        string
	MaxCombinations int
	PollInterval    time.Duration
	PollTimeout     time.Duration
	NotifyDuration  time.Duration
	DefaultParams   []string
}

type pendingVariants struct {
	input string
	texts []string
}

// Panel is one GenLab panel bound to a host. It is safe for concurrent use.
//
// p.mu may be held while reading or writing the live graph, which is local,
// but never across network calls or calls into the poller: the poller
// delivers updates by calling back into the panel.
type Panel struct {
	host      sweep.HostGraphPort
	clock     timeutil.Clock
	assistant Assistant
	snapshots SnapshotStore
	runs      RunRecorder
	poller    *sweep.Poller
	applier   *sweep.Applier

	clientID        string
	maxCombinations int
	pollTimeout     time.Duration
	notifyDuration  time.Duration
	defaultParams   []string

	mu             sync.Mutex
	taskID         string
	screen         Screen
	nodes          []int
	selectedParams []string
	values         *sweep.ValueSet
	ranges         map[sweep.ParamKey]sweep.NumericRange
	variants       map[sweep.ParamKey]pendingVariants
	errMsg         string

	sessionID      string
	session        *sweep.Session
	pollStatus     sweep.PollStatus
	dispatched     int
	runID          string
	recorded       int
	runCancel      context.CancelFunc
	selectedResult int

	notification string
	notifyTimer  timeutil.Timer

	seq          uint64
	persistMu    sync.Mutex
	persistedSeq uint64

	wg sync.WaitGroup
}

// New creates a Panel on the parameter pick screen.
func New(host sweep.HostGraphPort, opts Options) *Panel {
	p := &Panel{
		host:            host,
		clock:           opts.Clock,
		assistant:       opts.Assistant,
		snapshots:       opts.Snapshots,
		runs:            opts.Runs,
		clientID:        opts.ClientID,
		maxCombinations: opts.MaxCombinations,
		pollTimeout:     opts.PollTimeout,
		notifyDuration:  opts.NotifyDuration,
		defaultParams:   opts.DefaultParams,
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	if p.clientID == "" {
		p.clientID = uuid.New().String()
	}
	if p.maxCombinations <= 0 {
		p.maxCombinations = sweep.DefaultMaxCombinations
	}
	if p.pollTimeout <= 0 {
		p.pollTimeout = sweep.DefaultPollTimeout
	}
	if p.notifyDuration <= 0 {
		p.notifyDuration = DefaultNotifyDuration
	}
	if p.defaultParams == nil {
		p.defaultParams = config.DefaultParams
	}
	p.applier = sweep.NewApplier(host)
	p.poller = sweep.NewPoller(host, p.clock, opts.PollInterval)
	p.poller.Subscribe(p.onPollUpdate)
	p.resetLocked()
	return p
}

// resetLocked returns the panel to a fresh parameter pick screen under a
// new task id. Caller holds p.mu or owns p exclusively.
func (p *Panel) resetLocked() {
	p.taskID = uuid.New().String()
	p.screen = ScreenParameterPick
	p.nodes = nil
	p.selectedParams = append([]string{}, p.defaultParams...)
	p.values = sweep.NewValueSet()
	p.ranges = make(map[sweep.ParamKey]sweep.NumericRange)
	p.variants = make(map[sweep.ParamKey]pendingVariants)
	p.errMsg = ""
	p.clearSessionLocked()
	if p.notifyTimer != nil {
		p.notifyTimer.Stop()
		p.notifyTimer = nil
	}
	p.notification = ""
}

func (p *Panel) clearSessionLocked() {
	if p.runCancel != nil {
		p.runCancel()
		p.runCancel = nil
	}
	p.sessionID = ""
	p.session = nil
	p.pollStatus = sweep.PollIdle
	p.dispatched = 0
	p.runID = ""
	p.recorded = 0
	p.selectedResult = -1
}

// failLocked records err as the panel's inline message when it is user-facing.
func (p *Panel) failLocked(err error) error {
	if IsUserFacing(err) {
		p.errMsg = err.Error()
	}
	return err
}

// TaskID identifies the current panel session in telemetry.
func (p *Panel) TaskID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taskID
}

// Screen returns the current screen.
func (p *Panel) Screen() Screen {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.screen
}

// ToggleParam selects or deselects a parameter name on the parameter pick
// screen and reports whether it is selected afterwards. Deselecting a
// parameter drops its values on every node.
func (p *Panel) ToggleParam(name string) (bool, error) {
	if name == "" {
		return false, ErrUnknownParam
	}
	p.mu.Lock()
	if p.screen != ScreenParameterPick {
		p.mu.Unlock()
		return false, wrongScreen("toggle parameter", p.screen)
	}
	selected := !lo.Contains(p.selectedParams, name)
	if selected {
		p.selectedParams = append(p.selectedParams, name)
	} else {
		p.selectedParams = lo.Without(p.selectedParams, name)
		p.values.PruneParams(p.selectedParams)
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	return selected, nil
}

// Next advances the workflow.
//
// From parameter pick it captures the host's current selection, drops
// values of nodes and parameters no longer selected and seeds default
// candidates for selected widgets that have none. From value configuration
// it checks the combination count and refuses to advance, recording the
// message, when the sweep is empty or over the limit.
func (p *Panel) Next() error {
	p.mu.Lock()
	switch p.screen {
	case ScreenParameterPick:
		selected := p.host.ListSelectedNodes()
		if len(selected) == 0 {
			err := p.failLocked(ErrNoSelection)
			p.mu.Unlock()
			return err
		}
		p.nodes = lo.Map(selected, func(n sweep.Node, _ int) int { return n.ID })
		p.values.PruneNodes(p.nodes)
		p.values.PruneParams(p.selectedParams)
		p.seedDefaultsLocked(selected)
		p.screen = ScreenValueConfiguration

	case ScreenValueConfiguration:
		if err := sweep.CheckCount(sweep.Count(p.values), p.maxCombinations); err != nil {
			err = p.failLocked(err)
			p.mu.Unlock()
			return err
		}
		p.screen = ScreenConfirmation

	default:
		s := p.screen
		p.mu.Unlock()
		return wrongScreen("next", s)
	}
	p.errMsg = ""
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	return nil
}

// seedDefaultsLocked gives every selected, sweepable widget on nodes its
// default candidates unless it already has an entry.
func (p *Panel) seedDefaultsLocked(nodes []sweep.Node) {
	for _, n := range nodes {
		for _, w := range n.Widgets {
			if !lo.Contains(p.selectedParams, w.Name) || p.values.Has(n.ID, w.Name) {
				continue
			}
			kind, ok := sweep.KindOf(w.Type)
			if !ok {
				continue
			}
			if kind == sweep.KindNumeric {
				p.ranges[sweep.ParamKey{NodeID: n.ID, ParamName: w.Name}] = sweep.NumericDefaults(w.Options)
			}
			p.values.SetValues(n.ID, w.Name, sweep.DefaultValues(kind, w.Options))
		}
	}
}

// Previous steps back. Leaving value configuration drops the values of
// nodes the host no longer has selected. Leaving the result gallery returns
// to confirmation with the configured values intact.
func (p *Panel) Previous() error {
	p.mu.Lock()
	switch p.screen {
	case ScreenValueConfiguration:
		selected := lo.Map(p.host.ListSelectedNodes(), func(n sweep.Node, _ int) int { return n.ID })
		p.values.PruneNodes(selected)
		p.nodes = nil
		p.screen = ScreenParameterPick
	case ScreenConfirmation:
		p.screen = ScreenValueConfiguration
	case ScreenResultGallery:
		p.clearSessionLocked()
		p.screen = ScreenConfirmation
	default:
		s := p.screen
		p.mu.Unlock()
		return wrongScreen("previous", s)
	}
	p.errMsg = ""
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	return nil
}

// CloseNode removes one node card on the value configuration screen along
// with its values. Closing the last card closes the panel.
func (p *Panel) CloseNode(nodeID int) error {
	p.mu.Lock()
	if p.screen != ScreenValueConfiguration {
		s := p.screen
		p.mu.Unlock()
		return wrongScreen("close node", s)
	}
	if !lo.Contains(p.nodes, nodeID) {
		p.mu.Unlock()
		return ErrUnknownNode
	}
	p.nodes = lo.Without(p.nodes, nodeID)
	p.values.RemoveNode(nodeID)
	for k := range p.ranges {
		if k.NodeID == nodeID {
			delete(p.ranges, k)
		}
	}
	if len(p.nodes) == 0 {
		p.mu.Unlock()
		p.Close()
		return nil
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	return nil
}

// Close tears the panel down from any screen: it stops the active session,
// clears all state and the saved snapshot, and starts a new task id.
func (p *Panel) Close() {
	p.mu.Lock()
	id := p.sessionID
	p.resetLocked()
	p.seq++
	snap := &panelSnapshot{seq: p.seq, deleted: true}
	p.mu.Unlock()

	p.poller.CancelSession(id)
	p.persist(snap)
	logf("panel closed")
}

// Shutdown stops background work for process exit. Unlike Close it keeps
// the panel state and the saved snapshot, so a later Restore picks up where
// the panel left off. The panel should not be used afterwards.
func (p *Panel) Shutdown() {
	p.mu.Lock()
	id := p.sessionID
	if p.runCancel != nil {
		p.runCancel()
		p.runCancel = nil
	}
	// Updates and dispatch callbacks for id are dropped from here on, so
	// nothing overwrites the saved snapshot.
	p.sessionID = ""
	if p.notifyTimer != nil {
		p.notifyTimer.Stop()
		p.notifyTimer = nil
	}
	p.mu.Unlock()

	p.poller.CancelSession(id)
	logf("panel shut down")
}

// SelectResult marks a finished result on the gallery. -1 clears the
// selection.
func (p *Panel) SelectResult(index int) error {
	p.mu.Lock()
	if p.screen != ScreenResultGallery {
		s := p.screen
		p.mu.Unlock()
		return wrongScreen("select result", s)
	}
	if index != -1 && (p.session == nil || index < 0 || index >= len(p.session.Jobs) || !p.session.Jobs[index].Ready()) {
		p.mu.Unlock()
		return ErrNoResult
	}
	p.selectedResult = index
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(snap)
	return nil
}

// Wait blocks until background dispatch runs have returned.
func (p *Panel) Wait() {
	p.wg.Wait()
}

func (p *Panel) track(eventType, taskID string, data map[string]any) {
	if p.assistant != nil {
		p.assistant.TrackEvent(eventType, taskID, data)
	}
}
