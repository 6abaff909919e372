package sweep

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/genlab/internal/monitoring"
)

var dispatchLogf = monitoring.Component("sweep")

// errNoJobID is wrapped in a DispatchError when the host returns no job id.
var errNoJobID = errors.New("host returned no job id")

// ApplyOverrides writes each setting of a onto the matching node's inputs in
// graph. Settings for nodes missing from the graph, or nodes without an
// inputs map, are logged and skipped. It returns how many settings applied.
func ApplyOverrides(graph *SerializedGraph, a Assignment) int {
	applied := 0
	for _, s := range a {
		node, ok := graph.Node(s.NodeID)
		if !ok {
			dispatchLogf("WARNING: node %d not found in execution graph, skipping %s", s.NodeID, s.ParamName)
			continue
		}
		if node.Inputs == nil {
			dispatchLogf("WARNING: node %d has no inputs, skipping %s", s.NodeID, s.ParamName)
			continue
		}
		node.Inputs[s.ParamName] = s.Value
		applied++
	}
	return applied
}

// Dispatcher submits assignments to the host queue one at a time.
type Dispatcher struct {
	queue    JobQueue
	clientID string

	// OnDispatched, when set, is called after each submission attempt with
	// the job index and its handle ("" on failure).
	OnDispatched func(index int, handle string)
}

// NewDispatcher creates a Dispatcher that submits on behalf of clientID.
func NewDispatcher(queue JobQueue, clientID string) *Dispatcher {
	return &Dispatcher{queue: queue, clientID: clientID}
}

// Dispatch snapshots the execution graph, applies the assignment and
// submits it. A submission without a job id returns "" and an error.
func (d *Dispatcher) Dispatch(ctx context.Context, a Assignment) (string, error) {
	graph, err := d.queue.SnapshotExecutionGraph(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot execution graph: %w", err)
	}
	ApplyOverrides(graph, a)

	id, err := d.queue.SubmitJob(ctx, graph, d.clientID)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if id == "" {
		return "", errNoJobID
	}
	return id, nil
}

// DispatchAll submits every job of the session strictly in order, writing
// each handle into its slot. Failed submissions leave the slot's handle
// empty and are returned as DispatchErrors; they never abort the pass.
//
// stillActive is checked before each submission. Once it reports false the
// remaining slots are left empty and ErrSessionInactive is returned along
// with any DispatchErrors collected so far.
func (d *Dispatcher) DispatchAll(ctx context.Context, s *Session, stillActive func() bool) (int, error) {
	return d.DispatchFrom(ctx, s, 0, stillActive)
}

// DispatchFrom is DispatchAll starting at job index from. Earlier slots are
// left as they are.
func (d *Dispatcher) DispatchFrom(ctx context.Context, s *Session, from int, stillActive func() bool) (int, error) {
	var errs []error
	dispatched := 0
	for i := max(from, 0); i < len(s.Jobs); i++ {
		if stillActive != nil && !stillActive() {
			dispatchLogf("session %s no longer active, stopping dispatch at job %d/%d", s.ID, i, len(s.Jobs))
			return dispatched, errors.Join(append(errs, ErrSessionInactive)...)
		}
		if err := ctx.Err(); err != nil {
			return dispatched, errors.Join(append(errs, err)...)
		}

		handle, err := d.Dispatch(ctx, s.Jobs[i].Assignment)
		if err != nil {
			dErr := &DispatchError{Index: i, Err: err}
			dispatchLogf("ERROR: %v", dErr)
			errs = append(errs, dErr)
		} else {
			dispatched++
		}
		s.Jobs[i].Handle = handle
		if d.OnDispatched != nil {
			d.OnDispatched(i, handle)
		}
	}
	return dispatched, errors.Join(errs...)
}
