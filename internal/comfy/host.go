package comfy

import (
	"context"

	"github.com/banshee-data/genlab/internal/sweep"
)

// Host joins the HTTP client and the live graph mirror into the single port
// the sweep engine depends on.
type Host struct {
	*Workspace
	client *Client
}

// NewHost creates a Host over ws and client.
func NewHost(ws *Workspace, client *Client) *Host {
	return &Host{Workspace: ws, client: client}
}

// Client returns the underlying HTTP client.
func (h *Host) Client() *Client { return h.client }

// SnapshotExecutionGraph derives a fresh execution graph from the workspace.
func (h *Host) SnapshotExecutionGraph(ctx context.Context) (*sweep.SerializedGraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.Workspace.ExecutionGraph()
}

// SubmitJob queues graph on the host.
func (h *Host) SubmitJob(ctx context.Context, graph *sweep.SerializedGraph, clientID string) (string, error) {
	return h.client.QueuePrompt(ctx, graph, clientID)
}

// GetJobOutput returns the view URL of the job's output image, if any.
func (h *Host) GetJobOutput(ctx context.Context, jobID string, outputNodeID int) (string, error) {
	return h.client.OutputURL(ctx, jobID, outputNodeID)
}

// ClearQueue empties the host queue.
func (h *Host) ClearQueue(ctx context.Context) error {
	return h.client.ClearQueue(ctx)
}

// InterruptActiveJob interrupts the executing job.
func (h *Host) InterruptActiveJob(ctx context.Context) error {
	return h.client.Interrupt(ctx)
}

var _ sweep.HostGraphPort = (*Host)(nil)
