// Package comfy adapts a ComfyUI-style host to the sweep engine: an HTTP
// client for the host's queue and history endpoints, and an in-memory mirror
// of the editor's live graph kept current by the browser bridge.
package comfy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/genlab/internal/httputil"
	"github.com/banshee-data/genlab/internal/monitoring"
	"github.com/banshee-data/genlab/internal/sweep"
)

var logf = monitoring.Component("comfy")

// Client provides HTTP operations for the host's execution endpoints.
type Client struct {
	HTTPClient httputil.HTTPClient
	BaseURL    string
}

// NewClient creates a new host client.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewClient()
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type promptRequest struct {
	Prompt    map[string]*sweep.PromptNode `json:"prompt"`
	ClientID  string                       `json:"client_id,omitempty"`
	ExtraData *extraData                   `json:"extra_data,omitempty"`
}

type extraData struct {
	ExtraPageInfo struct {
		Workflow any `json:"workflow"`
	} `json:"extra_pageinfo"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// QueuePrompt submits graph to the host queue and returns the prompt id. The
// host may accept a prompt without returning an id; that yields "" and no
// error.
func (c *Client) QueuePrompt(ctx context.Context, graph *sweep.SerializedGraph, clientID string) (string, error) {
	req := promptRequest{Prompt: graph.Prompt, ClientID: clientID}
	if len(graph.Workflow) > 0 {
		req.ExtraData = &extraData{}
		req.ExtraData.ExtraPageInfo.Workflow = graph.Workflow
	}

	var resp promptResponse
	if err := httputil.DoJSON(ctx, c.HTTPClient, http.MethodPost, c.BaseURL+"/prompt", req, &resp, nil); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		logf("WARNING: prompt %q queued with node errors: %v", resp.PromptID, resp.NodeErrors)
	}
	return resp.PromptID, nil
}

// OutputImage is one image recorded in a job's history.
type OutputImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is the output recorded for one node of a finished job.
type NodeOutput struct {
	Images []OutputImage `json:"images"`
}

// HistoryEntry is the history record of one job.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// History returns the history entry for promptID. A job that has not
// finished has no entry and reports false.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	var resp map[string]*HistoryEntry
	u := c.BaseURL + "/history/" + url.PathEscape(promptID)
	if err := httputil.DoJSON(ctx, c.HTTPClient, http.MethodGet, u, nil, &resp, nil); err != nil {
		return nil, false, fmt.Errorf("fetch history %s: %w", promptID, err)
	}
	entry, ok := resp[promptID]
	if !ok || entry == nil {
		return nil, false, nil
	}
	return entry, true, nil
}

// OutputURL returns the view URL of the first image produced by
// outputNodeID for promptID, or "" while none exists.
func (c *Client) OutputURL(ctx context.Context, promptID string, outputNodeID int) (string, error) {
	entry, ok, err := c.History(ctx, promptID)
	if err != nil || !ok {
		return "", err
	}
	out, ok := entry.Outputs[strconv.Itoa(outputNodeID)]
	if !ok || len(out.Images) == 0 {
		return "", nil
	}
	return c.ViewURL(out.Images[0]), nil
}

// ViewURL returns the URL the host serves img from.
func (c *Client) ViewURL(img OutputImage) string {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)
	return c.BaseURL + "/view?" + q.Encode()
}

// ClearQueue removes every pending prompt from the host queue.
func (c *Client) ClearQueue(ctx context.Context) error {
	body := map[string]bool{"clear": true}
	if err := httputil.DoJSON(ctx, c.HTTPClient, http.MethodPost, c.BaseURL+"/queue", body, nil, nil); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	return nil
}

// Interrupt stops the prompt the host is executing.
func (c *Client) Interrupt(ctx context.Context) error {
	if err := httputil.DoJSON(ctx, c.HTTPClient, http.MethodPost, c.BaseURL+"/interrupt", nil, nil, nil); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	return nil
}
