// Package assistant talks to the remote prompt assistant: generating text
// variants for free-text parameters and recording parameter-debug telemetry.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/genlab/internal/httputil"
	"github.com/banshee-data/genlab/internal/monitoring"
)

var logf = monitoring.Component("assistant")

// Telemetry event types.
const (
	EventParameterDebugStart = "parameter_debug_start"
	EventPromptGenerate      = "prompt_generate"
	EventPromptApply         = "prompt_apply"
	EventParameterDebugApply = "parameter_debug_apply"
)

// MessageType tags every telemetry event sent by the engine.
const MessageType = "parameter_debug"

// trackTimeout bounds a single telemetry delivery.
const trackTimeout = 10 * time.Second

// ErrNotConfigured is returned when no assistant URL is set.
var ErrNotConfigured = errors.New("assistant not configured")

// Event is one telemetry record.
type Event struct {
	EventType   string         `json:"event_type"`
	MessageType string         `json:"message_type"`
	MessageID   string         `json:"message_id"`
	Data        map[string]any `json:"data,omitempty"`
}

// Client provides HTTP operations for the assistant endpoints.
type Client struct {
	HTTPClient httputil.HTTPClient
	BaseURL    string
	APIKey     string

	wg sync.WaitGroup
}

// NewClient creates a new assistant client. An empty baseURL yields a client
// whose calls fail with ErrNotConfigured and whose telemetry is dropped.
func NewClient(httpClient httputil.HTTPClient, baseURL, apiKey string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewClient()
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
	}
}

func (c *Client) headers() map[string]string {
	if c.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.APIKey}
}

type variantsRequest struct {
	InputText string `json:"input_text"`
}

type variantsResponse struct {
	Data []string `json:"data"`
}

// GenerateTextVariants asks the assistant for alternative phrasings of text.
// Empty variants are dropped.
func (c *Client) GenerateTextVariants(ctx context.Context, text string) ([]string, error) {
	if c.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	var resp variantsResponse
	u := c.BaseURL + "/api/chat/generate_sd_prompts"
	if err := httputil.DoJSON(ctx, c.HTTPClient, http.MethodPost, u, variantsRequest{InputText: text}, &resp, c.headers()); err != nil {
		return nil, fmt.Errorf("generate text variants: %w", err)
	}
	out := make([]string, 0, len(resp.Data))
	for _, v := range resp.Data {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// TrackEvent sends a telemetry event in the background. messageID groups
// the events of one panel session; an empty id gets a fresh uuid. Delivery
// failures are logged and otherwise ignored.
func (c *Client) TrackEvent(eventType, messageID string, data map[string]any) {
	if c.BaseURL == "" {
		return
	}
	if messageID == "" {
		messageID = uuid.New().String()
	}
	ev := Event{
		EventType:   eventType,
		MessageType: MessageType,
		MessageID:   messageID,
		Data:        data,
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
		defer cancel()
		u := c.BaseURL + "/api/chat/track_event"
		if err := httputil.DoJSON(ctx, c.HTTPClient, http.MethodPost, u, ev, nil, c.headers()); err != nil {
			logf("WARNING: track event %s failed: %v", eventType, err)
		}
	}()
}

// Wait blocks until every pending telemetry delivery has finished.
func (c *Client) Wait() {
	c.wg.Wait()
}
