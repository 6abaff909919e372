// Package httputil provides HTTP client abstractions for testability and the
// JSON request/response helpers shared by the host and assistant clients.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient abstracts HTTP operations for testability.
// Use *http.Client in production; MockHTTPClient for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultTimeout bounds a single request made through NewClient.
const DefaultTimeout = 30 * time.Second

// NewClient returns an *http.Client with DefaultTimeout.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// maxErrorBody caps how much of a failed response is quoted in StatusError.
const maxErrorBody = 512

// StatusError is returned by DoJSON when the server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// DoJSON sends in (when non-nil) as a JSON body to url and decodes a 2xx
// response into out (when non-nil). Extra headers are applied verbatim.
func DoJSON(ctx context.Context, c HTTPClient, method, url string, in, out interface{}, headers map[string]string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// MockHTTPClient provides a testable HTTP client implementation.
type MockHTTPClient struct {
	mu           sync.Mutex
	DoFunc       func(req *http.Request) (*http.Response, error)
	Requests     []*http.Request
	Bodies       []string
	Responses    []*MockResponse
	responseIdx  int
	DefaultError error
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response to be returned by subsequent requests.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddJSONResponse queues a 200 response whose body is v encoded as JSON.
func (m *MockHTTPClient) AddJSONResponse(v interface{}) *MockHTTPClient {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("httputil: mock response not encodable: %v", err))
	}
	return m.AddResponse(http.StatusOK, string(data))
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

// Do records the request (and its body) and returns the next queued response.
// Once the queue is exhausted it answers 200 with an empty JSON object.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		req.Body.Close()
		body = string(b)
		req.Body = io.NopCloser(bytes.NewReader(b))
	}

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.Bodies = append(m.Bodies, body)
	doFunc := m.DoFunc
	defaultErr := m.DefaultError
	var next *MockResponse
	if doFunc == nil && defaultErr == nil && m.responseIdx < len(m.Responses) {
		next = m.Responses[m.responseIdx]
		m.responseIdx++
	}
	m.mu.Unlock()

	if doFunc != nil {
		return doFunc(req)
	}
	if defaultErr != nil {
		return nil, defaultErr
	}
	if next == nil {
		next = &MockResponse{StatusCode: http.StatusOK, Body: "{}"}
	}
	if next.Error != nil {
		return nil, next.Error
	}
	return &http.Response{
		StatusCode: next.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(next.Body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return nil
	}
	return m.Requests[n]
}

// GetBody returns the body of the nth recorded request.
func (m *MockHTTPClient) GetBody(n int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Bodies) {
		return ""
	}
	return m.Bodies[n]
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
