package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/transitd/internal/assistant"
	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/httpapi"
)

// client talks to a transitd HTTP server.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// statusError carries a non-2xx response.
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

func (c *client) Turn(ctx context.Context, sessionID, text string) (*assistant.TurnResult, error) {
	var out assistant.TurnResult
	err := c.do(ctx, http.MethodPost, "/api/v1/turns", httpapi.TurnRequest{SessionID: sessionID, Text: text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Classify(ctx context.Context, sessionID, text string) (*classifier.Result, error) {
	var out classifier.Result
	err := c.do(ctx, http.MethodPost, "/api/v1/classify", httpapi.ClassifyRequest{SessionID: sessionID, Text: text}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Patterns(ctx context.Context, limit int) (*httpapi.PatternsResponse, error) {
	var out httpapi.PatternsResponse
	path := "/api/v1/patterns?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Health returns the health report. A degraded server answers 503 with a
// report body, which is returned together with the status error.
func (c *client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	if err != nil && out.Status == "" {
		return nil, err
	}
	return &out, err
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		serr := &statusError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var echoErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &echoErr) == nil && echoErr.Message != "" {
			serr.Message = echoErr.Message
		}
		if out != nil {
			// health reports still carry a body worth decoding
			_ = json.Unmarshal(data, out)
		}
		return serr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
