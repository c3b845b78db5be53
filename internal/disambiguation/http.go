package disambiguation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes bounds how much of a collaborator response is read.
const maxResponseBytes = 64 << 10

// HTTPCollaborator posts the Request as JSON and expects an Interpretation
// as JSON in return.
type HTTPCollaborator struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

var _ Collaborator = (*HTTPCollaborator)(nil)

// NewHTTPCollaborator creates a collaborator for endpoint. apiKey, when set,
// is sent as a bearer token.
func NewHTTPCollaborator(endpoint, apiKey string, timeout time.Duration) *HTTPCollaborator {
	return &HTTPCollaborator{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Interpret implements Collaborator.
func (h *HTTPCollaborator) Interpret(ctx context.Context, req Request) (Interpretation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Interpretation{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return Interpretation{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return Interpretation{}, fmt.Errorf("%w: %w", ErrCollaboratorFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Interpretation{}, fmt.Errorf("%w: reading response: %w", ErrCollaboratorFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Interpretation{}, fmt.Errorf("%w: status %d: %s", ErrCollaboratorFailed, resp.StatusCode, bytes.TrimSpace(data))
	}

	var in Interpretation
	if err := json.Unmarshal(data, &in); err != nil {
		return Interpretation{}, fmt.Errorf("%w: decoding response: %w", ErrCollaboratorFailed, err)
	}
	return in, nil
}
