package httpapi

import "github.com/fyrsmithlabs/transitd/internal/learning"

// TurnRequest is the request body for POST /api/v1/turns.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Seq       int    `json:"seq,omitempty"`
}

// ClassifyRequest is the request body for POST /api/v1/classify. SessionID
// is optional; when set, the session's clarification count is honoured.
type ClassifyRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// PatternsResponse is the response body for GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []learning.Pattern `json:"patterns"`
	Total    int                `json:"total"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string            `json:"status"` // "ok" or "degraded"
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}
