// Package mcpserver exposes the assistant as MCP tools over stdio, calling
// the engine in process.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/transitd/internal/assistant"
	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/learning"
	"github.com/fyrsmithlabs/transitd/internal/session"
)

const (
	defaultTopPatterns = 10
	maxTopPatterns     = 200
)

// Server is the MCP server.
type Server struct {
	mcp    *mcp.Server
	engine *assistant.Engine
	logger *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "transitd")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "transitd",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server backed by engine.
func NewServer(cfg *Config, engine *assistant.Engine) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if engine == nil {
		return nil, fmt.Errorf("assistant engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		engine: engine,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// Run serves on the stdio transport until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

type classifyInput struct {
	Text      string `json:"text" jsonschema:"required,User utterance to classify"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Optional session whose clarification count applies"`
}

type processTurnInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Conversation identifier ([a-zA-Z0-9_-], up to 128 chars)"`
	Text      string `json:"text" jsonschema:"required,User message"`
}

type topPatternsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum patterns to return (default: 10)"`
}

type topPatternsOutput struct {
	Patterns []learning.Pattern `json:"patterns"`
	Total    int                `json:"total"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "classify_utterance",
		Description: "Classify a Colombian traffic-law question into a topic with a confidence, without changing any conversation. Reports off-topic and social messages and whether a clarification question is needed.",
	}, s.handleClassify)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "process_turn",
		Description: "Process one user message of a conversation: learns from feedback on the previous answer, resolves pending clarifications, carries the topic over to short follow-ups and returns the best knowledge entries or a clarification question.",
	}, s.handleProcessTurn)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "top_patterns",
		Description: "List the most frequent learned utterance-to-topic patterns.",
	}, s.handleTopPatterns)
}

func (s *Server) handleClassify(ctx context.Context, _ *mcp.CallToolRequest, args classifyInput) (*mcp.CallToolResult, classifier.Result, error) {
	if args.Text == "" {
		return nil, classifier.Result{}, fmt.Errorf("text is required")
	}
	var conv *session.State
	if args.SessionID != "" {
		st, err := s.engine.Session(ctx, args.SessionID)
		if err != nil {
			return nil, classifier.Result{}, err
		}
		conv = st
	}
	return nil, s.engine.Classifier().Classify(ctx, args.Text, conv), nil
}

// handleProcessTurn returns untyped output: turn results carry timestamps and
// durations, which have no faithful output schema. top_patterns does the same.
func (s *Server) handleProcessTurn(ctx context.Context, _ *mcp.CallToolRequest, args processTurnInput) (*mcp.CallToolResult, any, error) {
	if args.Text == "" {
		return nil, nil, fmt.Errorf("text is required")
	}
	out, err := s.engine.HandleTurn(ctx, assistant.Turn{SessionID: args.SessionID, Text: args.Text})
	if err != nil {
		s.logger.Warn("process_turn failed", zap.String("session_id", args.SessionID), zap.Error(err))
		return nil, nil, err
	}
	return nil, out, nil
}

func (s *Server) handleTopPatterns(_ context.Context, _ *mcp.CallToolRequest, args topPatternsInput) (*mcp.CallToolResult, any, error) {
	limit := args.Limit
	switch {
	case limit <= 0:
		limit = defaultTopPatterns
	case limit > maxTopPatterns:
		limit = maxTopPatterns
	}
	store := s.engine.Learner().Store()
	patterns := store.Top(limit)
	if patterns == nil {
		patterns = []learning.Pattern{}
	}
	return nil, topPatternsOutput{Patterns: patterns, Total: store.Len()}, nil
}
