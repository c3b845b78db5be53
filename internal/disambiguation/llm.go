package disambiguation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/transitd/internal/config"
)

const defaultOpenAIModel = "gpt-4o-mini"

// interpretPrompt asks the model to map the reply onto one option.
const interpretPrompt = `Eres el asistente de un servicio de orientación sobre normas de tránsito en Colombia.
Le hiciste al usuario esta pregunta de aclaración:

%s

Opciones válidas (valor: descripción):
%s
Respuesta del usuario: %q

Decide a cuál opción se refiere el usuario. Responde SOLO con un objeto JSON:
{"is_valid": true|false, "value": "<valor de la opción o vacío>", "confidence": <0.0 a 1.0>}`

// LLMCollaborator interprets replies with a chat model through langchaingo.
type LLMCollaborator struct {
	model llms.Model
}

var _ Collaborator = (*LLMCollaborator)(nil)

// NewLLMCollaborator wraps an existing model.
func NewLLMCollaborator(model llms.Model) *LLMCollaborator {
	return &LLMCollaborator{model: model}
}

// NewOpenAICollaborator builds a collaborator for any OpenAI compatible
// endpoint.
func NewOpenAICollaborator(cfg config.DisambiguationConfig) (*LLMCollaborator, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("disambiguation.api_key required for provider %q", cfg.Provider)
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Endpoint))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return NewLLMCollaborator(llm), nil
}

// Interpret implements Collaborator.
func (l *LLMCollaborator) Interpret(ctx context.Context, req Request) (Interpretation, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, l.model, buildPrompt(req),
		llms.WithTemperature(0),
		llms.WithMaxTokens(128),
	)
	if err != nil {
		return Interpretation{}, fmt.Errorf("%w: %w", ErrCollaboratorFailed, err)
	}
	return parseCompletion(completion)
}

func buildPrompt(req Request) string {
	var b strings.Builder
	for _, o := range req.Expected {
		fmt.Fprintf(&b, "- %s: %s\n", o.Value, o.Label)
	}
	return fmt.Sprintf(interpretPrompt, req.Question, b.String(), req.Reply)
}

// parseCompletion extracts the JSON object from a model answer, which may
// wrap it in prose or a code fence.
func parseCompletion(completion string) (Interpretation, error) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end < start {
		return Interpretation{}, fmt.Errorf("%w: no JSON object in completion", ErrCollaboratorFailed)
	}
	var in Interpretation
	if err := json.Unmarshal([]byte(completion[start:end+1]), &in); err != nil {
		return Interpretation{}, fmt.Errorf("%w: decoding completion: %w", ErrCollaboratorFailed, err)
	}
	return in, nil
}

// NewCollaborator builds the collaborator cfg.Provider names. The "local"
// provider (or an empty one) returns nil: only heuristics are used.
func NewCollaborator(cfg config.DisambiguationConfig) (Collaborator, error) {
	switch cfg.Provider {
	case "", "local":
		return nil, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("disambiguation.endpoint required for provider %q", cfg.Provider)
		}
		return NewHTTPCollaborator(cfg.Endpoint, cfg.APIKey.Value(), cfg.Timeout.Duration()), nil
	case "openai":
		c, err := NewOpenAICollaborator(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown disambiguation provider %q", cfg.Provider)
	}
}
