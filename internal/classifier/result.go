package classifier

// Path records which step of the classifier decided a result.
type Path string

const (
	PathOffTopic      Path = "off_topic"
	PathSocial        Path = "social"
	PathSafety        Path = "safety"
	PathRules         Path = "rules"
	PathLearned       Path = "learned"
	PathFallback      Path = "fallback"
	PathCarryOver     Path = "carry_over"
	PathDisambiguated Path = "disambiguated"
)

// MaxCandidates bounds the topics offered in a clarification question.
const MaxCandidates = 3

// Candidate is a topic the rule scan scored above zero.
type Candidate struct {
	Topic string  `json:"topic"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Result is the classification of one utterance.
type Result struct {
	Topic              string  `json:"topic"`
	Confidence         float64 `json:"confidence"`
	IsOffTopic         bool    `json:"is_off_topic"`
	NeedsClarification bool    `json:"needs_clarification"`
	Path               Path    `json:"path"`
	// Candidates are the best scoring topics of the rule scan, winner first.
	Candidates  []Candidate `json:"candidates,omitempty"`
	CarriedOver bool        `json:"carried_over,omitempty"`
}

// Conversation is the session view the classifier needs.
type Conversation interface {
	// ClarificationCount is how many clarifications the session has asked.
	ClarificationCount() int
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
