package retrieval

import (
	"math"
	"strings"

	"github.com/fyrsmithlabs/transitd/internal/classifier"
	"github.com/fyrsmithlabs/transitd/internal/config"
	"github.com/fyrsmithlabs/transitd/internal/knowledge"
	"github.com/fyrsmithlabs/transitd/internal/textutil"
)

// StageName tags which stage of the cascade produced a result.
type StageName string

const (
	StageIntent   StageName = "intent"
	StageSemantic StageName = "semantic"
	StageKeyword  StageName = "keyword"
)

// Query is an utterance prepared once for every stage.
type Query struct {
	Utterance   string
	Normalized  string
	Tokens      []string
	Significant []string
	Result      classifier.Result

	tokenSet map[string]struct{}
}

// NewQuery normalizes utterance for matching.
func NewQuery(utterance string, res classifier.Result) *Query {
	normalized := textutil.Normalize(utterance)
	tokens := textutil.Tokens(normalized)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return &Query{
		Utterance:   utterance,
		Normalized:  normalized,
		Tokens:      tokens,
		Significant: textutil.Significant(normalized),
		Result:      res,
		tokenSet:    set,
	}
}

// Has reports whether the normalized word or phrase occurs in the query.
func (q *Query) Has(word string) bool {
	if strings.Contains(word, " ") {
		return strings.Contains(" "+q.Normalized+" ", " "+word+" ")
	}
	_, ok := q.tokenSet[word]
	return ok
}

// Stage is one rule of the retrieval cascade. Entries whose exclusions
// match the query are removed before Score is called.
type Stage interface {
	Name() StageName
	// Acceptance is the minimum score an entry needs to be returned.
	Acceptance() float64
	// Candidates returns the entries the stage considers.
	Candidates(cat *knowledge.Catalogue, q *Query) []*knowledge.Entry
	Score(cat *knowledge.Catalogue, q *Query, e *knowledge.Entry) float64
}

// DefaultStages builds the intent, semantic and keyword stages from cfg.
func DefaultStages(cfg config.RetrievalConfig) []Stage {
	return []Stage{
		IntentStage{acceptance: cfg.IntentAcceptance},
		SemanticStage{acceptance: cfg.SemanticAcceptance},
		KeywordStage{acceptance: cfg.KeywordAcceptance, markerPenalty: cfg.MarkerPenalty},
	}
}

// Intent stage weights.
const (
	intentKeywordWeight  = 0.15
	intentQuestionWeight = 0.1
	intentCap            = 0.98
)

// IntentStage scores the entries indexed under the classified topic,
// starting from the classifier's confidence.
type IntentStage struct {
	acceptance float64
}

func (s IntentStage) Name() StageName     { return StageIntent }
func (s IntentStage) Acceptance() float64 { return s.acceptance }

func (s IntentStage) Candidates(cat *knowledge.Catalogue, q *Query) []*knowledge.Entry {
	if q.Result.IsOffTopic {
		return nil
	}
	return cat.ForTopic(q.Result.Topic)
}

func (s IntentStage) Score(_ *knowledge.Catalogue, q *Query, e *knowledge.Entry) float64 {
	keywords := 0
	for _, kw := range e.NormalizedKeywords() {
		if q.Has(kw) {
			keywords++
		}
	}
	questionWords := 0
	for _, w := range q.Significant {
		if inVariants(e.QuestionWords(), w) {
			questionWords++
		}
	}
	score := q.Result.Confidence + intentKeywordWeight*float64(keywords) + intentQuestionWeight*float64(questionWords)
	return math.Min(intentCap, score)
}

func inVariants(variants [][]string, w string) bool {
	for _, v := range variants {
		for _, vw := range v {
			if vw == w {
				return true
			}
		}
	}
	return false
}

// Semantic stage blend.
const (
	jaccardWeight = 0.4
	overlapWeight = 0.6
)

// SemanticStage compares the query's significant words with every
// question variant and keeps each entry's best variant.
type SemanticStage struct {
	acceptance float64
}

func (s SemanticStage) Name() StageName     { return StageSemantic }
func (s SemanticStage) Acceptance() float64 { return s.acceptance }

func (s SemanticStage) Candidates(cat *knowledge.Catalogue, _ *Query) []*knowledge.Entry {
	return cat.Entries()
}

func (s SemanticStage) Score(_ *knowledge.Catalogue, q *Query, e *knowledge.Entry) float64 {
	if len(q.Significant) == 0 {
		return 0
	}
	best := 0.0
	for _, variant := range e.QuestionWords() {
		score := jaccardWeight*textutil.Jaccard(q.Significant, variant) +
			overlapWeight*textutil.Overlap(q.Significant, variant)
		if score > best {
			best = score
		}
	}
	return best
}

// Keyword stage constants.
const (
	partialMatch      = 0.5
	partialMinLen     = 4
	keywordNormalizer = 6
)

// KeywordStage counts keyword hits. Entries of a topic with markers lose
// markerPenalty when no marker occurs in the query.
type KeywordStage struct {
	acceptance    float64
	markerPenalty float64
}

func (s KeywordStage) Name() StageName     { return StageKeyword }
func (s KeywordStage) Acceptance() float64 { return s.acceptance }

func (s KeywordStage) Candidates(cat *knowledge.Catalogue, _ *Query) []*knowledge.Entry {
	return cat.Entries()
}

func (s KeywordStage) Score(cat *knowledge.Catalogue, q *Query, e *knowledge.Entry) float64 {
	keywords := e.NormalizedKeywords()
	if len(keywords) == 0 {
		return 0
	}
	hits := 0.0
	for _, kw := range keywords {
		switch {
		case q.Has(kw):
			hits++
		case partiallyMatches(q.Tokens, kw):
			hits += partialMatch
		}
	}
	norm := len(keywords)
	if norm > keywordNormalizer {
		norm = keywordNormalizer
	}
	score := math.Min(1, hits/float64(norm))
	if markers := cat.Markers(e.Topic); len(markers) > 0 && !markers.Any(q.Tokens) {
		score -= s.markerPenalty
	}
	return math.Max(0, score)
}

// partiallyMatches reports whether a query word of at least partialMinLen
// characters and kw contain one another.
func partiallyMatches(tokens []string, kw string) bool {
	for _, t := range tokens {
		if len(t) < partialMinLen {
			continue
		}
		if strings.Contains(kw, t) || strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
