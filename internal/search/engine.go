// Package search implements hybrid retrieval over the table store: vector
// similarity from the embedder combined with keyword token overlap.
package search

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/embedding"
	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

const (
	// Hybrid blend weights after min-max normalization.
	semanticWeight = 0.7
	keywordWeight  = 0.3

	// Extra boost when a query token appears in the title field.
	titleBoost = 0.2

	DefaultLimit = 10
	MaxLimit     = 100
)

// Options tune a single search call.
type Options struct {
	Mode Mode
	// Limit defaults to 10 and is clamped to [1,100] by the caller.
	Limit int
	// SimilarityThreshold drops results scoring below it.
	SimilarityThreshold float64
}

// Result is one ranked hit.
type Result struct {
	Row      store.Row
	Score    float64
	Semantic float64
	Keyword  float64
}

// Engine runs searches for both the work-item and memory repositories.
type Engine struct {
	store    store.Store
	embedder embedding.Embedder
	logger   *zap.Logger
}

// New creates a search engine.
func New(st store.Store, emb embedding.Embedder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: st, embedder: emb, logger: logger.Named("search")}
}

// Search runs the selected mode over one table. textFields names the
// document fields scanned for keyword matching; the first entry is treated
// as the title and earns the title boost.
func (e *Engine) Search(ctx context.Context, table, ns, query string, textFields []string, filter store.Filter, opts Options) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.Validation("query", "must not be empty")
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if filter == nil {
		filter = store.Filter{}
	}
	filter["namespace"] = ns

	var semantic, keyword map[string]Result
	var err error

	switch opts.Mode {
	case ModeSemantic:
		semantic, err = e.semantic(ctx, table, query, filter, limit)
	case ModeKeyword:
		keyword, err = e.keyword(ctx, table, query, textFields, filter)
	case ModeHybrid:
		semantic, err = e.semantic(ctx, table, query, filter, limit*3)
		if err == nil {
			keyword, err = e.keyword(ctx, table, query, textFields, filter)
		}
	default:
		return nil, errs.Validation("search_type", "must be semantic, keyword, or hybrid")
	}
	if err != nil {
		return nil, err
	}

	results := combine(opts.Mode, semantic, keyword)

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Row.UpdatedAt.Equal(results[j].Row.UpdatedAt) {
			return results[i].Row.UpdatedAt.After(results[j].Row.UpdatedAt)
		}
		return results[i].Row.ID < results[j].Row.ID
	})

	out := results[:0]
	for _, r := range results {
		if r.Score < opts.SimilarityThreshold {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (e *Engine) semantic(ctx context.Context, table, query string, filter store.Filter, k int) (map[string]Result, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if embedding.IsZero(vec) {
		return map[string]Result{}, nil
	}
	matches, err := e.store.VectorSearch(ctx, table, vec, filter, k)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Result, len(matches))
	for _, m := range matches {
		score := 1 / (1 + m.Distance)
		out[m.Row.ID] = Result{Row: m.Row, Score: score, Semantic: score}
	}
	return out, nil
}

func (e *Engine) keyword(ctx context.Context, table, query string, textFields []string, filter store.Filter) (map[string]Result, error) {
	rows, err := e.store.Scan(ctx, table, filter, store.ScanOptions{})
	if err != nil {
		return nil, err
	}

	queryTokens := embedding.Tokenize(query)
	if len(queryTokens) == 0 {
		return map[string]Result{}, nil
	}
	queryLower := strings.ToLower(query)

	out := make(map[string]Result)
	for _, row := range rows {
		score := keywordScore(row, queryTokens, queryLower, textFields)
		if score <= 0 {
			continue
		}
		out[row.ID] = Result{Row: row, Score: score, Keyword: score}
	}
	return out, nil
}

// keywordScore is the Jaccard overlap of query tokens with the document's
// tokens, plus a boost for matches in the title (first text field).
func keywordScore(row store.Row, queryTokens []string, queryLower string, textFields []string) float64 {
	docTokens := make(map[string]struct{})
	var title string
	for i, field := range textFields {
		text := fieldText(row.Doc[field])
		if i == 0 {
			title = strings.ToLower(text)
		}
		for _, tok := range embedding.Tokenize(text) {
			docTokens[tok] = struct{}{}
		}
	}
	if len(docTokens) == 0 {
		return 0
	}

	querySet := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = struct{}{}
	}

	intersection := 0
	for t := range querySet {
		if _, ok := docTokens[t]; ok {
			intersection++
		}
	}
	union := len(docTokens) + len(querySet) - intersection
	if union == 0 {
		return 0
	}
	score := float64(intersection) / float64(union)

	// Substring fallback catches partial token matches ("auth" in
	// "authentication") that exact-token Jaccard misses.
	if score == 0 && title != "" && len(queryLower) >= 3 && strings.Contains(title, queryLower) {
		score = 0.1
	}

	if title != "" {
		for t := range querySet {
			if strings.Contains(title, t) {
				score += titleBoost
				break
			}
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

func fieldText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

// combine unions the candidate sets, dedupes by primary key keeping the max
// per-mode score, and blends 0.7 semantic + 0.3 keyword after min-max
// normalization within the result set.
func combine(mode Mode, semantic, keyword map[string]Result) []Result {
	if mode == ModeSemantic {
		return values(semantic)
	}
	if mode == ModeKeyword {
		return values(keyword)
	}

	merged := make(map[string]Result, len(semantic)+len(keyword))
	for id, r := range semantic {
		merged[id] = r
	}
	for id, r := range keyword {
		if prev, ok := merged[id]; ok {
			prev.Keyword = r.Keyword
			merged[id] = prev
		} else {
			merged[id] = r
		}
	}

	semMin, semMax := bounds(merged, func(r Result) float64 { return r.Semantic })
	keyMin, keyMax := bounds(merged, func(r Result) float64 { return r.Keyword })

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		r.Score = semanticWeight*minMax(r.Semantic, semMin, semMax) +
			keywordWeight*minMax(r.Keyword, keyMin, keyMax)
		out = append(out, r)
	}
	return out
}

func values(m map[string]Result) []Result {
	out := make([]Result, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	return out
}

func bounds(m map[string]Result, get func(Result) float64) (lo, hi float64) {
	first := true
	for _, r := range m {
		v := get(r)
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func minMax(v, lo, hi float64) float64 {
	if hi == lo {
		if v > 0 {
			return 1
		}
		return 0
	}
	return (v - lo) / (hi - lo)
}
