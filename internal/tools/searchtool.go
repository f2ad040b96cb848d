package tools

import (
	"context"

	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
)

// workItemTextFields feed the keyword scorer; the first entry gets the
// title boost.
var workItemTextFields = []string{"title", "description", "acceptance_criteria", "tags"}

// SearchContent is jive_search_content: hybrid, semantic or keyword search
// over work items.
type SearchContent struct {
	engine *search.Engine
}

// NewSearchContent creates the tool.
func NewSearchContent(engine *search.Engine) *SearchContent {
	return &SearchContent{engine: engine}
}

func (t *SearchContent) Name() string { return "jive_search_content" }

func (t *SearchContent) Description() string {
	return "Search work items by meaning, keywords, or a blend of both."
}

func (t *SearchContent) Schema() map[string]any {
	return schemaObject(map[string]any{
		"query":       schemaStr("Search query text."),
		"namespace":   namespaceProp(),
		"search_type": schemaEnum("Scoring mode.", "semantic", "keyword", "hybrid"),
		"limit":       schemaInt("Maximum results, default 10, max 100."),
		"similarity_threshold": schemaNum("Drop results scoring below this value."),
		"item_type":   schemaEnum("Restrict to one item type.", "initiative", "epic", "feature", "story", "task"),
		"status":      schemaEnum("Restrict to one status.", "not_started", "in_progress", "completed", "blocked", "cancelled"),
	}, "query")
}

func (t *SearchContent) Handle(ctx context.Context, call *Call, args map[string]any) (any, error) {
	query, err := requireStr(args, "query")
	if err != nil {
		return nil, err
	}

	limit, err := limitArg(call, args, search.MaxLimit)
	if err != nil {
		return nil, err
	}

	filter := store.Filter{}
	if v := strArg(args, "item_type"); v != "" {
		filter["item_type"] = v
	}
	if v := strArg(args, "status"); v != "" {
		filter["status"] = v
	}

	mode := search.Mode(strArg(args, "search_type"))
	if mode == "" {
		mode = search.ModeHybrid
	}
	opts := search.Options{Mode: mode, Limit: limit}
	if f, ok := floatArg(args, "similarity_threshold"); ok {
		opts.SimilarityThreshold = f
	}
	results, err := t.engine.Search(ctx, store.TableWorkItems, call.Namespace, query,
		workItemTextFields, filter, opts)
	if err != nil {
		return nil, err
	}

	hits := make([]map[string]any, 0, len(results))
	for _, res := range results {
		hits = append(hits, map[string]any{
			"score":     res.Score,
			"work_item": res.Row.Doc,
		})
	}
	return map[string]any{
		"query":       query,
		"search_type": string(mode),
		"total":       len(hits),
		"results":     hits,
	}, nil
}
