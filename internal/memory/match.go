package memory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/search"
	"github.com/mcp-jive/jive/internal/store"
)

// successBoostWeight scales how much a proven fix outranks an untried one.
const successBoostWeight = 0.2

// Match is one ranked troubleshoot hit.
type Match struct {
	Item  *TroubleshootItem `json:"item"`
	Score float64           `json:"score"`
}

// MatchProblem finds troubleshoot entries for a problem description.
// Semantic similarity is boosted by the entry's historical success rate, and
// every returned entry's usage_count is incremented.
func (r *Repo) MatchProblem(ctx context.Context, ns, description string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > search.MaxLimit {
		limit = search.MaxLimit
	}

	// Over-fetch so the boost can reorder past the cut line.
	results, err := r.engine.Search(ctx, store.TableTroubleshootItems, ns, description,
		TextFields(TypeTroubleshoot), nil, search.Options{
			Mode:  search.ModeSemantic,
			Limit: limit * 2,
		})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(results))
	for _, res := range results {
		var item TroubleshootItem
		if err := fromDoc(res.Row.Doc, &item); err != nil {
			return nil, err
		}
		usage := item.UsageCount
		if usage < 1 {
			usage = 1
		}
		boost := 1 + successBoostWeight*(float64(item.SuccessCount)/float64(usage))
		matches = append(matches, Match{Item: &item, Score: res.Score * boost})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Item.Slug < matches[j].Item.Slug
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	now := time.Now().UTC()
	for _, m := range matches {
		m.Item.UsageCount++
		m.Item.UpdatedAt = now
		if err := r.persist(ctx, store.TableTroubleshootItems, ns, m.Item.Slug, m.Item, "", now); err != nil {
			// Losing a usage tick only skews future ranking slightly.
			r.logger.Warn("usage count update failed", zap.String("slug", m.Item.Slug), zap.Error(err))
		}
	}
	return matches, nil
}

// ReportSuccess records that a previously matched entry solved the problem.
func (r *Repo) ReportSuccess(ctx context.Context, ns, slug string) (*TroubleshootItem, error) {
	item, err := r.GetTroubleshoot(ctx, ns, slug)
	if err != nil {
		return nil, err
	}
	item.SuccessCount++
	if item.SuccessCount > item.UsageCount {
		item.UsageCount = item.SuccessCount
	}
	item.UpdatedAt = time.Now().UTC()
	if err := r.persist(ctx, store.TableTroubleshootItems, ns, slug, item, "", item.UpdatedAt); err != nil {
		return nil, err
	}
	return item, nil
}
