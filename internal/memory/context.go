package memory

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mcp-jive/jive/internal/errs"
)

const (
	// maxContextDepth bounds the children walk for get_context.
	maxContextDepth = 3

	// summaryChars caps the body excerpt for non-root entries.
	summaryChars = 400

	// DefaultTokenBudget applies when the caller passes no budget.
	DefaultTokenBudget = 4000
)

// ContextSection is one entry of an assembled context document.
type ContextSection struct {
	Slug      string `json:"slug"`
	Title     string `json:"title"`
	Relation  string `json:"relation"` // root, child, related
	Depth     int    `json:"depth"`
	Body      string `json:"body"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ContextDoc is the token-budgeted result of GetContext.
type ContextDoc struct {
	Sections      []ContextSection `json:"sections"`
	TokenEstimate int              `json:"token_estimate"`
	Dropped       []string         `json:"dropped,omitempty"`
}

// EstimateTokens approximates token cost as ceil(chars/4).
func EstimateTokens(text string) int {
	n := len(text)
	return (n + 3) / 4
}

// GetContext assembles an architecture item with its children (transitive)
// and related items, then trims the document to the token budget by dropping
// the farthest entries first, related before children at the same depth.
func (r *Repo) GetContext(ctx context.Context, ns, slug string, tokenBudget int) (*ContextDoc, error) {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	root, err := r.GetArchitecture(ctx, ns, slug)
	if err != nil {
		return nil, err
	}

	sections := []ContextSection{{
		Slug:     root.Slug,
		Title:    root.Title,
		Relation: "root",
		Depth:    0,
		Body:     renderRoot(root),
	}}

	// Children breadth-first so depth reflects distance from the root.
	seen := map[string]struct{}{root.Slug: {}}
	type frontier struct {
		slug  string
		depth int
	}
	queue := make([]frontier, 0, len(root.ChildrenSlugs))
	for _, child := range root.ChildrenSlugs {
		queue = append(queue, frontier{child, 1})
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, dup := seen[next.slug]; dup || next.depth > maxContextDepth {
			continue
		}
		seen[next.slug] = struct{}{}
		child, err := r.GetArchitecture(ctx, ns, next.slug)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeNotFound {
				r.logger.Warn("context references missing child slug",
					zap.String("slug", next.slug), zap.String("root", slug))
				continue
			}
			return nil, err
		}
		sections = append(sections, ContextSection{
			Slug:     child.Slug,
			Title:    child.Title,
			Relation: "child",
			Depth:    next.depth,
			Body:     TruncateSentence(child.AIRequirements, summaryChars),
		})
		for _, grandchild := range child.ChildrenSlugs {
			queue = append(queue, frontier{grandchild, next.depth + 1})
		}
	}

	for _, relSlug := range root.RelatedSlugs {
		if _, dup := seen[relSlug]; dup {
			continue
		}
		seen[relSlug] = struct{}{}
		rel, err := r.GetArchitecture(ctx, ns, relSlug)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeNotFound {
				r.logger.Warn("context references missing related slug",
					zap.String("slug", relSlug), zap.String("root", slug))
				continue
			}
			return nil, err
		}
		sections = append(sections, ContextSection{
			Slug:     rel.Slug,
			Title:    rel.Title,
			Relation: "related",
			Depth:    1,
			Body:     TruncateSentence(rel.AIRequirements, summaryChars),
		})
	}

	doc := &ContextDoc{Sections: sections}
	doc.TokenEstimate = EstimateTokens(renderSections(doc.Sections))

	// Trim: drop the lowest-priority section until under budget. The root is
	// never dropped; as a last resort its body is truncated to fit.
	for doc.TokenEstimate > tokenBudget && len(doc.Sections) > 1 {
		victim := lowestPriority(doc.Sections)
		doc.Dropped = append(doc.Dropped, doc.Sections[victim].Slug)
		doc.Sections = append(doc.Sections[:victim], doc.Sections[victim+1:]...)
		doc.TokenEstimate = EstimateTokens(renderSections(doc.Sections))
	}
	if doc.TokenEstimate > tokenBudget {
		rootSec := &doc.Sections[0]
		overhead := EstimateTokens(renderSections(doc.Sections)) - EstimateTokens(rootSec.Body)
		allowed := (tokenBudget - overhead) * 4
		if allowed < 0 {
			allowed = 0
		}
		rootSec.Body = TruncateSentence(rootSec.Body, allowed)
		rootSec.Truncated = true
		doc.TokenEstimate = EstimateTokens(renderSections(doc.Sections))
	}
	return doc, nil
}

// Render returns the document as markdown.
func (d *ContextDoc) Render() string {
	return renderSections(d.Sections)
}

func renderRoot(item *ArchitectureItem) string {
	var b strings.Builder
	if len(item.AIWhenToUse) > 0 {
		b.WriteString("When to use:\n")
		for _, w := range item.AIWhenToUse {
			b.WriteString("- " + w + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(item.AIRequirements)
	return b.String()
}

func renderSections(sections []ContextSection) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch s.Relation {
		case "root":
			b.WriteString("# " + s.Title + "\n\n")
		default:
			b.WriteString("## " + s.Title + " (" + s.Relation + ")\n\n")
		}
		b.WriteString(s.Body)
	}
	return b.String()
}

// lowestPriority picks the section to drop: deepest first; at equal depth,
// related before child. The root (index 0) is never chosen.
func lowestPriority(sections []ContextSection) int {
	victim := 1
	for i := 2; i < len(sections); i++ {
		a, b := sections[i], sections[victim]
		if a.Depth != b.Depth {
			if a.Depth > b.Depth {
				victim = i
			}
			continue
		}
		if a.Relation == "related" && b.Relation != "related" {
			victim = i
		}
	}
	return victim
}

// TruncateSentence cuts text to at most maxChars, preferring a sentence
// boundary, then a word boundary.
func TruncateSentence(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	if maxChars <= 0 {
		return ""
	}
	// Back up to a rune boundary so the cut never splits a multibyte rune.
	end := maxChars
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	cut := text[:end]
	if i := strings.LastIndex(cut, ". "); i > maxChars/2 {
		return cut[:i+1]
	}
	if i := strings.LastIndexByte(cut, '\n'); i > maxChars/2 {
		return cut[:i]
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		return cut[:i]
	}
	return cut
}
