package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

// ImportMode controls what happens when the imported slug already exists.
type ImportMode string

const (
	// ImportMerge overwrites the existing item with the imported document.
	ImportMerge ImportMode = "merge"
	// ImportSkipExisting leaves the existing item untouched.
	ImportSkipExisting ImportMode = "skip_existing"
)

// ImportResult reports what Import did with one document.
type ImportResult struct {
	Slug     string   `json:"slug"`
	Created  bool     `json:"created"`
	Updated  bool     `json:"updated"`
	Skipped  bool     `json:"skipped"`
	Warnings []string `json:"warnings,omitempty"`
}

// archFront is the YAML front-matter of an exported architecture item. The
// body carries ai_requirements.
type archFront struct {
	Slug          string    `yaml:"slug"`
	Title         string    `yaml:"title"`
	AIWhenToUse   []string  `yaml:"ai_when_to_use,omitempty"`
	ChildrenSlugs []string  `yaml:"children_slugs,omitempty"`
	RelatedSlugs  []string  `yaml:"related_slugs,omitempty"`
	LinkedEpicIDs []string  `yaml:"linked_epic_ids,omitempty"`
	Keywords      []string  `yaml:"keywords,omitempty"`
	Tags          []string  `yaml:"tags,omitempty"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// troubleFront is the YAML front-matter of an exported troubleshoot item.
// The body carries ai_solutions.
type troubleFront struct {
	Slug         string    `yaml:"slug"`
	Title        string    `yaml:"title"`
	AIUseCase    string    `yaml:"ai_use_case,omitempty"`
	Keywords     []string  `yaml:"keywords,omitempty"`
	Tags         []string  `yaml:"tags,omitempty"`
	UsageCount   int       `yaml:"usage_count"`
	SuccessCount int       `yaml:"success_count"`
	CreatedAt    time.Time `yaml:"created_at"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

var knownFrontKeys = map[string]struct{}{
	"slug": {}, "title": {}, "ai_when_to_use": {}, "ai_use_case": {},
	"children_slugs": {}, "related_slugs": {}, "linked_epic_ids": {},
	"keywords": {}, "tags": {}, "usage_count": {}, "success_count": {},
	"created_at": {}, "updated_at": {},
}

// Export renders one item as markdown with YAML front-matter.
func (r *Repo) Export(ctx context.Context, ns string, typ Type, slug string) (string, error) {
	switch typ {
	case TypeArchitecture:
		item, err := r.GetArchitecture(ctx, ns, slug)
		if err != nil {
			return "", err
		}
		front := archFront{
			Slug:          item.Slug,
			Title:         item.Title,
			AIWhenToUse:   item.AIWhenToUse,
			ChildrenSlugs: item.ChildrenSlugs,
			RelatedSlugs:  item.RelatedSlugs,
			LinkedEpicIDs: item.LinkedEpicIDs,
			Keywords:      item.Keywords,
			Tags:          item.Tags,
			CreatedAt:     item.CreatedAt,
			UpdatedAt:     item.UpdatedAt,
		}
		return renderMarkdown(front, item.AIRequirements)
	case TypeTroubleshoot:
		item, err := r.GetTroubleshoot(ctx, ns, slug)
		if err != nil {
			return "", err
		}
		front := troubleFront{
			Slug:         item.Slug,
			Title:        item.Title,
			AIUseCase:    item.AIUseCase,
			Keywords:     item.Keywords,
			Tags:         item.Tags,
			UsageCount:   item.UsageCount,
			SuccessCount: item.SuccessCount,
			CreatedAt:    item.CreatedAt,
			UpdatedAt:    item.UpdatedAt,
		}
		return renderMarkdown(front, item.AISolutions)
	}
	return "", errs.Validation("memory_type", "must be architecture or troubleshoot")
}

// ExportBatch renders every item of the type, keyed by slug.
func (r *Repo) ExportBatch(ctx context.Context, ns string, typ Type) (map[string]string, error) {
	var slugs []string
	switch typ {
	case TypeArchitecture:
		items, err := r.ListArchitecture(ctx, ns)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			slugs = append(slugs, item.Slug)
		}
	case TypeTroubleshoot:
		items, err := r.ListTroubleshoot(ctx, ns)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			slugs = append(slugs, item.Slug)
		}
	default:
		return nil, errs.Validation("memory_type", "must be architecture or troubleshoot")
	}

	out := make(map[string]string, len(slugs))
	for _, slug := range slugs {
		md, err := r.Export(ctx, ns, typ, slug)
		if err != nil {
			return nil, err
		}
		out[slug] = md
	}
	return out, nil
}

// Import parses a markdown document and upserts the item it describes.
func (r *Repo) Import(ctx context.Context, ns string, typ Type, markdown string, mode ImportMode) (*ImportResult, error) {
	if mode == "" {
		mode = ImportMerge
	}
	if mode != ImportMerge && mode != ImportSkipExisting {
		return nil, errs.Validation("mode", "must be merge or skip_existing")
	}

	frontRaw, body, err := splitFrontMatter(markdown)
	if err != nil {
		return nil, err
	}
	warnings := unknownKeyWarnings(frontRaw)
	for _, w := range warnings {
		r.logger.Warn("import front-matter", zap.String("warning", w))
	}

	switch typ {
	case TypeArchitecture:
		var front archFront
		if err := yaml.Unmarshal(frontRaw, &front); err != nil {
			return nil, errs.Validation("content", "malformed YAML front-matter: "+err.Error())
		}
		item := &ArchitectureItem{
			Slug:           front.Slug,
			Title:          front.Title,
			AIWhenToUse:    front.AIWhenToUse,
			AIRequirements: body,
			ChildrenSlugs:  front.ChildrenSlugs,
			RelatedSlugs:   front.RelatedSlugs,
			LinkedEpicIDs:  front.LinkedEpicIDs,
			Keywords:       front.Keywords,
			Tags:           front.Tags,
			CreatedAt:      front.CreatedAt,
			UpdatedAt:      front.UpdatedAt,
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		return r.importArchitecture(ctx, ns, item, mode, warnings)
	case TypeTroubleshoot:
		var front troubleFront
		if err := yaml.Unmarshal(frontRaw, &front); err != nil {
			return nil, errs.Validation("content", "malformed YAML front-matter: "+err.Error())
		}
		item := &TroubleshootItem{
			Slug:         front.Slug,
			Title:        front.Title,
			AIUseCase:    front.AIUseCase,
			AISolutions:  body,
			Keywords:     front.Keywords,
			Tags:         front.Tags,
			UsageCount:   front.UsageCount,
			SuccessCount: front.SuccessCount,
			CreatedAt:    front.CreatedAt,
			UpdatedAt:    front.UpdatedAt,
		}
		if err := item.Validate(); err != nil {
			return nil, err
		}
		return r.importTroubleshoot(ctx, ns, item, mode, warnings)
	}
	return nil, errs.Validation("memory_type", "must be architecture or troubleshoot")
}

// ImportBatch imports several documents, collecting per-document results.
// A document that fails validation is reported, not fatal.
func (r *Repo) ImportBatch(ctx context.Context, ns string, typ Type, docs []string, mode ImportMode) ([]*ImportResult, error) {
	results := make([]*ImportResult, 0, len(docs))
	for i, doc := range docs {
		res, err := r.Import(ctx, ns, typ, doc, mode)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeValidation {
				results = append(results, &ImportResult{
					Warnings: []string{fmt.Sprintf("document %d rejected: %v", i, err)},
				})
				continue
			}
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Repo) importArchitecture(ctx context.Context, ns string, item *ArchitectureItem, mode ImportMode, warnings []string) (*ImportResult, error) {
	existing, err := r.GetArchitecture(ctx, ns, item.Slug)
	if err != nil && errs.CodeOf(err) != errs.CodeNotFound {
		return nil, err
	}
	res := &ImportResult{Slug: item.Slug, Warnings: warnings}
	if existing != nil {
		if mode == ImportSkipExisting {
			res.Skipped = true
			return res, nil
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = existing.CreatedAt
		}
		res.Updated = true
	} else {
		res.Created = true
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if err := r.persist(ctx, store.TableArchitectureItems, ns, item.Slug, item, item.EmbeddingText(), item.UpdatedAt); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repo) importTroubleshoot(ctx context.Context, ns string, item *TroubleshootItem, mode ImportMode, warnings []string) (*ImportResult, error) {
	existing, err := r.GetTroubleshoot(ctx, ns, item.Slug)
	if err != nil && errs.CodeOf(err) != errs.CodeNotFound {
		return nil, err
	}
	res := &ImportResult{Slug: item.Slug, Warnings: warnings}
	if existing != nil {
		if mode == ImportSkipExisting {
			res.Skipped = true
			return res, nil
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = existing.CreatedAt
		}
		res.Updated = true
	} else {
		res.Created = true
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	if err := r.persist(ctx, store.TableTroubleshootItems, ns, item.Slug, item, item.EmbeddingText(), item.UpdatedAt); err != nil {
		return nil, err
	}
	return res, nil
}

func renderMarkdown(front any, body string) (string, error) {
	data, err := yaml.Marshal(front)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(data)
	b.WriteString("---\n\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return b.String(), nil
}

// splitFrontMatter separates the leading YAML block from the body.
func splitFrontMatter(markdown string) (front []byte, body string, err error) {
	text := strings.TrimLeft(markdown, "\ufeff\n")
	if !strings.HasPrefix(text, "---\n") {
		return nil, "", errs.Validation("content", "missing YAML front-matter")
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, "", errs.Validation("content", "unterminated YAML front-matter")
	}
	front = []byte(rest[:end+1])
	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	return front, strings.TrimSuffix(body, "\n"), nil
}

// unknownKeyWarnings flags front-matter keys outside the documented set.
func unknownKeyWarnings(front []byte) []string {
	var raw map[string]any
	if err := yaml.Unmarshal(front, &raw); err != nil {
		return nil
	}
	var warnings []string
	for key := range raw {
		if _, ok := knownFrontKeys[key]; !ok {
			warnings = append(warnings, "ignoring unknown front-matter field: "+key)
		}
	}
	return warnings
}
