// Package memory holds the agent knowledge stores: Architecture items
// describing how to build things, and Troubleshoot items describing how to
// fix them. Items are addressed by slug, not UUID.
package memory

import (
	"regexp"
	"strings"
	"time"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

// Type discriminates the two knowledge stores.
type Type string

const (
	TypeArchitecture Type = "architecture"
	TypeTroubleshoot Type = "troubleshoot"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidSlug reports whether s is a well-formed kebab-case slug.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= 100 && slugPattern.MatchString(s)
}

// TableFor maps a memory type to its backing table.
func TableFor(t Type) (string, error) {
	switch t {
	case TypeArchitecture:
		return store.TableArchitectureItems, nil
	case TypeTroubleshoot:
		return store.TableTroubleshootItems, nil
	}
	return "", errs.Validation("memory_type", "must be architecture or troubleshoot")
}

// ArchitectureItem is reusable design guidance. children_slugs form a
// drill-down hierarchy; related_slugs are lateral references.
type ArchitectureItem struct {
	Slug           string    `json:"unique_slug"`
	Title          string    `json:"title"`
	AIWhenToUse    []string  `json:"ai_when_to_use,omitempty"`
	AIRequirements string    `json:"ai_requirements,omitempty"`
	ChildrenSlugs  []string  `json:"children_slugs,omitempty"`
	RelatedSlugs   []string  `json:"related_slugs,omitempty"`
	LinkedEpicIDs  []string  `json:"linked_epic_ids,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks field constraints prior to persisting.
func (a *ArchitectureItem) Validate() error {
	if !ValidSlug(a.Slug) {
		return errs.Validation("unique_slug", "must match [a-z0-9-]+")
	}
	if strings.TrimSpace(a.Title) == "" {
		return errs.Validation("title", "must not be empty")
	}
	return nil
}

// EmbeddingText is the text the embedder sees for this item.
func (a *ArchitectureItem) EmbeddingText() string {
	return a.Title + "\n" + strings.Join(a.AIWhenToUse, "\n") + "\n" + a.AIRequirements
}

// TroubleshootItem is a known problem with its fix. ai_use_case holds the
// error signatures the matcher searches; usage and success counters feed the
// ranking boost.
type TroubleshootItem struct {
	Slug         string    `json:"unique_slug"`
	Title        string    `json:"title"`
	AIUseCase    string    `json:"ai_use_case,omitempty"`
	AISolutions  string    `json:"ai_solutions,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	UsageCount   int       `json:"usage_count"`
	SuccessCount int       `json:"success_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks field constraints prior to persisting.
func (t *TroubleshootItem) Validate() error {
	if !ValidSlug(t.Slug) {
		return errs.Validation("unique_slug", "must match [a-z0-9-]+")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errs.Validation("title", "must not be empty")
	}
	if t.SuccessCount > t.UsageCount {
		return errs.Validation("success_count", "cannot exceed usage_count")
	}
	return nil
}

// EmbeddingText is the text the embedder sees for this item.
func (t *TroubleshootItem) EmbeddingText() string {
	return t.Title + "\n" + t.AIUseCase
}

// TextFields are the document fields keyword search scans, per type. The
// first entry is the title and earns the title boost.
func TextFields(t Type) []string {
	if t == TypeTroubleshoot {
		return []string{"title", "ai_use_case", "ai_solutions", "keywords"}
	}
	return []string{"title", "ai_requirements", "ai_when_to_use", "keywords"}
}
