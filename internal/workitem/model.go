// Package workitem holds the work-item data model and its repository: CRUD,
// hierarchy traversal, the dependency DAG with cycle detection, reorder, and
// progress rollup.
package workitem

import (
	"strings"
	"time"

	"github.com/mcp-jive/jive/internal/errs"
)

// ItemType is the hierarchy level of a work item.
type ItemType string

const (
	TypeInitiative ItemType = "initiative"
	TypeEpic       ItemType = "epic"
	TypeFeature    ItemType = "feature"
	TypeStory      ItemType = "story"
	TypeTask       ItemType = "task"
)

// typeRank orders the hierarchy chain initiative > epic > feature > story > task.
var typeRank = map[ItemType]int{
	TypeInitiative: 0,
	TypeEpic:       1,
	TypeFeature:    2,
	TypeStory:      3,
	TypeTask:       4,
}

// Status is the lifecycle state of a work item.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// Priority levels.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Complexity levels.
type Complexity string

const (
	ComplexityTrivial     Complexity = "trivial"
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// DependencyType classifies a dependency edge.
type DependencyType string

const (
	DepBlocks    DependencyType = "blocks"
	DepBlockedBy DependencyType = "blocked_by"
	DepRelated   DependencyType = "related"
	DepSubtaskOf DependencyType = "subtask_of"
)

const (
	MaxTitleLen       = 200
	MaxDescriptionLen = 10000
)

// WorkItem is the primary entity. Field names match the wire contract.
type WorkItem struct {
	ID                 string     `json:"id"`
	ItemType           ItemType   `json:"item_type"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Status             Status     `json:"status"`
	Priority           Priority   `json:"priority"`
	ParentID           *string    `json:"parent_id,omitempty"`
	SequenceNumber     int        `json:"sequence_number"`
	OrderIndex         int        `json:"order_index"`
	ProgressPercentage float64    `json:"progress_percentage"`
	Complexity         Complexity `json:"complexity,omitempty"`
	ContextTags        []string   `json:"context_tags,omitempty"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	EffortEstimate     *float64   `json:"effort_estimate,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	Assignee           string     `json:"assignee,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Dependency is one edge in the dependency graph.
type Dependency struct {
	ID             string         `json:"id"`
	SourceID       string         `json:"source_id"`
	TargetID       string         `json:"target_id"`
	DependencyType DependencyType `json:"dependency_type"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Milestone groups work items toward a dated target.
type Milestone struct {
	ID                    string    `json:"id"`
	Title                 string    `json:"title"`
	Description           string    `json:"description,omitempty"`
	MilestoneType         string    `json:"milestone_type,omitempty"`
	TargetDate            time.Time `json:"target_date"`
	AssociatedWorkItemIDs []string  `json:"associated_work_item_ids,omitempty"`
	SuccessCriteria       []string  `json:"success_criteria,omitempty"`
	Priority              Priority  `json:"priority,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// ValidItemType reports whether t is a known item type.
func ValidItemType(t ItemType) bool {
	_, ok := typeRank[t]
	return ok
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ValidComplexity reports whether c is a known complexity.
func ValidComplexity(c Complexity) bool {
	switch c {
	case ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityVeryComplex:
		return true
	}
	return false
}

// ValidDependencyType reports whether d is a known dependency type.
func ValidDependencyType(d DependencyType) bool {
	switch d {
	case DepBlocks, DepBlockedBy, DepRelated, DepSubtaskOf:
		return true
	}
	return false
}

// TypeOrderOK reports whether a child type may sit under a parent type:
// the child must be at or below the parent in the hierarchy chain.
func TypeOrderOK(parent, child ItemType) bool {
	return typeRank[child] >= typeRank[parent]
}

// Validate checks field constraints on a work item prior to persisting.
func (w *WorkItem) Validate() error {
	title := strings.TrimSpace(w.Title)
	if title == "" {
		return errs.Validation("title", "must not be empty")
	}
	if len([]rune(w.Title)) > MaxTitleLen {
		return errs.Validation("title", "exceeds 200 characters")
	}
	if len([]rune(w.Description)) > MaxDescriptionLen {
		return errs.Validation("description", "exceeds 10000 characters")
	}
	if !ValidItemType(w.ItemType) {
		return errs.Validation("item_type", "must be one of initiative, epic, feature, story, task")
	}
	if !ValidStatus(w.Status) {
		return errs.Validation("status", "must be one of not_started, in_progress, completed, blocked, cancelled")
	}
	if !ValidPriority(w.Priority) {
		return errs.Validation("priority", "must be one of low, medium, high, critical")
	}
	if w.Complexity != "" && !ValidComplexity(w.Complexity) {
		return errs.Validation("complexity", "must be one of trivial, simple, moderate, complex, very_complex")
	}
	if w.ProgressPercentage < 0 || w.ProgressPercentage > 100 {
		return errs.Validation("progress_percentage", "must be within [0,100]")
	}
	return nil
}

// EmbeddingText is the text the embedder sees for this item.
func (w *WorkItem) EmbeddingText() string {
	return w.Title + "\n" + w.Description
}
