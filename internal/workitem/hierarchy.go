package workitem

import (
	"context"
	"sort"
	"time"

	"github.com/mcp-jive/jive/internal/errs"
	"github.com/mcp-jive/jive/internal/store"
)

// Node is a work item with its resolved children, depth-first.
type Node struct {
	Item     *WorkItem `json:"item"`
	Children []*Node   `json:"children,omitempty"`
}

// maxAncestorDepth guards ancestor walks against corrupted parent chains.
const maxAncestorDepth = 64

// GetChildren returns the item's children; recursive descends up to
// maxDepth levels (0 = unbounded), preserving sibling order.
func (r *Repo) GetChildren(ctx context.Context, ns, id string, recursive bool, maxDepth int) ([]*Node, error) {
	if _, err := r.byID(ctx, ns, id); err != nil {
		return nil, err
	}
	depth := maxDepth
	if !recursive {
		depth = 1
	}
	return r.childNodes(ctx, ns, id, depth, 1)
}

func (r *Repo) childNodes(ctx context.Context, ns, id string, maxDepth, level int) ([]*Node, error) {
	children, err := r.siblings(ctx, ns, &id)
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(children))
	for _, child := range children {
		node := &Node{Item: child}
		if maxDepth == 0 || level < maxDepth {
			sub, err := r.childNodes(ctx, ns, child.ID, maxDepth, level+1)
			if err != nil {
				return nil, err
			}
			node.Children = sub
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// GetAncestors returns the chain from the root down to the item's parent.
func (r *Repo) GetAncestors(ctx context.Context, ns, id string) ([]*WorkItem, error) {
	item, err := r.byID(ctx, ns, id)
	if err != nil {
		return nil, err
	}

	var chain []*WorkItem
	seen := map[string]struct{}{item.ID: {}}
	current := item
	for current.ParentID != nil {
		if len(chain) >= maxAncestorDepth {
			return nil, errs.Newf(errs.CodeInternal, "ancestor chain exceeds %d levels for %s", maxAncestorDepth, id)
		}
		parent, err := r.byID(ctx, ns, *current.ParentID)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[parent.ID]; dup {
			return nil, errs.Newf(errs.CodeInternal, "ancestor chain revisits %s", parent.ID)
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}

	// Root first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Reorder moves an item to a new parent and/or position. Only affected
// siblings are renumbered.
func (r *Repo) Reorder(ctx context.Context, ns, id string, newParent *string, newIndex int) (*WorkItem, error) {
	mu := r.nsLock(ns)
	mu.Lock()
	defer mu.Unlock()

	item, err := r.byID(ctx, ns, id)
	if err != nil {
		return nil, err
	}
	// A nil newParent keeps the current parent (position-only move); an
	// empty string moves the item to the root.
	target := item.ParentID
	if newParent != nil {
		if *newParent == "" {
			target = nil
		} else {
			if *newParent == id {
				return nil, errs.Validation("new_parent_id", "item cannot be its own parent")
			}
			if _, err := r.byID(ctx, ns, *newParent); err != nil {
				return nil, errs.Validation("new_parent_id", "parent does not exist in namespace")
			}
			inSub, err := r.inSubtree(ctx, ns, id, *newParent)
			if err != nil {
				return nil, err
			}
			if inSub {
				return nil, errs.Validation("new_parent_id", "cannot move an item under its own descendant")
			}
			target = newParent
		}
	}

	item.ParentID = target
	siblings, err := r.siblings(ctx, ns, target)
	if err != nil {
		return nil, err
	}

	// Remove the moved item from its (possibly same) sibling list, then
	// splice it back at the requested index.
	filtered := siblings[:0]
	for _, s := range siblings {
		if s.ID != id {
			filtered = append(filtered, s)
		}
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(filtered) {
		newIndex = len(filtered)
	}
	ordered := make([]*WorkItem, 0, len(filtered)+1)
	ordered = append(ordered, filtered[:newIndex]...)
	ordered = append(ordered, item)
	ordered = append(ordered, filtered[newIndex:]...)

	now := time.Now().UTC()
	for i, s := range ordered {
		seq := i + 1
		if s.SequenceNumber == seq && s.OrderIndex == seq && s.ID != id {
			continue // untouched sibling
		}
		s.SequenceNumber = seq
		s.OrderIndex = seq
		s.UpdatedAt = now
		if err := r.persist(ctx, ns, s, false); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// CompactSequences renumbers every sibling group 1..n, closing gaps left by
// deletes. Called by the maintenance scheduler.
func (r *Repo) CompactSequences(ctx context.Context, ns string) (int, error) {
	mu := r.nsLock(ns)
	mu.Lock()
	defer mu.Unlock()

	rows, err := r.store.Scan(ctx, store.TableWorkItems, store.Filter{"namespace": ns}, store.ScanOptions{})
	if err != nil {
		return 0, err
	}
	byParent := make(map[string][]*WorkItem)
	for _, row := range rows {
		item, err := decodeItem(row)
		if err != nil {
			return 0, err
		}
		key := ""
		if item.ParentID != nil {
			key = *item.ParentID
		}
		byParent[key] = append(byParent[key], item)
	}

	changed := 0
	now := time.Now().UTC()
	for _, group := range byParent {
		sortSiblings(group)
		for i, item := range group {
			seq := i + 1
			if item.SequenceNumber == seq {
				continue
			}
			item.SequenceNumber = seq
			item.UpdatedAt = now
			if err := r.persist(ctx, ns, item, false); err != nil {
				return changed, err
			}
			changed++
		}
	}
	return changed, nil
}

// RollupProgress recomputes an item's progress as the weighted average of
// its children, weighted by effort_estimate (default 1).
func (r *Repo) RollupProgress(ctx context.Context, ns, id string) (float64, error) {
	item, err := r.byID(ctx, ns, id)
	if err != nil {
		return 0, err
	}
	children, err := r.siblings(ctx, ns, &id)
	if err != nil {
		return 0, err
	}
	if len(children) == 0 {
		return item.ProgressPercentage, nil
	}

	var weighted, total float64
	for _, child := range children {
		weight := 1.0
		if child.EffortEstimate != nil && *child.EffortEstimate > 0 {
			weight = *child.EffortEstimate
		}
		weighted += child.ProgressPercentage * weight
		total += weight
	}
	progress := weighted / total

	if progress != item.ProgressPercentage {
		item.ProgressPercentage = progress
		item.UpdatedAt = time.Now().UTC()
		if err := r.persist(ctx, ns, item, false); err != nil {
			return 0, err
		}
	}
	return progress, nil
}

// RollupAncestors rolls progress up the parent chain after a leaf change.
func (r *Repo) RollupAncestors(ctx context.Context, ns, id string) error {
	item, err := r.byID(ctx, ns, id)
	if err != nil {
		return err
	}
	depth := 0
	for item.ParentID != nil {
		if depth++; depth > maxAncestorDepth {
			return errs.Newf(errs.CodeInternal, "rollup chain exceeds %d levels", maxAncestorDepth)
		}
		parentID := *item.ParentID
		if _, err := r.RollupProgress(ctx, ns, parentID); err != nil {
			return err
		}
		item, err = r.byID(ctx, ns, parentID)
		if err != nil {
			return err
		}
	}
	return nil
}

// inSubtree reports whether candidate lies in the subtree rooted at rootID.
func (r *Repo) inSubtree(ctx context.Context, ns, rootID, candidate string) (bool, error) {
	ids, err := r.subtreeIDs(ctx, ns, rootID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == candidate && id != rootID {
			return true, nil
		}
	}
	return false, nil
}

// subtreeIDs returns rootID plus all descendant ids, children before parents
// so deletes can proceed leaf-first.
func (r *Repo) subtreeIDs(ctx context.Context, ns, rootID string) ([]string, error) {
	var out []string
	var walk func(id string, depth int) error
	walk = func(id string, depth int) error {
		if depth > maxAncestorDepth {
			return errs.Newf(errs.CodeInternal, "subtree exceeds %d levels", maxAncestorDepth)
		}
		children, err := r.siblings(ctx, ns, &id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := walk(child.ID, depth+1); err != nil {
				return err
			}
		}
		out = append(out, id)
		return nil
	}
	if err := walk(rootID, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func sortSiblings(items []*WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].OrderIndex != items[j].OrderIndex {
			return items[i].OrderIndex < items[j].OrderIndex
		}
		return items[i].SequenceNumber < items[j].SequenceNumber
	})
}
