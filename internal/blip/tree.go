package blip

import (
	"errors"
	"fmt"
	"log"
	"sort"
)

// ErrMalformedTree is returned by BuildTree when the flat rows do not
// describe exactly one root.
var ErrMalformedTree = errors.New("malformed blip tree")

// BuildTree links flat rows into a tree. Exactly one row must have an empty
// parent id; zero or several roots fail with ErrMalformedTree. A row whose
// parent id matches no other row is dropped with a logged warning so a
// partially-synced wave still loads. Children are ordered by timestamp.
func BuildTree(rows []Row) (*Blip, error) {
	nodes := make(map[string]*Blip, len(rows))
	for _, row := range rows {
		nodes[row.ID] = &Blip{
			ID:           row.ID,
			AuthorID:     row.AuthorID,
			Content:      row.Content,
			Timestamp:    row.Timestamp,
			Gadgets:      row.Gadgets,
			IsReadOnly:   row.IsReadOnly,
			LastEdited:   row.LastEdited,
			LastEditorID: row.LastEditorID,
			DeletedAt:    row.DeletedAt,
		}
	}

	var root *Blip
	rootCount := 0
	for _, row := range rows {
		node := nodes[row.ID]
		if row.ParentID == "" {
			rootCount++
			root = node
			continue
		}
		parent, ok := nodes[row.ParentID]
		if !ok {
			log.Printf("blip: dropping %s, parent %s not in row set", row.ID, row.ParentID)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	if rootCount != 1 {
		return nil, fmt.Errorf("%w: %d roots in %d rows", ErrMalformedTree, rootCount, len(rows))
	}

	sortChildren(root)
	return root, nil
}

func sortChildren(node *Blip) {
	sort.SliceStable(node.Children, func(i, j int) bool {
		return node.Children[i].Timestamp.Before(node.Children[j].Timestamp)
	})
	for _, child := range node.Children {
		sortChildren(child)
	}
}

// Flatten is the inverse of BuildTree: it emits one row per node with
// parent links restored. The wave id is stamped on every row.
func Flatten(root *Blip, waveID string) []Row {
	var rows []Row
	var walk func(node *Blip, parentID string)
	walk = func(node *Blip, parentID string) {
		rows = append(rows, Row{
			ID:           node.ID,
			WaveID:       waveID,
			ParentID:     parentID,
			AuthorID:     node.AuthorID,
			Content:      node.Content,
			Timestamp:    node.Timestamp,
			Gadgets:      node.Gadgets,
			IsReadOnly:   node.IsReadOnly,
			LastEdited:   node.LastEdited,
			LastEditorID: node.LastEditorID,
			DeletedAt:    node.DeletedAt,
		})
		for _, child := range node.Children {
			walk(child, node.ID)
		}
	}
	if root != nil {
		walk(root, "")
	}
	return rows
}

// InsertChild appends child as the last child of the node with parentID and
// returns the new root. When the parent is absent the original root is
// returned unchanged; callers treat "same root back" as not found.
func InsertChild(root *Blip, parentID string, child *Blip) *Blip {
	if root == nil {
		return nil
	}
	if root.ID == parentID {
		copied := root.clone()
		copied.Children = append(append([]*Blip(nil), root.Children...), child)
		return copied
	}
	for i, existing := range root.Children {
		if replaced := InsertChild(existing, parentID, child); replaced != existing {
			copied := root.clone()
			copied.Children = append([]*Blip(nil), root.Children...)
			copied.Children[i] = replaced
			return copied
		}
	}
	return root
}

// Mutate applies fn to the node with targetID, replacing it in the returned
// tree. Nodes off the path to the target are shared with the input. Same
// not-found semantics as InsertChild.
func Mutate(root *Blip, targetID string, fn func(Blip) Blip) *Blip {
	if root == nil {
		return nil
	}
	if root.ID == targetID {
		updated := fn(*root)
		return &updated
	}
	for i, existing := range root.Children {
		if replaced := Mutate(existing, targetID, fn); replaced != existing {
			copied := root.clone()
			copied.Children = append([]*Blip(nil), root.Children...)
			copied.Children[i] = replaced
			return copied
		}
	}
	return root
}

// SoftRemove detaches the node with targetID and its whole subtree. Removing
// the root returns nil: the caller is expected to trash the owning wave
// instead of truncating the tree. An absent target returns the root
// unchanged.
func SoftRemove(root *Blip, targetID string) *Blip {
	if root == nil {
		return nil
	}
	if root.ID == targetID {
		return nil
	}
	for i, existing := range root.Children {
		if existing.ID == targetID {
			copied := root.clone()
			copied.Children = append(append([]*Blip(nil), root.Children[:i]...), root.Children[i+1:]...)
			return copied
		}
		if replaced := SoftRemove(existing, targetID); replaced != existing {
			copied := root.clone()
			copied.Children = append([]*Blip(nil), root.Children...)
			copied.Children[i] = replaced
			return copied
		}
	}
	return root
}

// ToggleLock flips the read-only flag on the target node. Whether a given
// node may be locked at all (root blips of shared waves are not) is policy
// the caller enforces before calling in.
func ToggleLock(root *Blip, targetID string) *Blip {
	return Mutate(root, targetID, func(b Blip) Blip {
		b.IsReadOnly = !b.IsReadOnly
		return b
	})
}
