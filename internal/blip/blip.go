// Package blip implements the message tree a wave is built from. Every
// mutation is pure: it returns a new root and shares the untouched subtrees
// with the input, so callers must replace references wholesale instead of
// editing nodes in place.
package blip

import (
	"time"

	"github.com/sixoverme/cqec-os/internal/gadget"
)

type Version struct {
	ID        string
	BlipID    string
	Content   string
	CreatedAt time.Time
	EditorID  string
}

type Blip struct {
	ID           string
	AuthorID     string
	Content      string
	Timestamp    time.Time
	Children     []*Blip
	LastEdited   *time.Time
	LastEditorID string
	Gadgets      []gadget.Gadget
	IsReadOnly   bool
	DeletedAt    *time.Time
	Versions     []Version
}

// Row is the flat persisted shape of a blip, as read from or written to
// the blips table.
type Row struct {
	ID           string
	WaveID       string
	ParentID     string // empty for the root
	AuthorID     string
	Content      string
	Timestamp    time.Time
	Gadgets      []gadget.Gadget
	IsReadOnly   bool
	LastEdited   *time.Time
	LastEditorID string
	DeletedAt    *time.Time
}

func (b *Blip) clone() *Blip {
	copied := *b
	return &copied
}

// Find walks the tree and returns the node with the given id, or nil.
func Find(root *Blip, id string) *Blip {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := Find(child, id); found != nil {
			return found
		}
	}
	return nil
}

// Count returns the number of nodes in the tree.
func Count(root *Blip) int {
	if root == nil {
		return 0
	}
	total := 1
	for _, child := range root.Children {
		total += Count(child)
	}
	return total
}
