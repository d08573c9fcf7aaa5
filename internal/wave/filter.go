package wave

import (
	"sort"
	"strings"
)

// ViewDMs is the virtual folder of direct messages: inbox waves with the DM
// flag. It is a view, not a folder a wave can be moved into.
const ViewDMs = "dms"

// View selects the waves a list shows. Query wins over everything; an active
// domain wins over the folder.
type View struct {
	Folder   string // a Folder value or ViewDMs
	DomainID string
	Query    string
}

func (v View) Searching() bool {
	return strings.TrimSpace(v.Query) != ""
}

// Filter returns the waves matching the view, most recent activity first.
func Filter(waves []*Wave, v View) []*Wave {
	query := strings.ToLower(strings.TrimSpace(v.Query))
	var out []*Wave
	for _, w := range waves {
		if query != "" {
			if matchesQuery(w, query) {
				out = append(out, w)
			}
			continue
		}
		if v.DomainID != "" {
			if w.DomainID == v.DomainID && w.Folder != FolderTrash {
				out = append(out, w)
			}
			continue
		}
		switch v.Folder {
		case string(FolderInbox):
			if w.Folder == FolderInbox && !w.IsDM {
				out = append(out, w)
			}
		case ViewDMs:
			if w.Folder == FolderInbox && w.IsDM {
				out = append(out, w)
			}
		default:
			if string(w.Folder) == v.Folder {
				out = append(out, w)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func matchesQuery(w *Wave, query string) bool {
	if strings.Contains(strings.ToLower(w.Title), query) {
		return true
	}
	for _, tag := range w.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return w.Root != nil && strings.Contains(strings.ToLower(w.Root.Content), query)
}

// DisplayRoots drops waves whose parent is itself in the filtered set; those
// nest under the parent instead of duplicating at top level. While searching
// every match shows flat.
func DisplayRoots(filtered []*Wave, searching bool) []*Wave {
	if searching {
		return filtered
	}
	present := make(map[string]bool, len(filtered))
	for _, w := range filtered {
		present[w.ID] = true
	}
	var out []*Wave
	for _, w := range filtered {
		if w.ParentID == "" || !present[w.ParentID] {
			out = append(out, w)
		}
	}
	return out
}

// Children returns the sub-waves of parent within a filtered set.
func Children(filtered []*Wave, parentID string) []*Wave {
	var out []*Wave
	for _, w := range filtered {
		if w.ParentID == parentID {
			out = append(out, w)
		}
	}
	return out
}
